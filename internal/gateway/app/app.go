// Package app assembles the gateway: configuration, session store,
// remote key set, upstream clients, HTTP server, and the housekeeping
// loop that sweeps expired sessions.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PandaCare-A14/gateway/internal/gateway/apiclient"
	gatewayhttp "github.com/PandaCare-A14/gateway/internal/gateway/http"
	"github.com/PandaCare-A14/gateway/internal/gateway/session"
	"github.com/PandaCare-A14/gateway/internal/gateway/session/sqlite"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/cryptox"
	"github.com/PandaCare-A14/gateway/pkg/jwtx"
	"github.com/PandaCare-A14/gateway/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the gateway with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store    *sqlite.Store
	sessions *session.Manager
	keys     *jwtx.RemoteKeySet

	server *http.Server
	router *gatewayhttp.Router

	housekeepingDone chan struct{}
	housekeepingStop chan struct{}
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "pandacare-gateway",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		housekeepingDone: make(chan struct{}),
		housekeepingStop: make(chan struct{}),
	}

	// Seal key for tokens at rest, before the store first writes.
	cryptox.SetSealKeyPath(cfg.SealKeyFile)

	store, err := sqlite.NewStore(cfg.DatabaseFile)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if err := store.ApplyMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	app.store = store

	app.sessions = session.NewManager(store, cfg.SessionTTL, cfg.Env == "dev")
	app.keys = jwtx.NewRemoteKeySet(cfg.JWKSURL, nil)

	// Warm the key cache so the first request doesn't pay the fetch.
	// The gateway still starts if the auth server is briefly down; keys
	// are fetched on first use instead.
	ctx, cancel := context.WithTimeout(context.Background(), jwtx.DefaultJWKSTimeout)
	defer cancel()
	if err := app.keys.Refresh(ctx); err != nil {
		app.logger.Warn("initial JWKS fetch failed, will retry on demand", "err", err)
	}

	verifier := jwtx.NewVerifierRS256(app.keys, cfg.Issuer)
	authClient := authsdk.NewClient(cfg.AuthBaseURL, nil)
	apiClient := apiclient.New(cfg.APIBaseURL, nil, authClient, app.sessions)

	var chatClient *apiclient.Client
	if cfg.ChatBaseURL != "" {
		chatClient = apiclient.New(cfg.ChatBaseURL, nil, authClient, app.sessions)
	}

	app.router = gatewayhttp.NewRouter(
		app.sessions, app.store, verifier, app.keys,
		authClient, apiClient, chatClient, cfg.ChatBaseURL,
		BuildVersion, app.logger,
	)
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	go app.housekeepingLoop()

	app.logger.Info("gateway starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "err", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "err", err)
		}
	}

	close(app.housekeepingStop)
	<-app.housekeepingDone

	if err := app.store.Close(); err != nil {
		app.logger.Error("error closing session store", "err", err)
	}

	app.logger.Info("gateway stopped")
	return nil
}

// housekeepingLoop periodically deletes expired session rows.
func (app *Application) housekeepingLoop() {
	defer close(app.housekeepingDone)

	ticker := time.NewTicker(app.cfg.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := app.store.DeleteExpired(ctx, time.Now().UTC())
			cancel()
			if err != nil {
				app.logger.Error("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				app.logger.Info("swept expired sessions", "count", n)
			}
		case <-app.housekeepingStop:
			return
		}
	}
}
