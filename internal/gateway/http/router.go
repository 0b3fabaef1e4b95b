// Package http wires the gateway's routes: the auth flows (login,
// register, logout), the proxied resource routes guarded by role and
// ownership checks, and the health probes.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/PandaCare-A14/gateway/internal/gateway/apiclient"
	"github.com/PandaCare-A14/gateway/internal/gateway/authn"
	"github.com/PandaCare-A14/gateway/internal/gateway/authz"
	"github.com/PandaCare-A14/gateway/internal/gateway/session"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/httpx"
	"github.com/PandaCare-A14/gateway/pkg/jwtx"
	"github.com/PandaCare-A14/gateway/pkg/slogx"
)

// UnauthenticatedPaths are the routes the session gate skips.
var UnauthenticatedPaths = []string{"/login", "/register", "/livez", "/readyz"}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	sessions     *session.Manager
	store        session.Store
	verifier     jwtx.Verifier
	keys         *jwtx.RemoteKeySet
	auth         *authsdk.Client
	api          *apiclient.Client
	chat         *apiclient.Client
	chatURL      string
	gate         *authn.Gate
	guard        *authz.Guard
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

func NewRouter(
	sessions *session.Manager,
	store session.Store,
	verifier jwtx.Verifier,
	keys *jwtx.RemoteKeySet,
	auth *authsdk.Client,
	api *apiclient.Client,
	chat *apiclient.Client,
	chatURL string,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		sessions:     sessions,
		store:        store,
		verifier:     verifier,
		keys:         keys,
		auth:         auth,
		api:          api,
		chat:         chat,
		chatURL:      chatURL,
		gate:         authn.New(sessions, verifier, auth, "/login", UnauthenticatedPaths),
		guard:        authz.NewGuard("/", "/login"),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	// Set default middleware chain. The gate runs inside the logging
	// middleware so rejections are logged with a request id; probe
	// traffic stays out of the access log.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger, "/livez", "/readyz"),
		r.gate.Middleware,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerProfiles()
	r.registerSchedules()
	r.registerAppointments()
	r.registerRatings()
	r.registerChat()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	authHandler := &AuthHandler{
		Sessions:       r.sessions,
		Auth:           r.auth,
		Verifier:       r.verifier,
		Logger:         r.logger,
		ReleaseSession: r.gate.ReleaseSession,
	}

	// Credential endpoints take the strictest limit: they are the brute
	// force surface.
	r.Mux.Handle("POST /login",
		httpx.Chain(http.HandlerFunc(authHandler.HandleLogin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /register",
		httpx.Chain(http.HandlerFunc(authHandler.HandleRegister),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /logout", http.HandlerFunc(authHandler.HandleLogout))
}

func (r *Router) registerProfiles() {
	proxy := &ProxyHandler{API: r.api, Logger: r.logger}

	// Profiles are reachable only by their owner.
	r.Mux.Handle("GET /api/profiles/{userId}",
		httpx.Chain(proxy,
			r.guard.RequireOwner("userId"),
		))
	r.Mux.Handle("PUT /api/profiles/{userId}",
		httpx.Chain(proxy,
			r.guard.RequireOwner("userId"),
		))
}

func (r *Router) registerSchedules() {
	proxy := &ProxyHandler{API: r.api, Logger: r.logger}

	// Caregivers manage their own availability.
	r.Mux.Handle("GET /api/schedules",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RoleCaregiver),
		))
	r.Mux.Handle("POST /api/schedules",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RoleCaregiver),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		))
	r.Mux.Handle("DELETE /api/schedules/{scheduleId}",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RoleCaregiver),
		))

	// Pacilians browse caregiver availability read-only.
	r.Mux.Handle("GET /api/caregivers", proxy)
	r.Mux.Handle("GET /api/caregivers/{caregiverId}/schedules", proxy)
}

func (r *Router) registerAppointments() {
	proxy := &ProxyHandler{API: r.api, Logger: r.logger}

	// Any authenticated user sees their own appointment list; the
	// resource API scopes the result to the bearer token's subject.
	r.Mux.Handle("GET /api/appointments", proxy)
	r.Mux.Handle("GET /api/appointments/{appointmentId}",
		proxy)

	// Only pacilians book; only caregivers accept or reject.
	r.Mux.Handle("POST /api/appointments",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RolePacilian),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		))
	r.Mux.Handle("POST /api/appointments/{appointmentId}/accept",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RoleCaregiver),
		))
	r.Mux.Handle("POST /api/appointments/{appointmentId}/reject",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RoleCaregiver),
		))
	r.Mux.Handle("DELETE /api/appointments/{appointmentId}",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RolePacilian),
		))
}

func (r *Router) registerRatings() {
	proxy := &ProxyHandler{API: r.api, Logger: r.logger}

	// A pacilian's own rating history is theirs alone; caregiver rating
	// summaries are public to any authenticated user.
	r.Mux.Handle("GET /api/pacilians/{pacilianId}/ratings",
		httpx.Chain(proxy,
			r.guard.RequireOwner("pacilianId"),
		))
	r.Mux.Handle("GET /api/caregivers/{caregiverId}/ratings", proxy)

	// Only the pacilian who attended a consultation rates it.
	r.Mux.Handle("GET /api/consultations/{consultationId}/rating/status",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RolePacilian),
		))
	r.Mux.Handle("POST /api/consultations/{consultationId}/ratings",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RolePacilian),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		))
	r.Mux.Handle("PUT /api/consultations/{consultationId}/ratings",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RolePacilian),
		))
	r.Mux.Handle("DELETE /api/consultations/{consultationId}/ratings",
		httpx.Chain(proxy,
			r.guard.RequireRole(jwtx.RolePacilian),
		))
}

func (r *Router) registerChat() {
	chatHandler := &ChatHandler{Chat: r.chat, ChatURL: r.chatURL, Logger: r.logger}

	r.Mux.Handle("GET /api/chat/api-url", http.HandlerFunc(chatHandler.HandleAPIURL))
	r.Mux.Handle("GET /api/chat/token", http.HandlerFunc(chatHandler.HandleToken))
	r.Mux.Handle("GET /api/chat/rooms", http.HandlerFunc(chatHandler.HandleRooms))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		))
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		))
}
