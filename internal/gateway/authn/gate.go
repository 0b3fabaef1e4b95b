// Package authn implements the session gate: every protected request
// passes through it before reaching a handler. The gate pulls the token
// pair out of the server-side session, verifies the access token against
// the auth server's JWKS, transparently refreshes an expired token at
// most once, and attaches the verified identity to the request context.
package authn

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/PandaCare-A14/gateway/internal/gateway/session"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/httpx"
	"github.com/PandaCare-A14/gateway/pkg/idx"
	"github.com/PandaCare-A14/gateway/pkg/jwtx"
	"github.com/PandaCare-A14/gateway/pkg/slogx"
)

// Refresher exchanges a refresh token for a new pair. Satisfied by
// *authsdk.Client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (authsdk.TokenPair, error)
}

// Gate is the authentication middleware.
type Gate struct {
	sessions *session.Manager
	verifier jwtx.Verifier
	refresh  Refresher
	loginURL string

	// allow lists exact paths that skip authentication entirely.
	allow map[string]struct{}

	// refreshLocks serializes refresh per session, so two tabs racing an
	// expired token perform one refresh between them.
	refreshLocks sync.Map // map[idx.ID]*sync.Mutex
}

// New builds a gate. allowlist paths (e.g. "/login") bypass the gate.
func New(sessions *session.Manager, verifier jwtx.Verifier, refresh Refresher, loginURL string, allowlist []string) *Gate {
	allow := make(map[string]struct{}, len(allowlist))
	for _, p := range allowlist {
		allow[p] = struct{}{}
	}
	return &Gate{
		sessions: sessions,
		verifier: verifier,
		refresh:  refresh,
		loginURL: loginURL,
		allow:    allow,
	}
}

// Middleware runs the per-request state machine:
//
//	NoToken -> reject
//	Verifying -> Valid | Invalid | Expired
//	Expired -> Refreshing -> re-verify once -> Valid | Invalid
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := g.allow[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		log := slogx.FromContext(ctx)

		sess, err := g.sessions.Fetch(ctx, r)
		if err != nil {
			log.Error("session fetch failed", "err", err)
			g.reject(w, r, authsdk.ErrUnauthenticated)
			return
		}
		if sess == nil || !sess.HasTokens() {
			// NoToken: resolver and verifier are never consulted.
			g.reject(w, r, authsdk.ErrUnauthenticated)
			return
		}

		claims, err := g.verifier.Verify(ctx, sess.AccessToken)
		switch {
		case err == nil:
			// Valid
		case errors.Is(err, jwtx.ErrExpired):
			claims, err = g.refreshAndReverify(ctx, w, r, sess)
			if err != nil {
				return // refreshAndReverify already rejected
			}
		default:
			log.Warn("token verification failed", "err", err)
			g.clearAndReject(w, r, sess.ID, classify(err))
			return
		}

		sess.UserID = claims.Identity()
		sess.Role = claims.Role
		ctx = slogx.With(ctx, "session_id", sess.ID.String(), "user_id", sess.UserID)
		ctx = httpx.WithIdentity(ctx, httpx.Identity{
			UserID: sess.UserID,
			Role:   sess.Role,
		})
		ctx = WithSession(ctx, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// refreshAndReverify performs the Refreshing state: at most one refresh,
// then exactly one re-verification. A token that is still bad after a
// successful refresh is Invalid, never a second Expired. On any failure
// the session is cleared and the request rejected; the caller just
// returns.
func (g *Gate) refreshAndReverify(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *session.Session) (jwtx.Claims, error) {
	log := slogx.FromContext(ctx)

	mu := g.lockFor(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	// Another request for this session may have refreshed while we waited.
	// Reuse its result instead of spending our refresh on a dead token.
	accessToken := sess.AccessToken
	refreshToken := sess.RefreshToken
	if current, err := g.sessions.Peek(ctx, sess.ID); err == nil && current.AccessToken != sess.AccessToken {
		accessToken = current.AccessToken
		refreshToken = current.RefreshToken
		if claims, err := g.verifier.Verify(ctx, accessToken); err == nil {
			sess.AccessToken = accessToken
			sess.RefreshToken = refreshToken
			return claims, nil
		}
		// Still unusable, fall through and refresh ourselves.
	}

	pair, err := g.refresh.Refresh(ctx, refreshToken)
	if err != nil {
		log.Warn("token refresh failed", "err", err)
		g.clearAndReject(w, r, sess.ID, classify(err))
		return jwtx.Claims{}, err
	}

	claims, err := g.verifier.Verify(ctx, pair.Access)
	if err != nil {
		// The freshly minted token is bad. Terminal, no second refresh.
		log.Warn("refreshed token failed verification", "err", err)
		g.clearAndReject(w, r, sess.ID, authsdk.KindInvalidToken)
		return jwtx.Claims{}, err
	}

	if err := g.sessions.UpdateTokens(ctx, sess.ID, pair.Access, pair.Refresh, claims.Identity(), claims.Role); err != nil {
		log.Error("session token update failed", "err", err)
		g.clearAndReject(w, r, sess.ID, authsdk.KindRefreshFailed)
		return jwtx.Claims{}, err
	}
	sess.AccessToken = pair.Access
	sess.RefreshToken = pair.Refresh

	return claims, nil
}

func (g *Gate) lockFor(id idx.ID) *sync.Mutex {
	mu, _ := g.refreshLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ReleaseSession drops the per-session refresh lock once the session no
// longer exists. Logout calls this; terminal auth failures release via
// clearAndReject.
func (g *Gate) ReleaseSession(id idx.ID) {
	g.refreshLocks.Delete(id)
}

// clearAndReject destroys the session exactly once and renders the reject.
func (g *Gate) clearAndReject(w http.ResponseWriter, r *http.Request, id idx.ID, kind authsdk.Kind) {
	_ = g.sessions.Destroy(r.Context(), w, id)
	g.ReleaseSession(id)
	g.reject(w, r, authsdk.NewAuthError(http.StatusUnauthorized, kind, "please log in to continue"))
}

// reject renders the terminal failure: API-style routes get structured
// JSON, browser routes get a redirect to the login page.
func (g *Gate) reject(w http.ResponseWriter, r *http.Request, authErr *authsdk.AuthError) {
	if IsAPIRequest(r) {
		authErr.WriteError(w)
		return
	}
	http.Redirect(w, r, g.loginURL, http.StatusSeeOther)
}

// IsAPIRequest reports whether the route expects JSON errors rather than
// browser redirects.
func IsAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// classify maps verifier/refresher failures onto the structured kinds
// rendered at the boundary.
func classify(err error) authsdk.Kind {
	var authErr *authsdk.AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}

	switch {
	case errors.Is(err, jwtx.ErrKeyFetch), errors.Is(err, jwtx.ErrNoKey):
		return authsdk.KindKeyFetch
	case errors.Is(err, jwtx.ErrExpired):
		return authsdk.KindExpired
	default:
		return authsdk.KindInvalidToken
	}
}
