// Package authz holds the post-authentication guards: role checks and
// resource-ownership checks. Guards assume the session gate already ran
// and attached a verified identity; a missing identity is treated as
// unauthenticated, not forbidden.
package authz

import (
	"net/http"

	"github.com/PandaCare-A14/gateway/internal/gateway/authn"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/httpx"
	"github.com/PandaCare-A14/gateway/pkg/slogx"
)

// Guard renders authorization failures. Browser routes are sent to
// homeURL so users land somewhere useful instead of a bare 403 page.
type Guard struct {
	homeURL  string
	loginURL string
}

// NewGuard builds a Guard with the redirect targets for browser routes.
func NewGuard(homeURL, loginURL string) *Guard {
	return &Guard{homeURL: homeURL, loginURL: loginURL}
}

// RequireRole restricts a route to callers whose normalized role matches
// exactly. A forbidden caller keeps their session; authorization never
// mutates authentication state.
func (g *Guard) RequireRole(role string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := httpx.IdentityFromContext(r.Context())
			if !ok {
				g.unauthenticated(w, r)
				return
			}
			if id.Role != role {
				slogx.FromContext(r.Context()).Warn("role denied",
					"required", role, "actual", id.Role)
				g.forbidden(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwner restricts a route to the user whose id appears in the
// named path parameter. Both sides compare as strings, so numeric and
// UUID identifier schemes behave the same.
func (g *Guard) RequireOwner(pathParam string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := httpx.IdentityFromContext(r.Context())
			if !ok {
				g.unauthenticated(w, r)
				return
			}
			owner := r.PathValue(pathParam)
			if owner == "" || owner != id.UserID {
				slogx.FromContext(r.Context()).Warn("ownership denied",
					"param", pathParam, "owner", owner)
				g.forbidden(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) forbidden(w http.ResponseWriter, r *http.Request) {
	if authn.IsAPIRequest(r) {
		authsdk.ErrForbidden.WriteError(w)
		return
	}
	http.Redirect(w, r, g.homeURL, http.StatusSeeOther)
}

func (g *Guard) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if authn.IsAPIRequest(r) {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}
	http.Redirect(w, r, g.loginURL, http.StatusSeeOther)
}
