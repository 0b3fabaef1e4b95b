package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PandaCare-A14/gateway/internal/gateway/authn"
	"github.com/PandaCare-A14/gateway/internal/gateway/session"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/httpx"
	"github.com/PandaCare-A14/gateway/pkg/idx"
	"github.com/PandaCare-A14/gateway/pkg/jwtx"
)

// AuthHandler drives the login, register, and logout flows. Identity is
// always taken from the verified token claims, never from the submitted
// form: the auth server decides who a credential belongs to.
type AuthHandler struct {
	Sessions *session.Manager
	Auth     *authsdk.Client
	Verifier jwtx.Verifier
	Logger   *slog.Logger

	// ReleaseSession drops gate bookkeeping for a destroyed session.
	ReleaseSession func(idx.ID)
}

// HandleLogin exchanges credentials for a token pair, verifies the
// access token, and establishes the session in one write.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if !decodeCredentials(w, r, func() {
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
	}, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, r, "email and password are required")
		return
	}

	pair, err := h.Auth.Login(r.Context(), req)
	if err != nil {
		h.Logger.Info("login rejected", "email", req.Email)
		writeAuthFailure(w, r, err)
		return
	}

	h.establishSession(w, r, pair)
}

// HandleRegister creates an account and logs the new user straight in.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if !decodeCredentials(w, r, func() {
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
		req.Name = r.PostFormValue("name")
		req.Role = r.PostFormValue("role")
	}, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, r, "email and password are required")
		return
	}
	if req.Role != jwtx.RolePacilian && req.Role != jwtx.RoleCaregiver {
		writeBadRequest(w, r, "role must be pacilian or caregiver")
		return
	}

	pair, err := h.Auth.Register(r.Context(), req)
	if err != nil {
		h.Logger.Info("registration rejected", "email", req.Email)
		writeAuthFailure(w, r, err)
		return
	}

	h.establishSession(w, r, pair)
}

// HandleLogout destroys the session. Runs behind the gate, so a session
// is always present.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := authn.SessionFromContext(r.Context()); ok {
		if err := h.Sessions.Destroy(r.Context(), w, sess.ID); err != nil {
			h.Logger.Error("logout failed", "err", err)
		}
		if h.ReleaseSession != nil {
			h.ReleaseSession(sess.ID)
		}
	}
	if authn.IsAPIRequest(r) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// establishSession verifies the fresh access token and writes the
// session row with tokens and identity together.
func (h *AuthHandler) establishSession(w http.ResponseWriter, r *http.Request, pair authsdk.TokenPair) {
	claims, err := h.Verifier.Verify(r.Context(), pair.Access)
	if err != nil {
		h.Logger.Error("auth server issued an unverifiable token", "err", err)
		writeAuthFailure(w, r, authsdk.NewAuthError(
			http.StatusUnauthorized, authsdk.KindInvalidToken, "issued token failed verification"))
		return
	}

	if _, err := h.Sessions.Create(r.Context(), w, pair.Access, pair.Refresh, claims.Identity(), claims.Role); err != nil {
		h.Logger.Error("session create failed", "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "could not establish session",
		})
		return
	}

	if authn.IsAPIRequest(r) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"user_id": claims.Identity(),
			"role":    claims.Role,
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// decodeCredentials fills the request either from a JSON body or from
// form fields, reporting malformed input itself. Returns false when the
// response has already been written.
func decodeCredentials(w http.ResponseWriter, r *http.Request, fromForm func(), jsonDst any) bool {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(jsonDst); err != nil {
			writeBadRequest(w, r, "malformed JSON body")
			return false
		}
		return true
	}
	if err := r.ParseForm(); err != nil {
		writeBadRequest(w, r, "malformed form body")
		return false
	}
	fromForm()
	return true
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeAuthFailure renders an auth error: JSON for API callers, a
// redirect back to the login page for browsers.
func writeAuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	if authn.IsAPIRequest(r) {
		if authErr, ok := err.(*authsdk.AuthError); ok {
			authErr.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
