package http

import (
	"log/slog"
	"net/http"

	"github.com/PandaCare-A14/gateway/internal/gateway/apiclient"
	"github.com/PandaCare-A14/gateway/internal/gateway/authn"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/httpx"
)

// ChatHandler bridges the browser to the realtime chat service, which
// the client talks to directly over websockets. The gateway hands out
// the chat service's location and the caller's current access token, and
// proxies the room listing so the page can render without a second
// auth round trip.
type ChatHandler struct {
	Chat    *apiclient.Client // nil when chat is not configured
	ChatURL string
	Logger  *slog.Logger
}

func (h *ChatHandler) configured(w http.ResponseWriter) bool {
	if h.ChatURL == "" || h.Chat == nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "chat is not configured",
		})
		return false
	}
	return true
}

// HandleAPIURL tells the client where the chat service lives.
func (h *ChatHandler) HandleAPIURL(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"chat_api_url": h.ChatURL,
	})
}

// HandleToken hands the session's current access token to the client so
// it can authenticate its own connection to the chat service. The token
// the gate verified for this request is the freshest one the session
// holds.
func (h *ChatHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	sess, ok := authn.SessionFromContext(r.Context())
	if !ok {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"access_token": sess.AccessToken,
	})
}

// HandleRooms proxies the chat room listing under the session's bearer
// token.
func (h *ChatHandler) HandleRooms(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	sess, ok := authn.SessionFromContext(r.Context())
	if !ok {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}

	resp, err := h.Chat.Do(r.Context(), sess, http.MethodGet, "/api/rest/chat/rooms", nil, nil)
	if err != nil {
		h.Logger.Error("chat rooms fetch failed", "err", err)
		httpx.WriteJSON(w, http.StatusBadGateway, map[string]string{
			"error": "chat service unavailable",
		})
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
