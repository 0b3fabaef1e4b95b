package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/PandaCare-A14/gateway/internal/gateway/apiclient"
	"github.com/PandaCare-A14/gateway/internal/gateway/authn"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/httpx"
)

// maxProxyBody caps request bodies forwarded downstream.
const maxProxyBody = 1 << 20 // 1 MiB

// ProxyHandler forwards a request to the resource API under the
// session's bearer token and relays the reply. The path is forwarded
// unchanged: the gateway's protected routes mirror the downstream API.
type ProxyHandler struct {
	API    *apiclient.Client
	Logger *slog.Logger
}

func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, ok := authn.SessionFromContext(r.Context())
	if !ok {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}

	var body []byte
	if r.Body != nil && r.ContentLength != 0 {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
		if err != nil {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error": "could not read request body",
			})
			return
		}
	}

	resp, err := p.API.Do(r.Context(), sess, r.Method, r.URL.Path, r.URL.Query(), body)
	if err != nil {
		p.Logger.Error("downstream request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)

		var authErr *authsdk.AuthError
		if errors.As(err, &authErr) {
			authErr.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusBadGateway, map[string]string{
			"error": "upstream service unavailable",
		})
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}
