package slogx

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PandaCare-A14/gateway/pkg/idx"
)

// RequestIDHeader carries the request id in and out of the gateway, so a
// request can be correlated with the upstream calls made on its behalf.
const RequestIDHeader = "X-Request-ID"

// HTTPMiddleware logs requests and attaches a contextual logger to the
// request context. The request id is echoed back to the client; quiet
// paths (health probes) skip the access log line but still get a
// contextual logger.
func HTTPMiddleware(base *slog.Logger, quiet ...string) func(http.Handler) http.Handler {
	quietSet := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietSet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = idx.New().String()
			}
			w.Header().Set(RequestIDHeader, reqID)

			logger := base.With(
				"req_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP(r),
			)

			ctx := WithContext(r.Context(), logger)
			next.ServeHTTP(rw, r.WithContext(ctx))

			if _, ok := quietSet[r.URL.Path]; ok {
				return
			}

			logger.Info("http_request",
				"status", rw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes", rw.bytes,
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// clientIP prefers the forwarded client address, since the gateway is
// normally deployed behind a TLS-terminating proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWriter struct {
	http.ResponseWriter

	status int
	bytes  int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}
