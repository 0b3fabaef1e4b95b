package authn

import (
	"context"

	"github.com/PandaCare-A14/gateway/internal/gateway/session"
)

type ctxKey int

const ctxKeySession ctxKey = iota

// WithSession attaches the authenticated session to the context.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, sess)
}

// SessionFromContext returns the session the gate attached, if any.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(ctxKeySession).(*session.Session)
	return sess, ok
}
