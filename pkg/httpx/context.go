package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID ctxKey = "user_id"
	CtxKeyRole   ctxKey = "user_role"
)

// Identity is the authenticated caller attached to the request context by
// the session gate after verification.
type Identity struct {
	UserID string
	Role   string
}

// WithIdentity attaches the verified identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, id.UserID)
	ctx = context.WithValue(ctx, CtxKeyRole, id.Role)
	return ctx
}

// IdentityFromContext retrieves the identity attached by the session gate.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	userID, ok := ctx.Value(CtxKeyUserID).(string)
	if !ok || userID == "" {
		return Identity{}, false
	}
	role, _ := ctx.Value(CtxKeyRole).(string)
	return Identity{UserID: userID, Role: role}, true
}
