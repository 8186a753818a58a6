package auth

import "context"

type contextKey struct{}

// AuthContext carries the caller identity established by the upstream
// authentication layer.
type AuthContext struct {
	UserID    string
	Admin     bool
	RequestID string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

func RequestID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.RequestID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Admin
}

// Update applies fn to the AuthContext in ctx (or a zero one) and returns
// the derived context.
func Update(ctx context.Context, fn func(*AuthContext)) context.Context {
	ac, _ := FromContext(ctx)
	fn(&ac)
	return WithAuth(ctx, ac)
}
