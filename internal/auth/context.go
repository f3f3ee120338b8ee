package auth

import (
	"context"
)

type contextKey string

const authContextKey contextKey = "auth"

// WithContext attaches an authenticated identity to the context. The
// HTTP middleware stores the result of Authenticate here; the socket
// transport never does, since its identity lives on the session.
func WithContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// FromContext returns the identity stored by WithContext, or nil when
// the request never passed authentication.
func FromContext(ctx context.Context) *AuthContext {
	auth, ok := ctx.Value(authContextKey).(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}
