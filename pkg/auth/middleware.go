package auth

import (
	"context"
	"net/http"

	"github.com/mahaj/dhuan/pkg/logger"
)

// WithClaims stores the identity snapshot in the context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, userKey, c)
}

// ClaimsFrom recovers the identity snapshot placed by Middleware.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(userKey).(*Claims)
	return c, ok
}

// Middleware validates the bearer token and threads the claims through the
// request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := FromRequest(r)
		if err != nil {
			logger.Debug("auth_rejected", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
