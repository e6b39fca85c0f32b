package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

type callerKey struct{}

// WithCaller attaches the authenticated party to ctx.
func WithCaller(ctx context.Context, id negotiation.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerFrom returns the authenticated party, if any.
func CallerFrom(ctx context.Context) (negotiation.Identity, bool) {
	id, ok := ctx.Value(callerKey{}).(negotiation.Identity)
	return id, ok
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// RejectFunc writes the response for an unauthenticated request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, detail string)

// NewMiddleware creates bearer token middleware.
// If validator is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(validator *Validator, reject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				reject(w, r, "Missing Authorization header")
				return
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || tokenStr == "" {
				reject(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if validator == nil {
				reject(w, r, "Authentication not configured")
				return
			}

			caller, err := validator.Validate(tokenStr)
			if err != nil {
				reject(w, r, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
