package auth

import (
	"context"
	"net/http"

	"librarium/internal/access"
	"librarium/internal/httpx"
)

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token.
func Middleware(i *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := i.Parse(r.Header.Get("Authorization"))
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "", "unauthenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Optional attaches the caller when a valid token is present and lets
// anonymous requests through.
func Optional(i *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := i.Parse(r.Header.Get("Authorization")); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require lets the request through only if the caller's role holds act on res.
func Require(m *access.Matrix, res access.Resource, act access.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "", "unauthenticated")
				return
			}
			if !m.Allows(id.Role, res, act) {
				httpx.WriteError(w, http.StatusForbidden, "", "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
