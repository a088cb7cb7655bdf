package middleware

import (
	"context"
	"net/http"
	"time"
)

// Deadline bounds the request context. Store calls made with the context
// fail once the deadline passes. A zero timeout disables the middleware.
func Deadline(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
