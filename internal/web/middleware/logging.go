package middleware

import (
	"net/http"
	"time"

	"github.com/conduit-lang/restful/internal/logger"
	"go.uber.org/zap"
)

// AccessLog writes one log entry per request. Paths in skip are not logged.
func AccessLog(skip ...string) Middleware {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newStatusRecorder(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.Int("status", rw.status),
				zap.Int("bytes", rw.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			l := logger.FromContext(r.Context())
			switch {
			case rw.status >= http.StatusInternalServerError:
				l.Error("request failed", fields...)
			case rw.status >= http.StatusBadRequest:
				l.Info("request rejected", fields...)
			default:
				l.Info("request served", fields...)
			}
		})
	}
}
