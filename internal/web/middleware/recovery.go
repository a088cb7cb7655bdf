package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/conduit-lang/restful/internal/logger"
	"github.com/conduit-lang/restful/internal/web/response"
	"go.uber.org/zap"
)

// Recovery turns a panic into a JSON:API 500 response and logs it with the
// request's logger
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				logger.FromContext(r.Context()).Error("panic recovered",
					zap.Error(err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))

				response.RenderInternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
