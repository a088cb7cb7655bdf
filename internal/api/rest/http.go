package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/web/response"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes limits request bodies read by HTTPHandler
const DefaultMaxBodyBytes = 10 << 20

// HTTPHandler adapts a Handler to net/http. The request path must already
// be relative to the API endpoint (see http.StripPrefix).
type HTTPHandler struct {
	handler  *Handler
	client   crud.Client
	maxBytes int64
	logger   *zap.Logger
}

// NewHTTPHandler serves h over client
func NewHTTPHandler(h *Handler, client crud.Client) *HTTPHandler {
	return &HTTPHandler{
		handler:  h,
		client:   client,
		maxBytes: DefaultMaxBodyBytes,
		logger:   h.logger,
	}
}

// WithMaxBodyBytes sets the request body limit
func (a *HTTPHandler) WithMaxBodyBytes(n int64) *HTTPHandler {
	a.maxBytes = n
	return a
}

// ServeHTTP implements http.Handler
func (a *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.RenderError(w, http.StatusRequestEntityTooLarge, "", "request body is too large")
				return
			}
			response.RenderError(w, http.StatusBadRequest, "invalid-payload", "cannot read request body")
			return
		}
	}

	resp := a.handler.Handle(r.Context(), a.client, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   body,
	})

	if err := response.RenderJSONAPI(w, resp.Status, resp.Body); err != nil {
		a.logger.Error("failed to render response", zap.Error(err))
		response.RenderInternalError(w)
	}
}
