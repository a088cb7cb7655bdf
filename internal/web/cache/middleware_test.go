package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	calls  atomic.Int32
	status int
}

func (c *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.calls.Add(1)
	if r.Method != http.MethodGet {
		w.WriteHeader(c.status)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(c.status)
	_, _ = io.WriteString(w, `{"data":[]}`)
}

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMiddleware_HitAndMiss(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	h := Middleware(MiddlewareConfig{Backend: newMemory(t), CacheControl: "private, max-age=0"})(next)

	first := serve(h, http.MethodGet, "/post?sort=title", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, StatusMiss, first.Header().Get(HeaderCache))
	assert.NotEmpty(t, first.Header().Get("ETag"))
	assert.Equal(t, "private, max-age=0", first.Header().Get("Cache-Control"))

	second := serve(h, http.MethodGet, "/post?sort=title", nil)
	assert.Equal(t, StatusHit, second.Header().Get(HeaderCache))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/vnd.api+json", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestMiddleware_NotModified(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	h := Middleware(MiddlewareConfig{Backend: newMemory(t)})(next)

	etag := serve(h, http.MethodGet, "/post", nil).Header().Get("ETag")
	w := serve(h, http.MethodGet, "/post", http.Header{"If-None-Match": {etag}})

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, etag, w.Header().Get("ETag"))
}

func TestMiddleware_WriteInvalidates(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	backend := newMemory(t)
	h := Middleware(MiddlewareConfig{Backend: backend})(next)

	serve(h, http.MethodGet, "/post", nil)

	next.status = http.StatusBadRequest
	serve(h, http.MethodPost, "/post", nil)
	assert.Equal(t, StatusHit, serve(h, http.MethodGet, "/post", nil).Header().Get(HeaderCache))

	next.status = http.StatusNoContent
	w := serve(h, http.MethodDelete, "/post/1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	gen, err := backend.Generation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	next.status = http.StatusOK
	assert.Equal(t, StatusMiss, serve(h, http.MethodGet, "/post", nil).Header().Get(HeaderCache))
}

func TestMiddleware_ErrorsNotCached(t *testing.T) {
	next := &countingHandler{status: http.StatusNotFound}
	h := Middleware(MiddlewareConfig{Backend: newMemory(t)})(next)

	for i := 0; i < 2; i++ {
		w := serve(h, http.MethodGet, "/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, w.Header().Get(HeaderCache))
		assert.JSONEq(t, `{"data":[]}`, w.Body.String())
	}
	assert.Equal(t, int32(2), next.calls.Load())
}

type brokenBackend struct{ MemoryBackend }

func (*brokenBackend) Generation(context.Context) (int64, error) {
	return 0, errors.New("unreachable")
}

func TestMiddleware_BackendDown(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	h := Middleware(MiddlewareConfig{Backend: &brokenBackend{}, TTL: time.Minute})(next)

	w := serve(h, http.MethodGet, "/post", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(HeaderCache))
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}
