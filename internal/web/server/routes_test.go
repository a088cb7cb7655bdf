package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/restful/internal/api/rest"
	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/memstore"
	"github.com/conduit-lang/restful/internal/orm/schema/schematest"
	"github.com/conduit-lang/restful/internal/web/cache"
	"github.com/conduit-lang/restful/internal/web/middleware"
	"github.com/conduit-lang/restful/internal/web/ratelimit"
)

type testService struct {
	handler  http.Handler
	metrics  *prometheus.Registry
	registry *rest.Registry
}

func newService(t *testing.T, mutate func(*RouterConfig)) *testService {
	t.Helper()
	meta := schematest.Blog(t)
	store := memstore.New(meta)
	_, err := store.Create(context.Background(), "user", crud.WriteArgs{Data: map[string]any{"email": "ann@example.com"}})
	require.NoError(t, err)

	h := rest.NewHandler(meta, rest.Options{Endpoint: "http://localhost/api"})
	metrics := prometheus.NewRegistry()
	backend := cache.NewMemoryBackend(cache.DefaultConfig())
	t.Cleanup(func() { _ = backend.Close() })

	config := RouterConfig{
		API:      rest.NewHTTPHandler(h, store),
		Prefix:   "/api/",
		Registry: h.Registry(),
		Metrics:  metrics,
		Cache:    &cache.MiddlewareConfig{Backend: backend},
	}
	if mutate != nil {
		mutate(&config)
	}
	router, err := NewRouter(config)
	require.NoError(t, err)
	return &testService{handler: router, metrics: metrics, registry: h.Registry()}
}

func (s *testService) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestNewRouter_RequiresAPI(t *testing.T) {
	_, err := NewRouter(RouterConfig{})
	assert.Error(t, err)
}

func TestRouter_API(t *testing.T) {
	s := newService(t, nil)

	w := s.do(http.MethodGet, "/api/user", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cache.StatusMiss, w.Header().Get(cache.HeaderCache))
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Len(t, doc["data"], 1)

	assert.Equal(t, cache.StatusHit, s.do(http.MethodGet, "/api/user", "").Header().Get(cache.HeaderCache))

	w = s.do(http.MethodPost, "/api/user", `{"data":{"type":"user","attributes":{"email":"bob@example.com"}}}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, "/api/user", "")
	assert.Equal(t, cache.StatusMiss, w.Header().Get(cache.HeaderCache))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Len(t, doc["data"], 2)
}

func TestRouter_NotFound(t *testing.T) {
	s := newService(t, nil)

	w := s.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"not-found"`)

	w = s.do(http.MethodGet, "/api/nope/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"unsupported-model"`)
}

func TestRouter_Health(t *testing.T) {
	s := newService(t, nil)
	w := s.do(http.MethodGet, HealthPath, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	s = newService(t, func(c *RouterConfig) {
		c.Health = func(context.Context) error { return errors.New("database unreachable") }
	})
	w = s.do(http.MethodGet, HealthPath, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database unreachable")
}

func TestRouter_Metrics(t *testing.T) {
	s := newService(t, nil)
	s.do(http.MethodGet, "/api/user", "")
	s.do(http.MethodGet, "/api/user/1", "")
	s.do(http.MethodGet, "/api/secret/1", "")

	series, err := testutil.GatherAndCount(s.metrics, "restful_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series)

	w := s.do(http.MethodGet, MetricsPath, "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `route="/api/user"`)
	assert.Contains(t, body, `route="/api/user/{id}"`)
	assert.Contains(t, body, `route="/api/{type}/{id}"`)
	assert.NotContains(t, body, "secret")
}

func TestRouter_RateLimit(t *testing.T) {
	limiter, err := ratelimit.NewTokenBucket(ratelimit.Config{Limit: 1, Window: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	s := newService(t, func(c *RouterConfig) { c.Limiter = limiter })
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/user", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodGet, "/api/user", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, HealthPath, "").Code, "health is not limited")
}

func TestRouter_CORS(t *testing.T) {
	cors := middleware.DefaultCORSConfig()
	s := newService(t, func(c *RouterConfig) { c.CORS = &cors })

	req := httptest.NewRequest(http.MethodOptions, "/api/user", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestRouteLabel(t *testing.T) {
	s := newService(t, nil)
	label := routeLabel("/api", s.registry)

	tests := map[string]string{
		"/api/user":                       "/api/user",
		"/api/user/1":                     "/api/user/{id}",
		"/api/user/1/posts":               "/api/user/{id}/posts",
		"/api/user/1/relationships/posts": "/api/user/{id}/relationships/posts",
		"/api/user/1/relationships/bogus": "/api/user/{id}/relationships/{relationship}",
		"/api/bogus":                      "/api/{type}",
		"/api":                            "/api/*",
		"/api/a/b/c/d/e":                  "/api/*",
		"/apis":                           "unmatched",
	}
	for path, want := range tests {
		assert.Equal(t, want, label(httptest.NewRequest(http.MethodGet, path, nil)), path)
	}

	root := routeLabel("", s.registry)
	assert.Equal(t, HealthPath, root(httptest.NewRequest(http.MethodGet, HealthPath, nil)))
	assert.Equal(t, "/user/{id}", root(httptest.NewRequest(http.MethodGet, "/user/7", nil)))
}
