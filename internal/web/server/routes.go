package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conduit-lang/restful/internal/api/rest"
	"github.com/conduit-lang/restful/internal/web/cache"
	"github.com/conduit-lang/restful/internal/web/middleware"
	"github.com/conduit-lang/restful/internal/web/ratelimit"
	"github.com/conduit-lang/restful/internal/web/response"
)

// Paths served next to the API
const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// RouterConfig describes what NewRouter mounts. Optional parts are
// disabled when nil.
type RouterConfig struct {
	// API serves paths relative to Prefix
	API http.Handler
	// Prefix is the mount path of the API, e.g. "/api"
	Prefix string
	// Registry names API routes in metric labels
	Registry *rest.Registry
	Logger   *zap.Logger

	// Metrics receives request metrics and is exposed on /metrics
	Metrics *prometheus.Registry
	// Cache caches API reads
	Cache *cache.MiddlewareConfig
	// Limiter throttles API clients
	Limiter ratelimit.Limiter
	CORS    *middleware.CORSConfig
	// RequestTimeout bounds the context of API requests; zero disables it
	RequestTimeout time.Duration
	// Health reports readiness of dependencies on /healthz
	Health func(ctx context.Context) error
}

// NewRouter builds the HTTP routes of the service
func NewRouter(config RouterConfig) (http.Handler, error) {
	if config.API == nil {
		return nil, errors.New("api handler cannot be nil")
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	prefix := "/" + strings.Trim(config.Prefix, "/")
	if prefix == "/" {
		prefix = ""
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID(log), middleware.Recovery(), middleware.AccessLog(HealthPath, MetricsPath))
	if config.Metrics != nil {
		m, err := middleware.NewMetrics(config.Metrics, routeLabel(prefix, config.Registry))
		if err != nil {
			return nil, err
		}
		r.Use(m.Middleware())
	}
	if config.CORS != nil {
		r.Use(middleware.CORS(*config.CORS))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.RenderNotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.RenderMethodNotAllowed(w)
	})

	r.Get(HealthPath, healthHandler(config.Health))
	if config.Metrics != nil {
		r.Handle(MetricsPath, promhttp.HandlerFor(config.Metrics, promhttp.HandlerOpts{}))
	}

	api := chi.Chain(middleware.Deadline(config.RequestTimeout))
	if config.Limiter != nil {
		api = append(api, ratelimit.Middleware(config.Limiter, nil))
	}
	if config.Cache != nil {
		api = append(api, cache.Middleware(*config.Cache))
	}
	if prefix == "" {
		r.Handle("/*", api.Handler(config.API))
	} else {
		handler := api.Handler(http.StripPrefix(prefix, config.API))
		r.Handle(prefix, handler)
		r.Handle(prefix+"/*", handler)
	}
	return r, nil
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				response.RenderServiceUnavailable(w, err.Error())
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// routeLabel names API requests by path shape, keeping type and
// relationship names only when the registry knows them
func routeLabel(prefix string, registry *rest.Registry) middleware.RouteFunc {
	return func(r *http.Request) string {
		rel, ok := strings.CutPrefix(r.URL.Path, prefix)
		if !ok || (prefix != "" && rel != "" && rel[0] != '/') {
			return otherRoute(r)
		}
		if prefix == "" && (r.URL.Path == HealthPath || r.URL.Path == MetricsPath) {
			return r.URL.Path
		}

		route, ok := rest.Match(rel)
		if !ok {
			return prefix + "/*"
		}

		typ, relationship := "{type}", "{relationship}"
		if registry != nil {
			if info, err := registry.Lookup(route.Type); err == nil {
				typ = route.Type
				if _, known := info.Relationships[route.Relationship]; known {
					relationship = route.Relationship
				}
			}
		}

		base := prefix + "/" + typ
		switch route.Shape {
		case rest.ShapeCollection:
			return base
		case rest.ShapeResource:
			return base + "/{id}"
		case rest.ShapeRelated:
			return base + "/{id}/" + relationship
		default:
			return base + "/{id}/relationships/" + relationship
		}
	}
}

func otherRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
