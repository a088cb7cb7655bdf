package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/restful/internal/api/rest"
	"github.com/conduit-lang/restful/internal/cli/config"
	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/memstore"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/conduit-lang/restful/internal/orm/sqlstore"
	"github.com/conduit-lang/restful/internal/orm/validation"
	"github.com/conduit-lang/restful/internal/web/cache"
	"github.com/conduit-lang/restful/internal/web/middleware"
	"github.com/conduit-lang/restful/internal/web/ratelimit"
	"github.com/conduit-lang/restful/internal/web/server"
)

// service is the assembled API: store, handler and HTTP routes
type service struct {
	meta    *schema.Meta
	store   crud.Client
	db      *sql.DB
	handler *rest.Handler
	router  http.Handler

	closers []func() error
}

// Close releases the store and Redis connections
func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// openStore connects the store selected by cfg.Database
func openStore(ctx context.Context, cfg *config.Config, meta *schema.Meta, log *zap.Logger) (crud.Client, *sql.DB, error) {
	if cfg.Database.Driver == "memory" {
		return memstore.New(meta, memstore.WithLogger(log)), nil, nil
	}

	db, dialect, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	store := sqlstore.New(db, dialect, meta, sqlstore.WithLogger(log))
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return store, db, nil
}

// newService builds everything serve needs from cfg
func newService(ctx context.Context, cfg *config.Config, log *zap.Logger) (*service, error) {
	meta, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return nil, err
	}

	s := &service{meta: meta}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	s.store, s.db, err = openStore(ctx, cfg, meta, log)
	if err != nil {
		return nil, err
	}
	if s.db != nil {
		s.closers = append(s.closers, s.db.Close)
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, redisClient.Close)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	opts := rest.Options{
		Endpoint:         cfg.API.LinkEndpoint(),
		PageSize:         cfg.API.PageSize,
		Logger:           log.Named("rest"),
		ModelNameMapping: cfg.API.ModelNames,
	}
	if cfg.API.PageSize < 0 {
		opts.PageSize = rest.Unlimited
	}
	if cfg.API.Validate {
		opts.Validator = validation.NewEngine()
	}
	s.handler = rest.NewHandler(meta, opts)

	api := rest.NewHTTPHandler(s.handler, s.store)
	if cfg.Server.MaxBodyBytes > 0 {
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes)
	}

	routes := server.RouterConfig{
		API:            api,
		Prefix:         cfg.API.Prefix,
		Registry:       s.handler.Registry(),
		Logger:         log,
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         s.health,
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		routes.Metrics = reg
	}

	cacheConfig := cache.Config{DefaultTTL: cfg.Cache.TTL, Prefix: cfg.Cache.Prefix}
	switch cfg.Cache.Backend {
	case "memory":
		backend := cache.NewMemoryBackend(cacheConfig)
		s.closers = append(s.closers, backend.Close)
		routes.Cache = &cache.MiddlewareConfig{Backend: backend, TTL: cfg.Cache.TTL}
	case "redis":
		// the client is closed by its own closer
		backend := cache.NewRedisBackendWithClient(redisClient, cacheConfig)
		routes.Cache = &cache.MiddlewareConfig{Backend: backend, TTL: cfg.Cache.TTL}
	}

	limits := ratelimit.Config{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}
	switch cfg.RateLimit.Backend {
	case "memory":
		limiter, err := ratelimit.NewTokenBucket(limits)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, limiter.Close)
		routes.Limiter = limiter
	case "redis":
		limiter, err := ratelimit.NewRedisLimiter(redisClient, limits, cfg.Cache.Prefix+"ratelimit:")
		if err != nil {
			return nil, err
		}
		routes.Limiter = limiter
	}

	if cfg.CORS.Enabled {
		cors := middleware.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.CORS.AllowedOrigins
		routes.CORS = &cors
	}

	s.router, err = server.NewRouter(routes)
	if err != nil {
		return nil, err
	}
	ok = true
	return s, nil
}

func (s *service) health(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}
