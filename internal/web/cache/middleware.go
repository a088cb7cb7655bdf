package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/restful/internal/logger"
)

// Header values reported in X-Cache
const (
	HeaderCache = "X-Cache"
	StatusHit   = "HIT"
	StatusMiss  = "MISS"
)

// MiddlewareConfig configures the response cache middleware
type MiddlewareConfig struct {
	Backend Backend
	// TTL for stored responses; zero uses the backend default
	TTL time.Duration
	// CacheControl is sent with every cacheable response when set
	CacheControl string
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
	Body        []byte `json:"body"`
}

// Middleware caches successful GET responses and answers conditional
// requests with 304. A successful request of any other method advances the
// backend generation, invalidating everything cached before it. Backend
// failures are logged and the request is served uncached.
func Middleware(config MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				serveWrite(config, next, w, r)
				return
			}

			ctx := r.Context()
			log := logger.FromContext(ctx)

			gen, err := config.Backend.Generation(ctx)
			if err != nil {
				log.Warn("cache generation unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			key := Key(gen, r)

			if raw, err := config.Backend.Get(ctx, key); err == nil {
				var cached cachedResponse
				if err := json.Unmarshal(raw, &cached); err == nil {
					writeCached(config, w, r, cached, StatusHit)
					return
				}
				log.Warn("discarding unreadable cache entry", zap.String("key", key))
			} else if !errors.Is(err, ErrMiss) {
				log.Warn("cache lookup failed", zap.Error(err))
			}

			rec := &bufferedWriter{header: w.Header(), status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status != http.StatusOK {
				rec.flush(w)
				return
			}

			cached := cachedResponse{
				Status:      rec.status,
				ContentType: w.Header().Get("Content-Type"),
				ETag:        GenerateETag(rec.body.Bytes()),
				Body:        rec.body.Bytes(),
			}
			if raw, err := json.Marshal(cached); err == nil {
				if err := config.Backend.Set(ctx, key, raw, config.TTL); err != nil {
					log.Warn("cache store failed", zap.Error(err))
				}
			}
			writeCached(config, w, r, cached, StatusMiss)
		})
	}
}

func serveWrite(config MiddlewareConfig, next http.Handler, w http.ResponseWriter, r *http.Request) {
	rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, r)
	if r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return
	}
	if rec.status >= 200 && rec.status < 300 {
		if _, err := config.Backend.Advance(r.Context()); err != nil {
			logger.FromContext(r.Context()).Error("cache invalidation failed", zap.Error(err))
		}
	}
}

func writeCached(config MiddlewareConfig, w http.ResponseWriter, r *http.Request, cached cachedResponse, status string) {
	h := w.Header()
	h.Set("ETag", cached.ETag)
	h.Set(HeaderCache, status)
	if config.CacheControl != "" {
		h.Set("Cache-Control", config.CacheControl)
	}

	if MatchesETag(r.Header.Get("If-None-Match"), cached.ETag) {
		h.Del("Content-Type")
		h.Del("Content-Length")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if cached.ContentType != "" {
		h.Set("Content-Type", cached.ContentType)
	}
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}

// bufferedWriter holds the whole response so its ETag can be sent before
// the body
type bufferedWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusWriter) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusWriter) Write(p []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(p)
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }
