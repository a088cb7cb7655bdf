package profiling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestHandler(t *testing.T) {
	h := Handler(DefaultConfig())

	tests := []struct {
		path   string
		status int
	}{
		{"/debug/pprof/", http.StatusOK},
		{"/debug/pprof/cmdline", http.StatusOK},
		{"/debug/pprof/goroutine?debug=1", http.StatusOK},
		{"/debug/pprof/heap", http.StatusOK},
		{"/debug/pprof/stats", http.StatusOK},
		{"/api/user", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("GET %s: expected %d, got %d", tt.path, tt.status, rec.Code)
			}
		})
	}
}

func TestRegisterRoutes_CustomPath(t *testing.T) {
	r := chi.NewRouter()
	RegisterRoutes(r, Config{Path: "/internal/pprof"})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "goroutine") {
		t.Error("expected the profile index")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPath+"/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on the default path, got %d", rec.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	var stats Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Goroutines <= 0 || stats.NumCPU <= 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Memory.Sys == 0 {
		t.Error("expected non-zero sys memory")
	}
}
