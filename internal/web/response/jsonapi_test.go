package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestIsJSONAPI verifies the IsJSONAPI function correctly identifies JSON:API requests
func TestIsJSONAPI(t *testing.T) {
	tests := []struct {
		name   string
		accept string
		want   bool
	}{
		{
			name:   "JSON:API media type",
			accept: "application/vnd.api+json",
			want:   true,
		},
		{
			name:   "JSON:API with parameters",
			accept: "application/vnd.api+json; charset=utf-8",
			want:   true,
		},
		{
			name:   "Regular JSON",
			accept: "application/json",
			want:   false,
		},
		{
			name:   "Empty accept header",
			accept: "",
			want:   false,
		},
		{
			name:   "Wildcard accept",
			accept: "*/*",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Accept", tt.accept)

			got := IsJSONAPI(req)
			if got != tt.want {
				t.Errorf("IsJSONAPI() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderJSONAPI(t *testing.T) {
	t.Run("sets correct content type", func(t *testing.T) {
		w := httptest.NewRecorder()
		payload := map[string]any{"data": []any{map[string]any{"type": "user", "id": "1"}}}

		if err := RenderJSONAPI(w, http.StatusOK, payload); err != nil {
			t.Fatalf("RenderJSONAPI() error = %v", err)
		}
		if ct := w.Header().Get("Content-Type"); ct != JSONAPIMediaType {
			t.Errorf("Content-Type = %v, want %v", ct, JSONAPIMediaType)
		}
		if w.Code != http.StatusOK {
			t.Errorf("status = %v, want %v", w.Code, http.StatusOK)
		}

		var got map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if _, ok := got["data"]; !ok {
			t.Error("missing data member")
		}
	})

	t.Run("nil payload writes empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		if err := RenderJSONAPI(w, http.StatusNoContent, nil); err != nil {
			t.Fatalf("RenderJSONAPI() error = %v", err)
		}
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %v, want %v", w.Code, http.StatusNoContent)
		}
		if w.Body.Len() != 0 {
			t.Errorf("body = %q, want empty", w.Body.String())
		}
	})

	t.Run("marshal failure writes nothing", func(t *testing.T) {
		w := httptest.NewRecorder()
		if err := RenderJSONAPI(w, http.StatusOK, map[string]any{"bad": make(chan int)}); err == nil {
			t.Fatal("expected error")
		}
		if w.Body.Len() != 0 || w.Header().Get("Content-Type") != "" {
			t.Error("response was written despite marshal failure")
		}
	})
}
