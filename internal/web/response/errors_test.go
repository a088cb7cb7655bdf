package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeErrors(t *testing.T, w *httptest.ResponseRecorder) ErrorDocument {
	t.Helper()
	var doc ErrorDocument
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(doc.Errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(doc.Errors))
	}
	return doc
}

func TestRenderError(t *testing.T) {
	w := httptest.NewRecorder()

	RenderError(w, http.StatusBadRequest, "invalid-filter", "bad operator")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %v, want %v", w.Code, http.StatusBadRequest)
	}
	if ct := w.Header().Get("Content-Type"); ct != JSONAPIMediaType {
		t.Errorf("Content-Type = %v", ct)
	}

	e := decodeErrors(t, w).Errors[0]
	if e.Code != "invalid-filter" || e.Detail != "bad operator" || e.Status != 400 {
		t.Errorf("unexpected error object: %+v", e)
	}
	if e.Title != "Bad Request" {
		t.Errorf("title = %q, want status text", e.Title)
	}
}

func TestRenderError_DefaultCode(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusNotFound, "not-found"},
		{http.StatusTooManyRequests, "too-many-requests"},
		{http.StatusTeapot, "error-418"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		RenderError(w, tt.status, "", "")
		if got := decodeErrors(t, w).Errors[0].Code; got != tt.code {
			t.Errorf("status %d: code = %q, want %q", tt.status, got, tt.code)
		}
	}
}

func TestRenderHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	RenderInternalError(w)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
	if e := decodeErrors(t, w).Errors[0]; e.Detail != "" {
		t.Errorf("internal error leaked detail %q", e.Detail)
	}

	w = httptest.NewRecorder()
	RenderServiceUnavailable(w, "")
	if e := decodeErrors(t, w).Errors[0]; e.Detail != "Service temporarily unavailable" {
		t.Errorf("detail = %q", e.Detail)
	}

	w = httptest.NewRecorder()
	RenderMethodNotAllowed(w)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", w.Code)
	}
}
