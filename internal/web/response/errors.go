package response

import (
	"net/http"
	"strconv"
)

// ErrorObject is one member of a JSON:API error document
type ErrorObject struct {
	Status int            `json:"status"`
	Code   string         `json:"code"`
	Title  string         `json:"title"`
	Detail string         `json:"detail,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// ErrorDocument is the body of a failed response
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// NewError builds a single-error document
func NewError(status int, code, title, detail string) *ErrorDocument {
	if title == "" {
		title = http.StatusText(status)
	}
	return &ErrorDocument{Errors: []ErrorObject{{
		Status: status,
		Code:   code,
		Title:  title,
		Detail: detail,
	}}}
}

// RenderError writes a single-error document. Code defaults to the
// kebab-case form of the status text.
func RenderError(w http.ResponseWriter, status int, code, detail string) {
	if code == "" {
		code = errorCodeFromStatus(status)
	}
	if err := RenderJSONAPI(w, status, NewError(status, code, "", detail)); err != nil {
		http.Error(w, http.StatusText(status), status)
	}
}

// RenderNotFound renders a 404 for paths outside the API
func RenderNotFound(w http.ResponseWriter, detail string) {
	RenderError(w, http.StatusNotFound, "not-found", detail)
}

// RenderMethodNotAllowed renders a 405 Method Not Allowed error
func RenderMethodNotAllowed(w http.ResponseWriter) {
	RenderError(w, http.StatusMethodNotAllowed, "method-not-allowed", "")
}

// RenderInternalError renders a 500 Internal Server Error without exposing
// the cause
func RenderInternalError(w http.ResponseWriter) {
	RenderError(w, http.StatusInternalServerError, "internal-error", "")
}

// RenderServiceUnavailable renders a 503 Service Unavailable error
func RenderServiceUnavailable(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Service temporarily unavailable"
	}
	RenderError(w, http.StatusServiceUnavailable, "service-unavailable", detail)
}

// errorCodeFromStatus maps HTTP status codes to error codes
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad-request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not-found"
	case http.StatusMethodNotAllowed:
		return "method-not-allowed"
	case http.StatusNotAcceptable:
		return "not-acceptable"
	case http.StatusRequestEntityTooLarge:
		return "request-too-large"
	case http.StatusUnsupportedMediaType:
		return "unsupported-media-type"
	case http.StatusTooManyRequests:
		return "too-many-requests"
	case http.StatusInternalServerError:
		return "internal-error"
	case http.StatusServiceUnavailable:
		return "service-unavailable"
	case http.StatusGatewayTimeout:
		return "gateway-timeout"
	default:
		return "error-" + strconv.Itoa(status)
	}
}
