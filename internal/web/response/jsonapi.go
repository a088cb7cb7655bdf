// Package response writes JSON:API documents and error documents to HTTP
// responses.
package response

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"
)

const (
	// JSONAPIMediaType is the official JSON:API media type
	JSONAPIMediaType = "application/vnd.api+json"
)

// IsJSONAPI checks if the request accepts JSON:API format
func IsJSONAPI(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}

	// Parse media type to handle parameters like charset
	mediaType, _, err := mime.ParseMediaType(accept)
	if err != nil {
		return strings.Contains(accept, JSONAPIMediaType)
	}

	return mediaType == JSONAPIMediaType
}

// RenderJSONAPI marshals payload as a JSON:API document. A nil payload
// writes the status with an empty body.
func RenderJSONAPI(w http.ResponseWriter, status int, payload any) error {
	if payload == nil {
		w.WriteHeader(status)
		return nil
	}

	// Marshal FIRST, before touching the response
	// This avoids partial writes if marshaling fails
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", JSONAPIMediaType)
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}
