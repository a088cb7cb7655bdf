package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conduit-lang/restful/internal/web/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, f *fixture, maxBytes int64) *httptest.Server {
	t.Helper()
	api := NewHTTPHandler(f.h, f.client)
	if maxBytes > 0 {
		api.WithMaxBodyBytes(maxBytes)
	}
	srv := httptest.NewServer(http.StripPrefix("/api", api))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPHandler(t *testing.T) {
	f := newFixture(t, Options{}).seed()
	srv := newTestServer(t, f, 0)

	resp, err := http.Get(srv.URL + "/api/post?filter[viewCount$gt]=5")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, response.JSONAPIMediaType, resp.Header.Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, []string{"1"}, ids(dataList(t, doc)))
}

func TestHTTPHandler_WriteAndDelete(t *testing.T) {
	f := newFixture(t, Options{}).seed()
	srv := newTestServer(t, f, 0)

	resp, err := http.Post(srv.URL+"/api/user", response.JSONAPIMediaType,
		strings.NewReader(`{"data":{"type":"user","attributes":{"email":"cat@example.com"}}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/user/3", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, body)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPHandler_BodyTooLarge(t *testing.T) {
	f := newFixture(t, Options{})
	srv := newTestServer(t, f, 16)

	resp, err := http.Post(srv.URL+"/api/user", response.JSONAPIMediaType,
		strings.NewReader(`{"data":{"type":"user","attributes":{"email":"cat@example.com"}}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	var doc response.ErrorDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "request-too-large", doc.Errors[0].Code)
}
