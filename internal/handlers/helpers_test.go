package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/auth/me", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", BearerToken(r))

	r = httptest.NewRequest("GET", "/api/auth/me", nil)
	r.Header.Set("Authorization", "abc123")
	assert.Equal(t, "abc123", BearerToken(r))

	r = httptest.NewRequest("GET", "/ws/realtime?token=qtoken", nil)
	assert.Equal(t, "qtoken", BearerToken(r))

	r = httptest.NewRequest("GET", "/api/auth/me", nil)
	assert.Equal(t, "", BearerToken(r))
}

func TestWriteErrorShape(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, 404, "Endpoint not found")

	assert.Equal(t, 404, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Endpoint not found", body["error"])
}

func TestRequireMethod(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/version", nil)
	assert.False(t, RequireMethod(w, r, "GET"))
	assert.Equal(t, 405, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest("GET", "/api/version", nil)
	assert.True(t, RequireMethod(w, r, "GET"))
}
