package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type fakeSigner struct {
	mu    sync.Mutex
	inits map[string]int
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{inits: make(map[string]int)}
}

func (f *fakeSigner) Initialize(ctx context.Context, cred *models.SessionCredential) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits[cred.UserID]++
	return true
}

func (f *fakeSigner) Sign(ctx context.Context, cred *models.SessionCredential, payload interfaces.SignPayload) string {
	return "!"
}

func (f *fakeSigner) Close() error { return nil }

func (f *fakeSigner) initCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits[userID]
}

func TestCookieLoginWarmsSigningSandbox(t *testing.T) {
	user := &models.User{ID: "u9", Email: "u9@example.com"}
	authSvc := &fakeAuth{
		sessions:   map[string]*models.APISession{},
		cookieUser: user,
	}
	creds := &fakeCredStore{creds: map[string]*models.SessionCredential{
		"u9": {UserID: "u9", Cookies: map[string]string{"SAPISID": "x", "SID": "y"}},
	}}
	signer := newFakeSigner()
	h := NewAuthHandler(authSvc, newFakeRealtime(), signer, creds, arbor.NewLogger())

	body := `{"email":"u9@example.com","cookies":{"SAPISID":"x","HSID":"h","SSID":"s","APISID":"a","SID":"y"}}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login-with-cookies", strings.NewReader(body))
	h.CookieLoginHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		return signer.initCount("u9") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCookieLoginRequiresCookies(t *testing.T) {
	authSvc := &fakeAuth{
		sessions:   map[string]*models.APISession{},
		cookieUser: &models.User{ID: "u9", Email: "u9@example.com"},
	}
	creds := &fakeCredStore{creds: map[string]*models.SessionCredential{}}
	signer := newFakeSigner()
	h := NewAuthHandler(authSvc, newFakeRealtime(), signer, creds, arbor.NewLogger())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login-with-cookies", strings.NewReader(`{"email":"u9@example.com"}`))
	h.CookieLoginHandler(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, signer.initCount("u9"))
}

func TestUpstreamLogoutStopsRealtime(t *testing.T) {
	authSvc := &fakeAuth{sessions: map[string]*models.APISession{
		"tok-u9": {Token: "tok-u9", UserID: "u9", Email: "u9@example.com", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	creds := &fakeCredStore{creds: map[string]*models.SessionCredential{}}
	realtime := newFakeRealtime()
	h := NewAuthHandler(authSvc, realtime, newFakeSigner(), creds, arbor.NewLogger())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/logout-gvoice", nil)
	r.Header.Set("Authorization", "Bearer tok-u9")
	h.UpstreamLogoutHandler(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, realtime.stopCount("u9"))
}
