package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// memCredStore is an in-memory CredentialStorage for tests
type memCredStore struct {
	mu    sync.Mutex
	creds map[string]*models.SessionCredential
}

func newMemCredStore() *memCredStore {
	return &memCredStore{creds: make(map[string]*models.SessionCredential)}
}

func (m *memCredStore) StoreCredential(ctx context.Context, cred *models.SessionCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.UserID] = cred
	return nil
}

func (m *memCredStore) GetCredential(ctx context.Context, userID string) (*models.SessionCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[userID]
	if !ok {
		return nil, fmt.Errorf("credential not found: %s", userID)
	}
	copied := *cred
	copied.Cookies = make(map[string]string, len(cred.Cookies))
	for k, v := range cred.Cookies {
		copied.Cookies[k] = v
	}
	return &copied, nil
}

func (m *memCredStore) MergeCookies(ctx context.Context, userID string, cookies map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[userID]
	if !ok {
		return fmt.Errorf("credential not found: %s", userID)
	}
	for k, v := range cookies {
		cred.Cookies[k] = v
	}
	return nil
}

func (m *memCredStore) DeleteCredential(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, userID)
	return nil
}

// stubTransport returns canned responses and records requests
type stubTransport struct {
	mu        sync.Mutex
	requests  []*http.Request
	responder func(req *http.Request) *http.Response
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.responder(req), nil
}

func stubResponse(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
	for k, v := range headers {
		resp.Header.Add(k, v)
	}
	return resp
}

func newTestService(t *testing.T, store interfaces.CredentialStorage, transport http.RoundTripper) *Service {
	t.Helper()
	cfg := common.NewDefaultConfig().Upstream
	cfg.RateLimit = time.Microsecond
	svc := NewService(store, nil, arbor.NewLogger(), &cfg)
	svc.httpClient = &http.Client{Transport: transport}
	return svc
}

func testCredential(userID string) *models.SessionCredential {
	return &models.SessionCredential{
		UserID:   userID,
		AuthUser: "0",
		Cookies: map[string]string{
			"SAPISID": "sapisid-value",
			"SID":     "sid-value",
		},
	}
}

func TestSAPISIDHashFormat(t *testing.T) {
	now := time.Unix(1700000000, 0)
	hash := SAPISIDHash("abc", now)

	require.True(t, strings.HasPrefix(hash, "SAPISIDHASH 1700000000_"), "hash = %s", hash)
	parts := strings.SplitN(strings.TrimPrefix(hash, "SAPISIDHASH "), "_", 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[1], 40, "sha1 hex digest length")

	// Regenerating with the same inputs is deterministic
	assert.Equal(t, hash, SAPISIDHash("abc", now))
	// A different timestamp produces a different header
	assert.NotEqual(t, hash, SAPISIDHash("abc", now.Add(time.Second)))
}

func TestRequestCarriesAuthAndCookies(t *testing.T) {
	store := newMemCredStore()
	require.NoError(t, store.StoreCredential(context.Background(), testCredential("u1")))

	transport := &stubTransport{responder: func(req *http.Request) *http.Response {
		return stubResponse(200, "", nil)
	}}
	svc := newTestService(t, store, transport)

	err := svc.Client("u1").MarkAllRead(context.Background())
	require.NoError(t, err)

	require.Len(t, transport.requests, 1)
	req := transport.requests[0]

	assert.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "SAPISIDHASH "))
	cookie := req.Header.Get("Cookie")
	assert.Contains(t, cookie, "SAPISID=sapisid-value")
	assert.Contains(t, cookie, "SID=sid-value")
	assert.Equal(t, "0", req.Header.Get("X-Goog-AuthUser"))
	assert.Equal(t, ClientVersion, req.Header.Get("X-Client-Version"))
	assert.Equal(t, "proto", req.URL.Query().Get("alt"))
	assert.Equal(t, APIKey, req.URL.Query().Get("key"))
}

func TestResponseCookiesMergedEvenOnFailure(t *testing.T) {
	store := newMemCredStore()
	require.NoError(t, store.StoreCredential(context.Background(), testCredential("u1")))

	transport := &stubTransport{responder: func(req *http.Request) *http.Response {
		return stubResponse(500, "server error", map[string]string{
			"Set-Cookie": "SID=rotated-sid; Path=/; Secure",
		})
	}}
	svc := newTestService(t, store, transport)

	err := svc.Client("u1").MarkAllRead(context.Background())
	require.Error(t, err)

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 500, uerr.StatusCode)
	assert.Contains(t, uerr.Body, "server error")

	// The rotated cookie must have been absorbed despite the 500
	cred, err := store.GetCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "rotated-sid", cred.Cookies["SID"])
	assert.Equal(t, "sapisid-value", cred.Cookies["SAPISID"], "untouched cookies retained")
}

func TestMissingIdentityCookieIsAuthExpired(t *testing.T) {
	store := newMemCredStore()
	require.NoError(t, store.StoreCredential(context.Background(), &models.SessionCredential{
		UserID:  "u1",
		Cookies: map[string]string{"SID": "only-sid"},
	}))

	transport := &stubTransport{responder: func(req *http.Request) *http.Response {
		t.Fatal("no request should be issued without an identity cookie")
		return nil
	}}
	svc := newTestService(t, store, transport)

	err := svc.Client("u1").MarkAllRead(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationExpired)
}

func TestAuthRejectionMapsToAuthExpired(t *testing.T) {
	store := newMemCredStore()
	require.NoError(t, store.StoreCredential(context.Background(), testCredential("u1")))

	transport := &stubTransport{responder: func(req *http.Request) *http.Response {
		return stubResponse(401, "unauthorized", nil)
	}}
	svc := newTestService(t, store, transport)

	err := svc.Client("u1").MarkAllRead(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationExpired)
}

func TestSendSMSPerRecipientResults(t *testing.T) {
	store := newMemCredStore()
	require.NoError(t, store.StoreCredential(context.Background(), testCredential("u1")))

	calls := 0
	transport := &stubTransport{responder: func(req *http.Request) *http.Response {
		calls++
		if calls == 2 {
			return stubResponse(400, "bad recipient", nil)
		}
		return stubResponse(200, "", nil)
	}}
	svc := newTestService(t, store, transport)

	result, err := svc.Client("u1").SendSMS(context.Background(), []string{"+15551230001", "+15551230002", "+15551230003"}, "hello")
	require.NoError(t, err)

	require.Len(t, result.Results, 3)
	assert.False(t, result.Success, "aggregate success reflects partial failure")
	assert.True(t, result.Results[0].Success)
	assert.NotEmpty(t, result.Results[0].MessageID)
	assert.False(t, result.Results[1].Success)
	assert.Contains(t, result.Results[1].Error, "400")
	assert.True(t, result.Results[2].Success, "later recipients still attempted after a failure")
}

func TestSendSMSBodyCarriesFallbackSignature(t *testing.T) {
	store := newMemCredStore()
	require.NoError(t, store.StoreCredential(context.Background(), testCredential("u1")))

	var sentBody string
	transport := &stubTransport{responder: func(req *http.Request) *http.Response {
		b, _ := io.ReadAll(req.Body)
		sentBody = string(b)
		return stubResponse(200, "", nil)
	}}
	svc := newTestService(t, store, transport)

	_, err := svc.Client("u1").SendSMS(context.Background(), []string{"+15551230001"}, "hi")
	require.NoError(t, err)

	// No signature provider configured: the fallback signature is used
	assert.Contains(t, sentBody, `["!"]`)
	assert.Contains(t, sentBody, `"hi"`)
	assert.Contains(t, sentBody, `"+15551230001"`)
}

func TestFolderCodes(t *testing.T) {
	tests := []struct {
		folder string
		want   int
	}{
		{"all", 1},
		{"inbox", 2},
		{"spam", 7},
		{"trash", 8},
		{"unknown", 1},
		{"", 1},
	}
	for _, tt := range tests {
		if got := FolderCode(tt.folder); got != tt.want {
			t.Errorf("FolderCode(%q) = %d, want %d", tt.folder, got, tt.want)
		}
	}
}
