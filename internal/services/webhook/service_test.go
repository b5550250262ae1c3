package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

type memWebhookStore struct {
	mu   sync.Mutex
	subs map[string]*models.Subscription
}

func newMemWebhookStore() *memWebhookStore {
	return &memWebhookStore{subs: make(map[string]*models.Subscription)}
}

func copySub(sub *models.Subscription) *models.Subscription {
	c := *sub
	c.Events = append([]models.EventType(nil), sub.Events...)
	return &c
}

func (m *memWebhookStore) StoreSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = copySub(sub)
	return nil
}

func (m *memWebhookStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription not found: %s", id)
	}
	return copySub(sub), nil
}

func (m *memWebhookStore) ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			out = append(out, copySub(sub))
		}
	}
	return out, nil
}

func (m *memWebhookStore) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

type memDeliveryStore struct {
	mu      sync.Mutex
	records []*models.Delivery
}

func (m *memDeliveryStore) RecordDelivery(ctx context.Context, d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	m.records = append(m.records, &c)
	return nil
}

func (m *memDeliveryStore) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Delivery
	for _, d := range m.records {
		if d.WebhookID == webhookID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDeliveryStore) PruneDayBucket(ctx context.Context, day time.Time, keep int) (int, error) {
	return 0, nil
}

func testWebhookConfig() *common.WebhookConfig {
	return &common.WebhookConfig{
		QueueSize:         64,
		DeliveryTimeout:   2 * time.Second,
		DefaultMaxRetries: 3,
		DefaultRetryDelay: 10 * time.Millisecond,
		FailureThreshold:  5,
		HistoryDailyCap:   1000,
	}
}

func newTestService(t *testing.T) (*Service, *memWebhookStore, *memDeliveryStore) {
	subs := newMemWebhookStore()
	history := &memDeliveryStore{}
	svc := NewService(subs, history, testWebhookConfig(), arbor.NewLogger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)
	return svc, subs, history
}

// hookServer records every POST it receives.
type hookServer struct {
	mu         sync.Mutex
	hits       []hookHit
	statusCode int
}

type hookHit struct {
	body       []byte
	headers    http.Header
	receivedAt time.Time
}

func newHookServer(statusCode int) (*hookServer, *httptest.Server) {
	hs := &hookServer{statusCode: statusCode}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		hs.mu.Lock()
		hs.hits = append(hs.hits, hookHit{body: body, headers: r.Header.Clone(), receivedAt: time.Now()})
		hs.mu.Unlock()
		w.WriteHeader(hs.statusCode)
	}))
	return hs, srv
}

func (hs *hookServer) count() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return len(hs.hits)
}

func (hs *hookServer) hit(i int) hookHit {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.hits[i]
}

func activeSub(userID, url string, events ...models.EventType) *models.Subscription {
	return &models.Subscription{
		ID:         common.NewWebhookID(),
		UserID:     userID,
		URL:        url,
		Events:     events,
		Status:     models.SubscriptionActive,
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
	}
}

func TestTriggerFanOutFiltersByEvent(t *testing.T) {
	svc, subs, _ := newTestService(t)
	hs, srv := newHookServer(http.StatusOK)
	defer srv.Close()

	sub := activeSub("u1", srv.URL, models.EventMessageSent)
	require.NoError(t, subs.StoreSubscription(context.Background(), sub))

	require.NoError(t, svc.Trigger(context.Background(), "u1", models.EventMessageFailed, nil))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, hs.count(), "non-matching event must produce no deliveries")

	require.NoError(t, svc.Trigger(context.Background(), "u1", models.EventMessageSent, nil))
	require.Eventually(t, func() bool { return hs.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWildcardSubscriptionMatchesEveryEvent(t *testing.T) {
	svc, subs, _ := newTestService(t)
	hs, srv := newHookServer(http.StatusOK)
	defer srv.Close()

	sub := activeSub("u1", srv.URL, models.EventAll)
	require.NoError(t, subs.StoreSubscription(context.Background(), sub))

	for _, et := range []models.EventType{models.EventMessageReceived, models.EventMessageSent, models.EventThreadDeleted} {
		require.NoError(t, svc.Trigger(context.Background(), "u1", et, nil))
	}
	require.Eventually(t, func() bool { return hs.count() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestCircuitBreakerDisablesFailingSubscription(t *testing.T) {
	svc, subs, _ := newTestService(t)
	hs, srv := newHookServer(http.StatusInternalServerError)
	defer srv.Close()

	sub := activeSub("u1", srv.URL, models.EventAll)
	require.NoError(t, subs.StoreSubscription(context.Background(), sub))

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Trigger(context.Background(), "u1", models.EventMessageSent, nil))
		attempts := i + 1
		require.Eventually(t, func() bool { return hs.count() == attempts }, 2*time.Second, 5*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		got, err := subs.GetSubscription(context.Background(), sub.ID)
		return err == nil && got.Status == models.SubscriptionFailed && got.FailureCount == 5
	}, 2*time.Second, 10*time.Millisecond)

	// A disabled subscription is excluded from fan-out entirely.
	require.NoError(t, svc.Trigger(context.Background(), "u1", models.EventMessageSent, nil))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 5, hs.count())
}

func TestReactivateRestoresFanOut(t *testing.T) {
	svc, subs, _ := newTestService(t)
	hs, srv := newHookServer(http.StatusOK)
	defer srv.Close()

	sub := activeSub("u1", srv.URL, models.EventAll)
	sub.Status = models.SubscriptionFailed
	sub.FailureCount = 7
	require.NoError(t, subs.StoreSubscription(context.Background(), sub))

	require.NoError(t, svc.Reactivate(context.Background(), sub.ID))

	got, err := subs.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status)
	assert.Zero(t, got.FailureCount)

	require.NoError(t, svc.Trigger(context.Background(), "u1", models.EventMessageSent, nil))
	require.Eventually(t, func() bool { return hs.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRetryBoundAndFixedDelay(t *testing.T) {
	svc, subs, history := newTestService(t)
	hs, srv := newHookServer(http.StatusBadGateway)
	defer srv.Close()

	retryDelay := 20 * time.Millisecond
	sub := activeSub("u1", srv.URL, models.EventAll)
	sub.MaxRetries = 3
	sub.RetryDelay = retryDelay
	require.NoError(t, subs.StoreSubscription(context.Background(), sub))

	require.NoError(t, svc.Trigger(context.Background(), "u1", models.EventMessageSent, nil))

	require.Eventually(t, func() bool { return hs.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(3 * retryDelay)
	assert.Equal(t, 3, hs.count(), "attempts must stop at max_retries")

	records, err := history.ListDeliveries(context.Background(), sub.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	attempts := make([]int, 0, 3)
	for _, r := range records {
		attempts = append(attempts, r.Attempt)
	}
	sort.Ints(attempts)
	assert.Equal(t, []int{1, 2, 3}, attempts)

	for i := 1; i < 3; i++ {
		gap := hs.hit(i).receivedAt.Sub(hs.hit(i - 1).receivedAt)
		assert.GreaterOrEqual(t, gap, retryDelay, "each retry waits the fixed per-subscription delay")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	svc, subs, _ := newTestService(t)
	hs, srv := newHookServer(http.StatusOK)
	defer srv.Close()

	sub := activeSub("u1", srv.URL, models.EventAll)
	sub.FailureCount = 4
	require.NoError(t, subs.StoreSubscription(context.Background(), sub))

	require.NoError(t, svc.Trigger(context.Background(), "u1", models.EventMessageSent, nil))
	require.Eventually(t, func() bool { return hs.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := subs.GetSubscription(context.Background(), sub.ID)
		return err == nil && got.FailureCount == 0 && got.LastTriggeredAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignedDeliveryEndToEnd(t *testing.T) {
	svc, _, _ := newTestService(t)
	hs, srv := newHookServer(http.StatusOK)
	defer srv.Close()

	sub := &models.Subscription{
		UserID:  "u1",
		URL:     srv.URL,
		Events:  []models.EventType{models.EventMessageSent},
		Secret:  "s3cr3t",
		Headers: map[string]string{"X-Custom": "yes"},
	}
	require.NoError(t, svc.CreateSubscription(context.Background(), sub))

	data := map[string]interface{}{"message_id": "m1"}
	require.NoError(t, svc.Trigger(context.Background(), "u1", models.EventMessageSent, data))

	require.Eventually(t, func() bool { return hs.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	hit := hs.hit(0)
	assert.Contains(t, string(hit.body), `"message_id":"m1"`)
	assert.Equal(t, "message.sent", hit.headers.Get("X-Webhook-Event"))
	assert.NotEmpty(t, hit.headers.Get("X-Webhook-Delivery"))
	assert.Equal(t, "yes", hit.headers.Get("X-Custom"))

	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write(hit.body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, hit.headers.Get("X-Webhook-Signature"))
}

func TestCreateSubscriptionDefaults(t *testing.T) {
	svc, subs, _ := newTestService(t)

	sub := &models.Subscription{UserID: "u1", URL: "https://example.com/hook"}
	require.NoError(t, svc.CreateSubscription(context.Background(), sub))

	assert.True(t, strings.HasPrefix(sub.ID, "whk_"))
	got, err := subs.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status)
	assert.Equal(t, []models.EventType{models.EventAll}, got.Events)
	assert.Equal(t, 3, got.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, got.RetryDelay)

	bad := &models.Subscription{UserID: "u1", URL: "ftp://example.com"}
	assert.Error(t, svc.CreateSubscription(context.Background(), bad))
}
