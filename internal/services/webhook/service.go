package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// queuedDelivery is one pending delivery attempt. Retries re-enqueue a new
// queuedDelivery with Attempt incremented; the payload bytes are shared so
// every attempt signs and posts the identical body.
type queuedDelivery struct {
	WebhookID string
	EventType models.EventType
	Payload   []byte
	Attempt   int
}

// Service is the webhook delivery engine: an in-process queue drained by a
// single worker, with per-subscription retry policy and failure-count
// circuit breaking.
type Service struct {
	webhooks   interfaces.WebhookStorage
	history    interfaces.DeliveryStorage
	httpClient *http.Client
	config     *common.WebhookConfig
	logger     arbor.ILogger

	queue  chan *queuedDelivery
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewService creates a webhook service. Start must be called before
// triggered events are delivered.
func NewService(webhooks interfaces.WebhookStorage, history interfaces.DeliveryStorage, config *common.WebhookConfig, logger arbor.ILogger) *Service {
	return &Service{
		webhooks:   webhooks,
		history:    history,
		httpClient: &http.Client{Timeout: config.DeliveryTimeout},
		config:     config,
		logger:     logger,
		queue:      make(chan *queuedDelivery, config.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("webhook service already started")
	}
	s.started = true

	s.wg.Add(1)
	go s.worker()

	s.logger.Info().
		Int("queue_size", s.config.QueueSize).
		Msg("Webhook delivery worker started")

	return nil
}

// Stop shuts the worker down. Queued and scheduled deliveries are abandoned;
// an in-flight POST is allowed to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info().Msg("Webhook delivery worker stopped")
}

func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case qd := <-s.queue:
			s.deliver(context.Background(), qd)
		}
	}
}

// Trigger fans out one delivery per matching active subscription.
func (s *Service) Trigger(ctx context.Context, userID string, eventType models.EventType, data map[string]interface{}) error {
	subs, err := s.webhooks.ListSubscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	payload, err := json.Marshal(models.WebhookPayload{
		Event:     eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return err
	}

	matched := 0
	for _, sub := range subs {
		if sub.Status != models.SubscriptionActive || !sub.Matches(eventType) {
			continue
		}
		matched++
		s.enqueue(&queuedDelivery{
			WebhookID: sub.ID,
			EventType: eventType,
			Payload:   payload,
			Attempt:   1,
		})
	}

	if matched > 0 {
		s.logger.Debug().
			Str("user_id", userID).
			Str("event_type", string(eventType)).
			Int("deliveries", matched).
			Msg("Webhook event fanned out")
	}

	return nil
}

func (s *Service) enqueue(qd *queuedDelivery) {
	select {
	case <-s.stopCh:
	case s.queue <- qd:
	default:
		s.logger.Error().
			Str("webhook_id", qd.WebhookID).
			Int("attempt", qd.Attempt).
			Msg("Delivery queue full, dropping delivery")
	}
}

// deliver performs one HTTP delivery attempt and records it.
func (s *Service) deliver(ctx context.Context, qd *queuedDelivery) {
	sub, err := s.webhooks.GetSubscription(ctx, qd.WebhookID)
	if err != nil || sub == nil {
		return
	}
	// The subscription may have been disabled between enqueue and dequeue.
	if sub.Status != models.SubscriptionActive {
		return
	}

	record := &models.Delivery{
		ID:        common.NewDeliveryID(),
		WebhookID: sub.ID,
		EventType: qd.EventType,
		Payload:   qd.Payload,
		Attempt:   qd.Attempt,
		DayBucket: time.Now().UTC().Format("2006-01-02"),
		CreatedAt: time.Now().UTC(),
	}

	statusCode, responseBody, postErr := s.post(ctx, sub, record.ID, qd)

	now := time.Now().UTC()
	record.StatusCode = statusCode
	record.ResponseBody = responseBody
	record.DeliveredAt = &now
	if postErr != nil {
		record.Error = postErr.Error()
	}

	succeeded := postErr == nil && statusCode >= 200 && statusCode < 300

	sub.LastTriggeredAt = &now
	if succeeded {
		sub.FailureCount = 0
		s.logger.Debug().
			Str("webhook_id", sub.ID).
			Str("delivery_id", record.ID).
			Int("status_code", statusCode).
			Msg("Webhook delivered")
	} else {
		sub.FailureCount++
		s.logger.Warn().
			Err(postErr).
			Str("webhook_id", sub.ID).
			Str("delivery_id", record.ID).
			Int("status_code", statusCode).
			Int("failure_count", sub.FailureCount).
			Msg("Webhook delivery failed")

		if sub.FailureCount >= s.config.FailureThreshold {
			sub.Status = models.SubscriptionFailed
			s.logger.Error().
				Str("webhook_id", sub.ID).
				Int("failure_count", sub.FailureCount).
				Msg("Webhook disabled after repeated failures")
		} else if qd.Attempt < sub.MaxRetries {
			s.scheduleRetry(qd, sub.RetryDelay)
		}
	}
	sub.UpdatedAt = now

	if err := s.webhooks.StoreSubscription(ctx, sub); err != nil {
		s.logger.Error().Err(err).Str("webhook_id", sub.ID).Msg("Failed to persist subscription state")
	}
	if err := s.history.RecordDelivery(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("delivery_id", record.ID).Msg("Failed to record delivery")
	}
}

// post sends the payload to the subscriber endpoint.
func (s *Service) post(ctx context.Context, sub *models.Subscription, deliveryID string, qd *queuedDelivery) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(qd.Payload))
	if err != nil {
		return 0, "", err
	}

	for name, value := range sub.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(qd.EventType))
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	if sub.Secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+Sign(qd.Payload, sub.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	// Keep the first 1KB of the response for the delivery record.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, string(body), nil
}

// scheduleRetry re-enqueues the delivery after the subscription's fixed
// retry delay without blocking the worker. The delay does not grow across
// attempts.
func (s *Service) scheduleRetry(qd *queuedDelivery, delay time.Duration) {
	next := &queuedDelivery{
		WebhookID: qd.WebhookID,
		EventType: qd.EventType,
		Payload:   qd.Payload,
		Attempt:   qd.Attempt + 1,
	}

	s.logger.Info().
		Str("webhook_id", qd.WebhookID).
		Int("attempt", next.Attempt).
		Dur("delay", delay).
		Msg("Scheduling webhook retry")

	time.AfterFunc(delay, func() {
		s.enqueue(next)
	})
}

// Sign computes the hex HMAC-SHA256 of the raw payload body.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
