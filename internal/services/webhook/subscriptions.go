package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// CreateSubscription stores a new subscription, filling in the id, status
// and retry policy defaults.
func (s *Service) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.UserID == "" {
		return fmt.Errorf("subscription requires a user id")
	}
	if !strings.HasPrefix(sub.URL, "http://") && !strings.HasPrefix(sub.URL, "https://") {
		return fmt.Errorf("subscription url must be http or https")
	}
	if len(sub.Events) == 0 {
		sub.Events = []models.EventType{models.EventAll}
	}

	if sub.ID == "" {
		sub.ID = common.NewWebhookID()
	}
	sub.Status = models.SubscriptionActive
	sub.FailureCount = 0
	if sub.MaxRetries <= 0 {
		sub.MaxRetries = s.config.DefaultMaxRetries
	}
	if sub.RetryDelay <= 0 {
		sub.RetryDelay = s.config.DefaultRetryDelay
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	if err := s.webhooks.StoreSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}

	s.logger.Info().
		Str("webhook_id", sub.ID).
		Str("user_id", sub.UserID).
		Str("url", sub.URL).
		Msg("Webhook subscription created")

	return nil
}

// GetSubscription returns a subscription by id.
func (s *Service) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return s.webhooks.GetSubscription(ctx, id)
}

// ListSubscriptions returns all of a user's subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	return s.webhooks.ListSubscriptions(ctx, userID)
}

// UpdateSubscription persists caller-visible subscription changes. Failure
// accounting fields are owned by the delivery path and survive the update.
func (s *Service) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	existing, err := s.webhooks.GetSubscription(ctx, sub.ID)
	if err != nil {
		return err
	}

	sub.UserID = existing.UserID
	sub.FailureCount = existing.FailureCount
	sub.LastTriggeredAt = existing.LastTriggeredAt
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()

	return s.webhooks.StoreSubscription(ctx, sub)
}

// DeleteSubscription removes a subscription.
func (s *Service) DeleteSubscription(ctx context.Context, id string) error {
	return s.webhooks.DeleteSubscription(ctx, id)
}

// Reactivate returns a failed or inactive subscription to active and resets
// its failure count, re-admitting it to fan-out.
func (s *Service) Reactivate(ctx context.Context, id string) error {
	sub, err := s.webhooks.GetSubscription(ctx, id)
	if err != nil {
		return err
	}

	sub.Status = models.SubscriptionActive
	sub.FailureCount = 0
	sub.UpdatedAt = time.Now().UTC()

	if err := s.webhooks.StoreSubscription(ctx, sub); err != nil {
		return err
	}

	s.logger.Info().
		Str("webhook_id", sub.ID).
		Msg("Webhook subscription reactivated")

	return nil
}

// ListDeliveries returns the most recent delivery records for a
// subscription, newest first.
func (s *Service) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*models.Delivery, error) {
	return s.history.ListDeliveries(ctx, webhookID, limit)
}
