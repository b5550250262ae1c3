package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// WebhookStorage implements the WebhookStorage interface for Badger
type WebhookStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWebhookStorage creates a new WebhookStorage instance
func NewWebhookStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WebhookStorage {
	return &WebhookStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WebhookStorage) StoreSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		return fmt.Errorf("subscription ID is required")
	}
	if sub.UserID == "" {
		return fmt.Errorf("subscription user ID is required")
	}

	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	if err := s.db.Store().Upsert(sub.ID, sub); err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}
	return nil
}

func (s *WebhookStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.Store().Get(id, &sub); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("subscription not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (s *WebhookStorage) ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	var subs []models.Subscription
	if err := s.db.Store().Find(&subs, badgerhold.Where("UserID").Eq(userID).Index("UserID")); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	result := make([]*models.Subscription, len(subs))
	for i := range subs {
		result[i] = &subs[i]
	}
	return result, nil
}

func (s *WebhookStorage) DeleteSubscription(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Subscription{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
