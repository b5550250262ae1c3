package interfaces

import (
	"context"

	"github.com/keithah/gvoice-rest-api/internal/models"
)

// WebhookService queues, signs and delivers webhook payloads with bounded
// retries, and disables subscriptions that keep failing.
type WebhookService interface {
	Start() error
	Stop()
	// Trigger fans out one delivery per matching active subscription.
	// Zero matches is not an error.
	Trigger(ctx context.Context, userID string, eventType models.EventType, data map[string]interface{}) error
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	// Reactivate returns a failed or inactive subscription to active and
	// resets its failure count.
	Reactivate(ctx context.Context, id string) error
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*models.Delivery, error)
}
