package interfaces

import (
	"context"
	"time"

	"github.com/keithah/gvoice-rest-api/internal/models"
)

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	UserStorage() UserStorage
	SessionStorage() SessionStorage
	CredentialStorage() CredentialStorage
	WebhookStorage() WebhookStorage
	DeliveryStorage() DeliveryStorage
	Close() error
}

// UserStorage persists local user accounts
type UserStorage interface {
	StoreUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// SessionStorage persists API session tokens
type SessionStorage interface {
	StoreSession(ctx context.Context, session *models.APISession) error
	GetSession(ctx context.Context, token string) (*models.APISession, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) (int, error)
}

// CredentialStorage is the credential store: per-user opaque cookie maps
// keyed by user id. MergeCookies applies merge semantics atomically; new
// keys override, keys absent from the update are retained.
type CredentialStorage interface {
	StoreCredential(ctx context.Context, cred *models.SessionCredential) error
	GetCredential(ctx context.Context, userID string) (*models.SessionCredential, error)
	MergeCookies(ctx context.Context, userID string, cookies map[string]string) error
	DeleteCredential(ctx context.Context, userID string) error
}

// WebhookStorage persists webhook subscriptions
type WebhookStorage interface {
	StoreSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// DeliveryStorage persists immutable webhook delivery history, bucketed by
// day so retention can be bounded.
type DeliveryStorage interface {
	RecordDelivery(ctx context.Context, delivery *models.Delivery) error
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*models.Delivery, error)
	PruneDayBucket(ctx context.Context, day time.Time, keep int) (int, error)
}
