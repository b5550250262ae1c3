package models

import (
	"time"
)

// EventType identifies a webhook-triggerable event
type EventType string

const (
	EventMessageReceived EventType = "message.received"
	EventMessageSent     EventType = "message.sent"
	EventMessageFailed   EventType = "message.failed"
	EventThreadCreated   EventType = "thread.created"
	EventThreadDeleted   EventType = "thread.deleted"
	EventAll             EventType = "*"
)

// SubscriptionStatus is the lifecycle state of a webhook subscription
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	// SubscriptionFailed is entered when the failure threshold is reached;
	// the subscription is excluded from fan-out until explicitly reactivated.
	SubscriptionFailed SubscriptionStatus = "failed"
)

// Subscription is a user-configured webhook endpoint with its event filter
// and retry policy.
type Subscription struct {
	ID              string             `badgerhold:"key" json:"id"`
	UserID          string             `badgerhold:"index" json:"user_id"`
	URL             string             `json:"url"`
	Events          []EventType        `json:"events"`
	Headers         map[string]string  `json:"headers,omitempty"`
	Secret          string             `json:"-"`
	Status          SubscriptionStatus `json:"status"`
	MaxRetries      int                `json:"max_retries"`
	RetryDelay      time.Duration      `json:"retry_delay"`
	FailureCount    int                `json:"failure_count"`
	LastTriggeredAt *time.Time         `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Matches reports whether the subscription's event filter covers the given
// event type. A filter containing EventAll matches every event.
func (s *Subscription) Matches(eventType EventType) bool {
	for _, e := range s.Events {
		if e == EventAll || e == eventType {
			return true
		}
	}
	return false
}

// Delivery is an immutable record of a single webhook delivery attempt.
// Retries create new records with Attempt incremented; prior records are
// never mutated.
type Delivery struct {
	ID           string     `badgerhold:"key" json:"id"`
	WebhookID    string     `badgerhold:"index" json:"webhook_id"`
	EventType    EventType  `json:"event_type"`
	Payload      []byte     `json:"payload"`
	Attempt      int        `json:"attempt"` // 1-based
	StatusCode   int        `json:"status_code,omitempty"`
	ResponseBody string     `json:"response_body,omitempty"`
	Error        string     `json:"error,omitempty"`
	DayBucket    string     `badgerhold:"index" json:"day_bucket"` // YYYY-MM-DD, for bounded retention
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// WebhookPayload is the JSON body posted to subscriber endpoints.
type WebhookPayload struct {
	Event     EventType              `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}
