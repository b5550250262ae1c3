package interfaces

import (
	"context"

	"github.com/keithah/gvoice-rest-api/internal/models"
)

// Event is a domain event flowing from the realtime channel (or the command
// layer) to websocket subscribers and the webhook engine.
type Event struct {
	Type   models.EventType
	UserID string
	Data   map[string]interface{}
}

// EventHandler processes a published event. Handler errors are logged by the
// event service, never propagated to the publisher.
type EventHandler func(ctx context.Context, event Event) error

// EventService is a process-local pub/sub bus
type EventService interface {
	Subscribe(eventType models.EventType, handler EventHandler) error
	// Publish dispatches to subscribers of the event's type and of EventAll.
	// Dispatch is synchronous per subscriber list to preserve per-user
	// ordering; handlers must not block on long work.
	Publish(ctx context.Context, event Event) error
}
