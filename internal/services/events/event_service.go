package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// Service implements EventService with an in-process pub/sub pattern.
// Dispatch is synchronous and in subscription order so realtime frames for a
// user reach subscribers in the order they were received.
type Service struct {
	subscribers map[models.EventType][]interfaces.EventHandler
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[models.EventType][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type. Subscribing to
// models.EventAll receives every published event.
func (s *Service) Subscribe(eventType models.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

// Publish sends an event to subscribers of its type and of EventAll.
// Handler errors and panics are logged, never propagated; a broken
// subscriber must not break frame consumption upstream.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	handlers := make([]interfaces.EventHandler, 0, len(s.subscribers[event.Type])+len(s.subscribers[models.EventAll]))
	handlers = append(handlers, s.subscribers[event.Type]...)
	if event.Type != models.EventAll {
		handlers = append(handlers, s.subscribers[models.EventAll]...)
	}
	s.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	for _, handler := range handlers {
		s.dispatch(ctx, event, handler)
	}

	return nil
}

func (s *Service) dispatch(ctx context.Context, event interfaces.Event, handler interfaces.EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("event_type", string(event.Type)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Event handler panicked")
		}
	}()

	if err := handler(ctx, event); err != nil {
		s.logger.Error().
			Err(err).
			Str("event_type", string(event.Type)).
			Str("user_id", event.UserID).
			Msg("Event handler failed")
	}
}
