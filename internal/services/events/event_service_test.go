package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

func TestPublishPreservesOrder(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var received []int
	err := svc.Subscribe(models.EventMessageReceived, func(ctx context.Context, e interfaces.Event) error {
		received = append(received, e.Data["seq"].(int))
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		err := svc.Publish(context.Background(), interfaces.Event{
			Type:   models.EventMessageReceived,
			UserID: "u1",
			Data:   map[string]interface{}{"seq": i},
		})
		require.NoError(t, err)
	}

	require.Len(t, received, 20)
	for i, seq := range received {
		assert.Equal(t, i, seq, "events must be dispatched in publish order")
	}
}

func TestPublishIsolatesHandlerFailures(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	delivered := 0
	require.NoError(t, svc.Subscribe(models.EventMessageSent, func(ctx context.Context, e interfaces.Event) error {
		return fmt.Errorf("handler error")
	}))
	require.NoError(t, svc.Subscribe(models.EventMessageSent, func(ctx context.Context, e interfaces.Event) error {
		panic("handler panic")
	}))
	require.NoError(t, svc.Subscribe(models.EventMessageSent, func(ctx context.Context, e interfaces.Event) error {
		delivered++
		return nil
	}))

	err := svc.Publish(context.Background(), interfaces.Event{Type: models.EventMessageSent})
	assert.NoError(t, err, "publisher must not observe handler failures")
	assert.Equal(t, 1, delivered, "later handlers still run after earlier failures")
}

func TestWildcardSubscriberReceivesAllEvents(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var seen []models.EventType
	require.NoError(t, svc.Subscribe(models.EventAll, func(ctx context.Context, e interfaces.Event) error {
		seen = append(seen, e.Type)
		return nil
	}))

	for _, et := range []models.EventType{models.EventMessageReceived, models.EventMessageSent, models.EventThreadDeleted} {
		require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: et}))
	}

	assert.Equal(t, []models.EventType{models.EventMessageReceived, models.EventMessageSent, models.EventThreadDeleted}, seen)
}
