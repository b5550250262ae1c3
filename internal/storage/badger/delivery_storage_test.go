package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/models"
)

func TestDeliveryHistoryImmutableAndPruned(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewDeliveryStorage(db, logger)
	ctx := context.Background()

	day := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		delivery := &models.Delivery{
			ID:        fmt.Sprintf("dlv-%02d", i),
			WebhookID: "whk-1",
			EventType: models.EventMessageReceived,
			Payload:   []byte(`{"n":1}`),
			Attempt:   1,
			CreatedAt: day.Add(time.Duration(i) * time.Minute),
		}
		if err := storage.RecordDelivery(ctx, delivery); err != nil {
			t.Fatalf("RecordDelivery failed: %v", err)
		}
	}

	// Re-inserting the same ID must fail: records are immutable
	dup := &models.Delivery{
		ID:        "dlv-00",
		WebhookID: "whk-1",
		EventType: models.EventMessageReceived,
		Attempt:   2,
		CreatedAt: day,
	}
	if err := storage.RecordDelivery(ctx, dup); err == nil {
		t.Error("expected duplicate delivery insert to fail")
	}

	// Prune keeps the newest records in the bucket
	pruned, err := storage.PruneDayBucket(ctx, day, 4)
	if err != nil {
		t.Fatalf("PruneDayBucket failed: %v", err)
	}
	if pruned != 6 {
		t.Errorf("pruned = %d, want 6", pruned)
	}

	remaining, err := storage.ListDeliveries(ctx, "whk-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 4 {
		t.Fatalf("remaining = %d, want 4", len(remaining))
	}
	// Newest first; survivors are the 4 most recent
	if remaining[0].ID != "dlv-09" {
		t.Errorf("newest remaining = %s, want dlv-09", remaining[0].ID)
	}
	if remaining[3].ID != "dlv-06" {
		t.Errorf("oldest remaining = %s, want dlv-06", remaining[3].ID)
	}
}

func TestListDeliveriesLimit(t *testing.T) {
	db := newTestDB(t)
	storage := NewDeliveryStorage(db, arbor.NewLogger())
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		delivery := &models.Delivery{
			ID:        fmt.Sprintf("lim-%d", i),
			WebhookID: "whk-2",
			EventType: models.EventMessageSent,
			Attempt:   1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := storage.RecordDelivery(ctx, delivery); err != nil {
			t.Fatal(err)
		}
	}

	got, err := storage.ListDeliveries(ctx, "whk-2", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "lim-4" {
		t.Errorf("first = %s, want newest (lim-4)", got[0].ID)
	}
}
