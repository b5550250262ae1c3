package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// DeliveryStorage implements the DeliveryStorage interface for Badger.
// Records are immutable; retries insert new records. Day bucketing bounds
// retention without scanning the whole history.
type DeliveryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDeliveryStorage creates a new DeliveryStorage instance
func NewDeliveryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DeliveryStorage {
	return &DeliveryStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DeliveryStorage) RecordDelivery(ctx context.Context, delivery *models.Delivery) error {
	if delivery.ID == "" {
		return fmt.Errorf("delivery ID is required")
	}

	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now()
	}
	if delivery.DayBucket == "" {
		delivery.DayBucket = delivery.CreatedAt.Format("2006-01-02")
	}

	if err := s.db.Store().Insert(delivery.ID, delivery); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

func (s *DeliveryStorage) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*models.Delivery, error) {
	var deliveries []models.Delivery
	if err := s.db.Store().Find(&deliveries, badgerhold.Where("WebhookID").Eq(webhookID).Index("WebhookID")); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	// Newest first
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].CreatedAt.After(deliveries[j].CreatedAt)
	})

	if limit > 0 && len(deliveries) > limit {
		deliveries = deliveries[:limit]
	}

	result := make([]*models.Delivery, len(deliveries))
	for i := range deliveries {
		result[i] = &deliveries[i]
	}
	return result, nil
}

// PruneDayBucket drops the oldest delivery records in a day bucket beyond
// the keep cap and returns the number removed.
func (s *DeliveryStorage) PruneDayBucket(ctx context.Context, day time.Time, keep int) (int, error) {
	bucket := day.Format("2006-01-02")

	var deliveries []models.Delivery
	if err := s.db.Store().Find(&deliveries, badgerhold.Where("DayBucket").Eq(bucket).Index("DayBucket")); err != nil {
		return 0, fmt.Errorf("failed to load day bucket %s: %w", bucket, err)
	}

	if keep < 0 || len(deliveries) <= keep {
		return 0, nil
	}

	// Oldest first so the newest `keep` records survive
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].CreatedAt.Before(deliveries[j].CreatedAt)
	})

	pruned := 0
	for i := 0; i < len(deliveries)-keep; i++ {
		if err := s.db.Store().Delete(deliveries[i].ID, &models.Delivery{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return pruned, fmt.Errorf("failed to prune delivery: %w", err)
		}
		pruned++
	}

	if pruned > 0 {
		s.logger.Debug().Str("bucket", bucket).Int("pruned", pruned).Msg("Pruned delivery history")
	}

	return pruned, nil
}
