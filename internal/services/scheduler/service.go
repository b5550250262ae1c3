package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
)

// Service runs the periodic maintenance jobs: sweeping expired API sessions
// and pruning webhook delivery history down to the daily cap.
type Service struct {
	sessions interfaces.SessionStorage
	history  interfaces.DeliveryStorage
	config   *common.SchedulerConfig
	webhook  *common.WebhookConfig
	cron     *cron.Cron
	logger   arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates the scheduler. Jobs are registered on Start.
func NewService(sessions interfaces.SessionStorage, history interfaces.DeliveryStorage, config *common.SchedulerConfig, webhook *common.WebhookConfig, logger arbor.ILogger) *Service {
	return &Service{
		sessions: sessions,
		history:  history,
		config:   config,
		webhook:  webhook,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the maintenance jobs and starts the cron runner.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.config.Enabled {
		s.logger.Info().Msg("Scheduler disabled by configuration")
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.SessionSweepSchedule, s.sweepSessions); err != nil {
		return fmt.Errorf("failed to register session sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.config.HistoryPruneSchedule, s.pruneHistory); err != nil {
		return fmt.Errorf("failed to register history prune: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("session_sweep", s.config.SessionSweepSchedule).
		Str("history_prune", s.config.HistoryPruneSchedule).
		Msg("Scheduler started")

	return nil
}

// Stop halts the cron runner and waits for a running job to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
}

// sweepSessions deletes expired API sessions.
func (s *Service) sweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := s.sessions.DeleteExpiredSessions(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Session sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Msg("Expired sessions swept")
	}
}

// pruneHistory bounds the previous day's delivery history to the daily cap.
// Today's bucket is left alone since it is still being written.
func (s *Service) pruneHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	pruned, err := s.history.PruneDayBucket(ctx, yesterday, s.webhook.HistoryDailyCap)
	if err != nil {
		s.logger.Error().Err(err).Msg("Delivery history prune failed")
		return
	}
	if pruned > 0 {
		s.logger.Info().
			Int("pruned", pruned).
			Str("day", yesterday.Format("2006-01-02")).
			Msg("Delivery history pruned")
	}
}
