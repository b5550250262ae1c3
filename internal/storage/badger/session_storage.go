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

// SessionStorage implements the SessionStorage interface for Badger
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SessionStorage) StoreSession(ctx context.Context, session *models.APISession) error {
	if session.Token == "" {
		return fmt.Errorf("session token is required")
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(session.Token, session); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// GetSession returns the session for a token. Expired sessions are deleted
// on read and reported as not found.
func (s *SessionStorage) GetSession(ctx context.Context, token string) (*models.APISession, error) {
	var session models.APISession
	if err := s.db.Store().Get(token, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.Expired() {
		if err := s.db.Store().Delete(token, &models.APISession{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Msg("Failed to delete expired session")
		}
		return nil, fmt.Errorf("session expired")
	}

	return &session, nil
}

func (s *SessionStorage) DeleteSession(ctx context.Context, token string) error {
	if err := s.db.Store().Delete(token, &models.APISession{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all sessions past their expiry and returns
// the number removed.
func (s *SessionStorage) DeleteExpiredSessions(ctx context.Context) (int, error) {
	var sessions []models.APISession
	if err := s.db.Store().Find(&sessions, badgerhold.Where("ExpiresAt").Lt(time.Now())); err != nil {
		return 0, fmt.Errorf("failed to find expired sessions: %w", err)
	}

	deleted := 0
	for i := range sessions {
		if err := s.db.Store().Delete(sessions[i].Token, &models.APISession{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return deleted, fmt.Errorf("failed to delete expired session: %w", err)
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Debug().Int("deleted", deleted).Msg("Swept expired sessions")
	}

	return deleted, nil
}
