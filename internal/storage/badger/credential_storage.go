package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// CredentialStorage implements the CredentialStorage interface for Badger.
// Cookie updates are serialized per user so a merge never clobbers a
// concurrently-arrived rotation.
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CredentialStorage {
	return &CredentialStorage{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex scoped to a single user's cookie map.
func (s *CredentialStorage) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

func (s *CredentialStorage) StoreCredential(ctx context.Context, cred *models.SessionCredential) error {
	if cred.UserID == "" {
		return fmt.Errorf("credential user ID is required")
	}

	lock := s.userLock(cred.UserID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	if cred.AuthUser == "" {
		cred.AuthUser = "0"
	}

	if err := s.db.Store().Upsert(cred.UserID, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (s *CredentialStorage) GetCredential(ctx context.Context, userID string) (*models.SessionCredential, error) {
	var cred models.SessionCredential
	if err := s.db.Store().Get(userID, &cred); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("credential not found: %s", userID)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// MergeCookies applies merge semantics to the stored cookie map: keys in the
// update are added or overwritten, keys absent from the update are retained.
// The stored map is never partially overwritten.
func (s *CredentialStorage) MergeCookies(ctx context.Context, userID string, cookies map[string]string) error {
	if len(cookies) == 0 {
		return nil
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var cred models.SessionCredential
	if err := s.db.Store().Get(userID, &cred); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("credential not found: %s", userID)
		}
		return fmt.Errorf("failed to get credential: %w", err)
	}

	if cred.Cookies == nil {
		cred.Cookies = make(map[string]string)
	}
	for name, value := range cookies {
		cred.Cookies[name] = value
	}
	cred.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(userID, &cred); err != nil {
		return fmt.Errorf("failed to merge cookies: %w", err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Int("merged", len(cookies)).
		Int("total", len(cred.Cookies)).
		Msg("Merged cookies into credential")

	return nil
}

func (s *CredentialStorage) DeleteCredential(ctx context.Context, userID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.db.Store().Delete(userID, &models.SessionCredential{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
