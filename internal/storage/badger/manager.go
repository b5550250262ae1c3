package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	user       interfaces.UserStorage
	session    interfaces.SessionStorage
	credential interfaces.CredentialStorage
	webhook    interfaces.WebhookStorage
	delivery   interfaces.DeliveryStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		user:       NewUserStorage(db, logger),
		session:    NewSessionStorage(db, logger),
		credential: NewCredentialStorage(db, logger),
		webhook:    NewWebhookStorage(db, logger),
		delivery:   NewDeliveryStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// UserStorage returns the User storage interface
func (m *Manager) UserStorage() interfaces.UserStorage {
	return m.user
}

// SessionStorage returns the Session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// CredentialStorage returns the Credential storage interface
func (m *Manager) CredentialStorage() interfaces.CredentialStorage {
	return m.credential
}

// WebhookStorage returns the Webhook storage interface
func (m *Manager) WebhookStorage() interfaces.WebhookStorage {
	return m.webhook
}

// DeliveryStorage returns the Delivery storage interface
func (m *Manager) DeliveryStorage() interfaces.DeliveryStorage {
	return m.delivery
}

// Close closes the underlying database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
