package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// Manager supervises one channel client per active user. Each client runs in
// its own goroutine; Stop cancels and awaits termination so no poll socket
// outlives its owner.
type Manager struct {
	events interfaces.EventService
	config *common.RealtimeConfig
	logger arbor.ILogger

	// Endpoint overrides for tests; empty means the production endpoints.
	chooseServerURL string
	channelURL      string

	mu      sync.Mutex
	clients map[string]*runningClient
}

type runningClient struct {
	client *Client
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a realtime manager.
func NewManager(events interfaces.EventService, config *common.RealtimeConfig, logger arbor.ILogger) *Manager {
	return &Manager{
		events:  events,
		config:  config,
		logger:  logger,
		clients: make(map[string]*runningClient),
	}
}

// Start opens a channel client for the user. An existing client for the same
// user is stopped first so there is never more than one poller per user.
func (m *Manager) Start(ctx context.Context, userID string, cred *models.SessionCredential) error {
	if cred == nil || !cred.IsAuthenticated() {
		return errors.New("cannot start realtime client without authenticated credentials")
	}

	m.Stop(userID)

	client := NewClient(userID, cred, m.events, m.config, m.logger)
	client.chooseServerURL = m.chooseServerURL
	client.channelURL = m.channelURL
	runCtx, cancel := context.WithCancel(context.Background())
	rc := &runningClient{
		client: client,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.clients[userID] = rc
	m.mu.Unlock()

	go m.supervise(runCtx, userID, rc)

	m.logger.Info().
		Str("user_id", userID).
		Msg("Realtime client started")

	return nil
}

func (m *Manager) supervise(ctx context.Context, userID string, rc *runningClient) {
	defer close(rc.done)

	err := rc.client.Run(ctx)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		m.logger.Info().
			Str("user_id", userID).
			Msg("Realtime client stopped")
	case errors.Is(err, ErrChannelExhausted):
		m.logger.Error().
			Str("user_id", userID).
			Msg("Realtime client gave up; manual restart required")
	default:
		m.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Realtime client terminated")
	}

	m.mu.Lock()
	if m.clients[userID] == rc {
		delete(m.clients, userID)
	}
	m.mu.Unlock()
}

// Stop cancels the user's client and waits for its goroutine to exit.
// Idempotent; a missing client is a no-op.
func (m *Manager) Stop(userID string) {
	m.mu.Lock()
	rc, ok := m.clients[userID]
	if ok {
		delete(m.clients, userID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	rc.cancel()
	<-rc.done

	m.logger.Info().
		Str("user_id", userID).
		Msg("Realtime client shut down")
}

// StopAll stops every running client. Used at process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	running := make(map[string]*runningClient, len(m.clients))
	for userID, rc := range m.clients {
		running[userID] = rc
	}
	m.clients = make(map[string]*runningClient)
	m.mu.Unlock()

	for userID, rc := range running {
		rc.cancel()
		<-rc.done
		m.logger.Info().
			Str("user_id", userID).
			Msg("Realtime client shut down")
	}
}

// IsRunning reports whether a client is active for the user.
func (m *Manager) IsRunning(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clients[userID]
	return ok
}

// Session returns a snapshot of the user's channel state.
func (m *Manager) Session(userID string) (*models.RealtimeSession, bool) {
	m.mu.Lock()
	rc, ok := m.clients[userID]
	m.mu.Unlock()

	if !ok {
		return nil, false
	}
	session := rc.client.Session()
	return &session, true
}
