package interfaces

import (
	"context"

	"github.com/keithah/gvoice-rest-api/internal/models"
)

// RealtimeManager supervises one long-poll channel client per active user.
type RealtimeManager interface {
	// Start opens a channel for the user. If a client is already running for
	// the user it is stopped first; there are never two pollers per user.
	Start(ctx context.Context, userID string, cred *models.SessionCredential) error
	// Stop cancels the user's poll task and awaits its termination.
	// Idempotent.
	Stop(userID string)
	StopAll()
	IsRunning(userID string) bool
	Session(userID string) (*models.RealtimeSession, bool)
}
