package interfaces

import (
	"context"

	"github.com/keithah/gvoice-rest-api/internal/models"
)

// AuthService owns local accounts and the API session tokens presented on
// every request, including the websocket upgrade.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*models.User, *models.APISession, error)
	Login(ctx context.Context, email, password string) (*models.User, *models.APISession, error)
	// LoginWithCookies imports browser-extracted upstream cookies,
	// auto-registering the account when it does not exist yet.
	LoginWithCookies(ctx context.Context, email string, cookies map[string]string) (*models.User, *models.APISession, error)
	// Validate resolves a bearer token to its session. Expired or unknown
	// tokens fail.
	Validate(ctx context.Context, token string) (*models.APISession, error)
	Logout(ctx context.Context, token string) error
	// LogoutUpstream deletes the user's stored upstream cookies.
	LogoutUpstream(ctx context.Context, userID string) error
}
