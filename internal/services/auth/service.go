package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/crypto/bcrypt"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// ErrInvalidCredentials is returned for a wrong email/password pair. The
// message is deliberately identical for both cases.
var ErrInvalidCredentials = errors.New("invalid email or password")

// requiredCookies are the upstream identity cookies a cookie import must
// carry to be usable.
var requiredCookies = []string{"SAPISID", "HSID", "SSID", "APISID", "SID"}

// Service implements AuthService on top of the user, session and credential
// stores.
type Service struct {
	users       interfaces.UserStorage
	sessions    interfaces.SessionStorage
	credentials interfaces.CredentialStorage
	config      *common.AuthConfig
	logger      arbor.ILogger
}

// NewService creates an auth service.
func NewService(users interfaces.UserStorage, sessions interfaces.SessionStorage, credentials interfaces.CredentialStorage, config *common.AuthConfig, logger arbor.ILogger) *Service {
	return &Service{
		users:       users,
		sessions:    sessions,
		credentials: credentials,
		config:      config,
		logger:      logger,
	}
}

// Register creates a local account and issues a session for it.
func (s *Service) Register(ctx context.Context, email, password string) (*models.User, *models.APISession, error) {
	if existing, _ := s.users.GetUserByEmail(ctx, email); existing != nil {
		return nil, nil, fmt.Errorf("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.StoreUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("failed to store user: %w", err)
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("email", email).
		Msg("User registered")

	return user, session, nil
}

// Login verifies the password and issues a fresh session.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, *models.APISession, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil || user == nil {
		return nil, nil, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		// Cookie-imported accounts have no password to check.
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return user, session, nil
}

// LoginWithCookies imports browser-extracted upstream cookies for the
// account, creating the account first when it does not exist.
func (s *Service) LoginWithCookies(ctx context.Context, email string, cookies map[string]string) (*models.User, *models.APISession, error) {
	if err := ValidateCookies(cookies); err != nil {
		return nil, nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil || user == nil {
		now := time.Now().UTC()
		user = &models.User{
			ID:        uuid.New().String(),
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.users.StoreUser(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("failed to store user: %w", err)
		}
		s.logger.Info().
			Str("user_id", user.ID).
			Str("email", email).
			Msg("User auto-registered via cookie import")
	}

	now := time.Now().UTC()
	cred := &models.SessionCredential{
		UserID:    user.ID,
		Cookies:   cookies,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.credentials.StoreCredential(ctx, cred); err != nil {
		return nil, nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Int("cookie_count", len(cookies)).
		Msg("Upstream cookies imported")

	return user, session, nil
}

// Validate resolves a bearer token to its session.
func (s *Service) Validate(ctx context.Context, token string) (*models.APISession, error) {
	if token == "" {
		return nil, fmt.Errorf("missing session token")
	}
	return s.sessions.GetSession(ctx, token)
}

// Logout deletes the session for the token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.DeleteSession(ctx, token)
}

// LogoutUpstream deletes the user's stored upstream cookies. The local
// account and its API session remain valid.
func (s *Service) LogoutUpstream(ctx context.Context, userID string) error {
	return s.credentials.DeleteCredential(ctx, userID)
}

func (s *Service) issueSession(ctx context.Context, user *models.User) (*models.APISession, error) {
	now := time.Now().UTC()
	session := &models.APISession{
		Token:     common.NewSessionToken(),
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}
	if err := s.sessions.StoreSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return session, nil
}

// ValidateCookies checks that the cookie map carries every upstream identity
// cookie needed for authenticated requests.
func ValidateCookies(cookies map[string]string) error {
	var missing []string
	for _, name := range requiredCookies {
		if cookies[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required cookies: %v", missing)
	}
	return nil
}
