package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
	"github.com/keithah/gvoice-rest-api/internal/services/auth"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
)

// AuthHandler serves account registration, login and credential import.
type AuthHandler struct {
	auth        interfaces.AuthService
	realtime    interfaces.RealtimeManager
	signer      interfaces.SignatureProvider
	credentials interfaces.CredentialStorage
	logger      arbor.ILogger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService interfaces.AuthService, realtime interfaces.RealtimeManager, signer interfaces.SignatureProvider, credentials interfaces.CredentialStorage, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{
		auth:        authService,
		realtime:    realtime,
		signer:      signer,
		credentials: credentials,
		logger:      logger,
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type cookieLoginRequest struct {
	Email        string            `json:"email" validate:"required,email"`
	Cookies      map[string]string `json:"cookies"`
	CookieString string            `json:"cookie_string"`
}

type sessionResponse struct {
	Status    string       `json:"status"`
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	User      *models.User `json:"user"`
}

func writeSession(w http.ResponseWriter, statusCode int, user *models.User, session *models.APISession) {
	WriteJSON(w, statusCode, sessionResponse{
		Status:    "success",
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		User:      user,
	})
}

// RegisterHandler creates a local account with an email and password.
func (h *AuthHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req registerRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	validate := validator.New()
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	user, session, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Warn().Err(err).Str("email", req.Email).Msg("Registration failed")
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	h.logger.Info().Str("user_id", user.ID).Msg("Account registered")
	writeSession(w, http.StatusCreated, user, session)
}

// LoginHandler authenticates with email and password.
func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	validate := validator.New()
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	user, session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			WriteError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.Error().Err(err).Msg("Login failed")
		WriteError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	writeSession(w, http.StatusOK, user, session)
}

// CookieLoginHandler imports browser-extracted upstream cookies, accepting
// either a cookie map or a raw Cookie header string. The account is
// auto-registered when it does not exist yet.
func (h *AuthHandler) CookieLoginHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req cookieLoginRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	validate := validator.New()
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	cookies := req.Cookies
	if len(cookies) == 0 && strings.TrimSpace(req.CookieString) != "" {
		cookies = common.ParseCookieString(req.CookieString)
	}
	if len(cookies) == 0 {
		WriteError(w, http.StatusBadRequest, "Either cookies or cookie_string is required")
		return
	}

	user, session, err := h.auth.LoginWithCookies(r.Context(), req.Email, cookies)
	if err != nil {
		h.logger.Warn().Err(err).Str("email", req.Email).Msg("Cookie import rejected")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().Str("user_id", user.ID).Msg("Upstream cookies imported")

	// Warm the signing sandbox with the freshly imported cookies. Sends
	// degrade to the fallback signature until it is ready.
	go func() {
		cred, err := h.credentials.GetCredential(context.Background(), user.ID)
		if err != nil {
			return
		}
		h.signer.Initialize(context.Background(), cred)
	}()

	writeSession(w, http.StatusOK, user, session)
}

// MeHandler returns the authenticated user's session details.
func (h *AuthHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    session.UserID,
		"email":      session.Email,
		"expires_at": session.ExpiresAt,
	})
}

// LogoutHandler invalidates the presented session token.
func (h *AuthHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	if err := h.auth.Logout(r.Context(), session.Token); err != nil {
		WriteError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	WriteSuccess(w, "Logged out")
}

// UpstreamLogoutHandler deletes the user's stored upstream cookies and
// stops any running realtime client.
func (h *AuthHandler) UpstreamLogoutHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	h.realtime.Stop(session.UserID)
	if err := h.auth.LogoutUpstream(r.Context(), session.UserID); err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to remove upstream credentials")
		return
	}

	WriteSuccess(w, "Upstream credentials removed")
}
