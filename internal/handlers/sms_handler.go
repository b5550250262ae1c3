package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
	"github.com/keithah/gvoice-rest-api/internal/services/upstream"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
)

// SMSHandler serves message send, thread listing and account endpoints
// backed by the upstream client.
type SMSHandler struct {
	auth     interfaces.AuthService
	upstream *upstream.Service
	webhooks interfaces.WebhookService
	logger   arbor.ILogger
}

// NewSMSHandler creates a new SMS handler.
func NewSMSHandler(authService interfaces.AuthService, upstreamService *upstream.Service, webhooks interfaces.WebhookService, logger arbor.ILogger) *SMSHandler {
	return &SMSHandler{
		auth:     authService,
		upstream: upstreamService,
		webhooks: webhooks,
		logger:   logger,
	}
}

type sendSMSRequest struct {
	Recipients []string `json:"recipients" validate:"required,min=1,dive,required"`
	Message    string   `json:"message" validate:"required"`
}

const (
	defaultThreadMessages = 20
	maxThreadMessages     = 100
)

// parseMessageCount bounds the per-thread message fetch to 1..100; invalid
// or missing values fall back to the default.
func parseMessageCount(raw string) int {
	count := defaultThreadMessages
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			count = n
		}
	}
	if count > maxThreadMessages {
		count = maxThreadMessages
	}
	return count
}

// writeUpstreamError maps upstream client failures onto HTTP responses.
// Authentication failures become 401; upstream rejections are surfaced
// with their original status code.
func (h *SMSHandler) writeUpstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, upstream.ErrNotAuthenticated) {
		WriteError(w, http.StatusUnauthorized, "No upstream credentials; import cookies first")
		return
	}
	if errors.Is(err, upstream.ErrAuthenticationExpired) {
		WriteError(w, http.StatusUnauthorized, "Upstream authentication expired; re-import cookies")
		return
	}
	var upErr *upstream.UpstreamError
	if errors.As(err, &upErr) {
		WriteJSON(w, upErr.StatusCode, map[string]string{
			"status": "error",
			"error":  upErr.Body,
		})
		return
	}
	h.logger.Error().Err(err).Msg("Upstream request failed")
	WriteError(w, http.StatusBadGateway, "Upstream request failed")
}

// SendHandler sends an SMS to one or more recipients.
func (h *SMSHandler) SendHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	var req sendSMSRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	validate := validator.New()
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	result, err := h.upstream.Client(session.UserID).SendSMS(r.Context(), req.Recipients, req.Message)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	for _, rr := range result.Results {
		eventType := models.EventMessageSent
		if !rr.Success {
			eventType = models.EventMessageFailed
		}
		h.webhooks.Trigger(r.Context(), session.UserID, eventType, map[string]interface{}{
			"recipient":  rr.Recipient,
			"message_id": rr.MessageID,
			"error":      rr.Error,
		})
	}

	WriteJSON(w, http.StatusOK, result)
}

// ThreadsHandler lists conversation threads for a folder.
func (h *SMSHandler) ThreadsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	folder := r.URL.Query().Get("folder")
	if folder == "" {
		folder = "all"
	}
	pageToken := r.URL.Query().Get("page_token")

	page, err := h.upstream.Client(session.UserID).ListThreads(r.Context(), folder, pageToken)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, page)
}

// ThreadHandler serves a single thread by id: GET fetches its messages,
// DELETE removes it.
func (h *SMSHandler) ThreadHandler(w http.ResponseWriter, r *http.Request) {
	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	threadID := strings.TrimPrefix(r.URL.Path, "/api/sms/threads/")
	if threadID == "" || strings.Contains(threadID, "/") {
		WriteError(w, http.StatusBadRequest, "Thread id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		messageCount := parseMessageCount(r.URL.Query().Get("message_count"))
		detail, err := h.upstream.Client(session.UserID).GetThread(r.Context(), threadID, messageCount)
		if err != nil {
			h.writeUpstreamError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)

	case http.MethodDelete:
		if err := h.upstream.Client(session.UserID).DeleteThread(r.Context(), threadID); err != nil {
			h.writeUpstreamError(w, err)
			return
		}
		h.webhooks.Trigger(r.Context(), session.UserID, models.EventThreadDeleted, map[string]interface{}{
			"thread_id": threadID,
		})
		WriteSuccess(w, "Thread deleted")

	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// MarkAllReadHandler marks every thread as read.
func (h *SMSHandler) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	if err := h.upstream.Client(session.UserID).MarkAllRead(r.Context()); err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	WriteSuccess(w, "All threads marked read")
}

// AccountHandler returns the upstream account summary.
func (h *SMSHandler) AccountHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	account, err := h.upstream.Client(session.UserID).GetAccount(r.Context())
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, account)
}
