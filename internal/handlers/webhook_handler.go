package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
)

// WebhookHandler serves webhook subscription management and delivery
// history endpoints.
type WebhookHandler struct {
	auth     interfaces.AuthService
	webhooks interfaces.WebhookService
	logger   arbor.ILogger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(authService interfaces.AuthService, webhooks interfaces.WebhookService, logger arbor.ILogger) *WebhookHandler {
	return &WebhookHandler{
		auth:     authService,
		webhooks: webhooks,
		logger:   logger,
	}
}

type subscriptionRequest struct {
	URL          string             `json:"url" validate:"required,url"`
	Events       []models.EventType `json:"events"`
	Headers      map[string]string  `json:"headers"`
	Secret       string             `json:"secret"`
	MaxRetries   *int               `json:"max_retries"`
	RetryDelayMS *int               `json:"retry_delay_ms"`
}

// CollectionHandler serves POST (create) and GET (list) on the
// subscriptions collection.
func (h *WebhookHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.create(w, r, session.UserID)
	case http.MethodGet:
		subs, err := h.webhooks.ListSubscriptions(r.Context(), session.UserID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to list subscriptions")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "success",
			"webhooks": subs,
			"count":    len(subs),
		})
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *WebhookHandler) create(w http.ResponseWriter, r *http.Request, userID string) {
	var req subscriptionRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	validate := validator.New()
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	sub := &models.Subscription{
		UserID:  userID,
		URL:     req.URL,
		Events:  req.Events,
		Headers: req.Headers,
		Secret:  req.Secret,
	}
	if req.MaxRetries != nil {
		sub.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelayMS != nil {
		sub.RetryDelay = time.Duration(*req.RetryDelayMS) * time.Millisecond
	}

	if err := h.webhooks.CreateSubscription(r.Context(), sub); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().Str("webhook_id", sub.ID).Str("user_id", userID).Msg("Webhook subscription created")
	WriteJSON(w, http.StatusCreated, sub)
}

// ItemHandler serves GET, PUT and DELETE on a single subscription, plus the
// /test, /reactivate and /deliveries sub-resources.
func (h *WebhookHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/webhooks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Webhook id is required")
		return
	}

	sub, err := h.webhooks.GetSubscription(r.Context(), id)
	if err != nil || sub.UserID != session.UserID {
		WriteError(w, http.StatusNotFound, "Webhook not found")
		return
	}

	switch action {
	case "":
		h.item(w, r, sub)
	case "test":
		h.test(w, r, sub)
	case "reactivate":
		h.reactivate(w, r, sub)
	case "deliveries":
		h.deliveries(w, r, sub)
	default:
		WriteError(w, http.StatusNotFound, "Endpoint not found: "+r.URL.Path)
	}
}

func (h *WebhookHandler) item(w http.ResponseWriter, r *http.Request, sub *models.Subscription) {
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, http.StatusOK, sub)

	case http.MethodPut:
		var req subscriptionRequest
		if !ReadJSON(w, r, &req) {
			return
		}
		validate := validator.New()
		if err := validate.Struct(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
			return
		}
		sub.URL = req.URL
		if req.Events != nil {
			sub.Events = req.Events
		}
		if req.Headers != nil {
			sub.Headers = req.Headers
		}
		if req.Secret != "" {
			sub.Secret = req.Secret
		}
		if req.MaxRetries != nil {
			sub.MaxRetries = *req.MaxRetries
		}
		if req.RetryDelayMS != nil {
			sub.RetryDelay = time.Duration(*req.RetryDelayMS) * time.Millisecond
		}
		if err := h.webhooks.UpdateSubscription(r.Context(), sub); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, sub)

	case http.MethodDelete:
		if err := h.webhooks.DeleteSubscription(r.Context(), sub.ID); err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to delete webhook")
			return
		}
		WriteSuccess(w, "Webhook deleted")

	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// test fires a synthetic event at the subscription so subscribers can
// verify their endpoint and signature handling.
func (h *WebhookHandler) test(w http.ResponseWriter, r *http.Request, sub *models.Subscription) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	eventType := models.EventMessageReceived
	if len(sub.Events) > 0 && sub.Events[0] != models.EventAll {
		eventType = sub.Events[0]
	}

	err := h.webhooks.Trigger(r.Context(), sub.UserID, eventType, map[string]interface{}{
		"test":       true,
		"webhook_id": sub.ID,
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to queue test delivery")
		return
	}

	WriteSuccess(w, "Test delivery queued")
}

func (h *WebhookHandler) reactivate(w http.ResponseWriter, r *http.Request, sub *models.Subscription) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.webhooks.Reactivate(r.Context(), sub.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to reactivate webhook")
		return
	}

	WriteSuccess(w, "Webhook reactivated")
}

func (h *WebhookHandler) deliveries(w http.ResponseWriter, r *http.Request, sub *models.Subscription) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.webhooks.ListDeliveries(r.Context(), sub.ID, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list deliveries")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"deliveries": records,
		"count":      len(records),
	})
}
