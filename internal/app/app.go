// -----------------------------------------------------------------------
// Last Modified: Wednesday, 5th November 2025 8:17:54 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/handlers"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
	"github.com/keithah/gvoice-rest-api/internal/services/auth"
	"github.com/keithah/gvoice-rest-api/internal/services/events"
	"github.com/keithah/gvoice-rest-api/internal/services/realtime"
	"github.com/keithah/gvoice-rest-api/internal/services/scheduler"
	"github.com/keithah/gvoice-rest-api/internal/services/signature"
	"github.com/keithah/gvoice-rest-api/internal/services/upstream"
	"github.com/keithah/gvoice-rest-api/internal/services/webhook"
	"github.com/keithah/gvoice-rest-api/internal/storage"

	"github.com/ternarybob/arbor"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Core services
	EventService      interfaces.EventService
	SignatureProvider interfaces.SignatureProvider
	UpstreamService   *upstream.Service
	RealtimeManager   interfaces.RealtimeManager
	WebhookService    interfaces.WebhookService
	AuthService       interfaces.AuthService
	SchedulerService  *scheduler.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	AuthHandler      *handlers.AuthHandler
	SMSHandler       *handlers.SMSHandler
	WebhookHandler   *handlers.WebhookHandler
	WebSocketHandler *handlers.WebSocketHandler
}

// New creates the application with all services wired together.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.EventService = events.NewService(logger)

	// Signature pipelines are per user: the vendor program is bound to the
	// session cookies it was fetched with, so bundles and sandboxes are
	// never shared across users. When disabled every pipeline degrades to
	// the fallback signature without touching Chrome.
	a.SignatureProvider = signature.NewProviderSet(&config.Signature, logger)

	a.UpstreamService = upstream.NewService(storageManager.CredentialStorage(), a.SignatureProvider, logger, &config.Upstream)
	a.RealtimeManager = realtime.NewManager(a.EventService, &config.Realtime, logger)
	a.WebhookService = webhook.NewService(storageManager.WebhookStorage(), storageManager.DeliveryStorage(), &config.Webhook, logger)
	a.AuthService = auth.NewService(storageManager.UserStorage(), storageManager.SessionStorage(), storageManager.CredentialStorage(), &config.Auth, logger)
	a.SchedulerService = scheduler.NewService(storageManager.SessionStorage(), storageManager.DeliveryStorage(), &config.Scheduler, &config.Webhook, logger)

	// Inbound realtime frames fan out to webhook subscribers as well as
	// websocket clients.
	a.EventService.Subscribe(models.EventMessageReceived, func(ctx context.Context, event interfaces.Event) error {
		return a.WebhookService.Trigger(ctx, event.UserID, event.Type, event.Data)
	})

	a.APIHandler = handlers.NewAPIHandler(logger)
	a.AuthHandler = handlers.NewAuthHandler(a.AuthService, a.RealtimeManager, a.SignatureProvider, storageManager.CredentialStorage(), logger)
	a.SMSHandler = handlers.NewSMSHandler(a.AuthService, a.UpstreamService, a.WebhookService, logger)
	a.WebhookHandler = handlers.NewWebhookHandler(a.AuthService, a.WebhookService, logger)
	a.WebSocketHandler = handlers.NewWebSocketHandler(a.AuthService, storageManager.CredentialStorage(), a.RealtimeManager, a.EventService, &config.WebSocket, logger)

	return a, nil
}

// Start launches background services.
func (a *App) Start() error {
	if err := a.WebhookService.Start(); err != nil {
		return fmt.Errorf("failed to start webhook service: %w", err)
	}
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.Logger.Info().Msg("Application services started")
	return nil
}

// Stop shuts services down in dependency order: realtime clients first so
// no new events are produced, then the webhook engine drains, then storage.
func (a *App) Stop() {
	a.Logger.Info().Msg("Stopping application services")

	a.RealtimeManager.StopAll()
	a.WebhookService.Stop()
	a.SchedulerService.Stop()
	a.SignatureProvider.Close()
	a.cancelCtx()

	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close storage")
	}

	a.Logger.Info().Msg("Application stopped")
}

// Context returns the application's root context.
func (a *App) Context() context.Context {
	return a.ctx
}
