package signature

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// ProviderSet hands every user a dedicated signing pipeline. The vendor
// program is bound to the session cookies it was fetched with, so the
// bundle cache and the browser sandbox are never shared across users; each
// user gets their own source, executor and bundle, created on first use.
type ProviderSet struct {
	config *common.SignatureConfig
	logger arbor.ILogger

	mu        sync.Mutex
	providers map[string]*Provider
	build     func() *Provider
}

// NewProviderSet creates a provider set. Per-user pipelines are built
// lazily; when signing is disabled every pipeline consists of the fallback
// strategy only.
func NewProviderSet(config *common.SignatureConfig, logger arbor.ILogger) *ProviderSet {
	ps := &ProviderSet{
		config:    config,
		logger:    logger,
		providers: make(map[string]*Provider),
	}
	ps.build = func() *Provider {
		var source interfaces.BundleSource
		var executor interfaces.SignatureExecutor
		if config.Enabled {
			source = NewWaaBundleSource(config.BundleTTL, config.RequestTimeout, logger)
			executor = NewChromeExecutor(config, logger)
		}
		return NewProvider(source, executor, config, logger)
	}
	return ps
}

func (ps *ProviderSet) forUser(userID string) *Provider {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.providers[userID]
	if !ok {
		p = ps.build()
		ps.providers[userID] = p
		ps.logger.Debug().Str("user_id", userID).Msg("Created signing pipeline for user")
	}
	return p
}

// Initialize warms the user's sandbox with their session cookies.
func (ps *ProviderSet) Initialize(ctx context.Context, cred *models.SessionCredential) bool {
	return ps.forUser(cred.UserID).Initialize(ctx, cred)
}

// Sign signs the payload with the user's own pipeline.
func (ps *ProviderSet) Sign(ctx context.Context, cred *models.SessionCredential, payload interfaces.SignPayload) string {
	return ps.forUser(cred.UserID).Sign(ctx, cred, payload)
}

// Close shuts down every user's sandbox.
func (ps *ProviderSet) Close() error {
	ps.mu.Lock()
	providers := make([]*Provider, 0, len(ps.providers))
	for _, p := range ps.providers {
		providers = append(providers, p)
	}
	ps.providers = make(map[string]*Provider)
	ps.mu.Unlock()

	var firstErr error
	for _, p := range providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
