package signature

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
	"github.com/keithah/gvoice-rest-api/internal/services/upstream"
)

// strategy is one way of producing a signature. Strategies are tried in
// order until one succeeds.
type strategy struct {
	name string
	sign func(ctx context.Context, cred *models.SessionCredential, payload interfaces.SignPayload) (string, error)
}

// Provider produces signatures for mutating upstream requests. The primary
// strategy executes the vendor program in a browser sandbox; when that
// pipeline cannot produce a signature the provider degrades to the static
// fallback, which upstream accepts with reduced deliverability.
type Provider struct {
	source   interfaces.BundleSource
	executor interfaces.SignatureExecutor
	config   *common.SignatureConfig
	logger   arbor.ILogger

	bundle     *interfaces.SignatureBundle
	strategies []strategy
	renewals   sync.Mutex
}

// NewProvider creates a signature provider. A nil executor or source
// disables the browser strategy entirely.
func NewProvider(source interfaces.BundleSource, executor interfaces.SignatureExecutor, config *common.SignatureConfig, logger arbor.ILogger) *Provider {
	p := &Provider{
		source:   source,
		executor: executor,
		config:   config,
		logger:   logger,
	}

	if config.Enabled && source != nil && executor != nil {
		p.strategies = append(p.strategies, strategy{name: "browser", sign: p.signWithBrowser})
	}
	p.strategies = append(p.strategies, strategy{name: "fallback", sign: p.signWithFallback})

	return p
}

// Initialize warms the browser sandbox for the session. A false return means
// only the fallback strategy is available; callers can still send.
func (p *Provider) Initialize(ctx context.Context, cred *models.SessionCredential) bool {
	if !p.config.Enabled || p.executor == nil {
		return false
	}

	if err := p.executor.Initialize(ctx, cred); err != nil {
		p.logger.Warn().
			Err(err).
			Str("user_id", cred.UserID).
			Msg("Signing sandbox initialization failed, falling back to static signature")
		return false
	}

	return true
}

// Sign produces a signature for the payload. It never fails; the last
// strategy always yields the static fallback.
func (p *Provider) Sign(ctx context.Context, cred *models.SessionCredential, payload interfaces.SignPayload) string {
	for _, s := range p.strategies {
		sig, err := s.sign(ctx, cred, payload)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("strategy", s.name).
				Str("user_id", cred.UserID).
				Msg("Signing strategy failed")
			continue
		}
		if s.name != "fallback" {
			p.logger.Debug().
				Str("strategy", s.name).
				Int64("transaction_id", payload.TransactionID).
				Msg("Signature generated")
		}
		return sig
	}
	return upstream.FallbackSignature
}

// Close shuts down the browser sandbox.
func (p *Provider) Close() error {
	if p.executor == nil {
		return nil
	}
	return p.executor.Close()
}

func (p *Provider) signWithBrowser(ctx context.Context, cred *models.SessionCredential, payload interfaces.SignPayload) (string, error) {
	if err := p.executor.Initialize(ctx, cred); err != nil {
		return "", fmt.Errorf("sandbox unavailable: %w", err)
	}

	bundle, err := p.currentBundle(ctx, cred)
	if err != nil {
		return "", err
	}

	return p.executor.Execute(ctx, bundle, payload)
}

func (p *Provider) signWithFallback(context.Context, *models.SessionCredential, interfaces.SignPayload) (string, error) {
	return upstream.FallbackSignature, nil
}

// currentBundle returns the cached bundle, renewing it first whenever it is
// missing or past its expiry. An expired bundle is never used to sign.
func (p *Provider) currentBundle(ctx context.Context, cred *models.SessionCredential) (*interfaces.SignatureBundle, error) {
	p.renewals.Lock()
	defer p.renewals.Unlock()

	if p.bundle != nil && time.Now().Unix() < p.bundle.ExpiresAt {
		return p.bundle, nil
	}

	bundle, err := p.source.FetchBundle(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("bundle renewal failed: %w", err)
	}

	if err := p.executor.LoadProgram(ctx, bundle); err != nil {
		return nil, fmt.Errorf("program load failed: %w", err)
	}

	p.bundle = bundle

	p.logger.Info().
		Str("user_id", cred.UserID).
		Int64("expires_at", bundle.ExpiresAt).
		Msg("Signature bundle renewed")

	return bundle, nil
}
