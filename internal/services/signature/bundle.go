package signature

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
	"github.com/keithah/gvoice-rest-api/internal/services/upstream"
)

// WaaBundleSource fetches signing bundles from the upstream authorization
// service. The Create RPC returns a pblite array containing the interpreter
// script URL, an opaque program blob, and the global name the interpreter
// installs on the page.
type WaaBundleSource struct {
	httpClient *http.Client
	ttl        time.Duration
	logger     arbor.ILogger
}

// NewWaaBundleSource creates a bundle source with the given freshness window.
func NewWaaBundleSource(ttl time.Duration, timeout time.Duration, logger arbor.ILogger) *WaaBundleSource {
	return &WaaBundleSource{
		httpClient: &http.Client{Timeout: timeout},
		ttl:        ttl,
		logger:     logger,
	}
}

// FetchBundle requests a fresh bundle using the session's cookies.
func (s *WaaBundleSource) FetchBundle(ctx context.Context, cred *models.SessionCredential) (*interfaces.SignatureBundle, error) {
	body, err := json.Marshal([]string{upstream.WaaRequestKey})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstream.EndpointWaaCreate, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build bundle request: %w", err)
	}
	req.Header = upstream.PrepareHeaders(upstream.EndpointWaaCreate, upstream.ContentTypePBLite, cred, cred.AuthUser)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundle request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &upstream.UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	bundle, err := parseBundleResponse(respBody, time.Now(), s.ttl)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("global_name", bundle.GlobalName).
		Int("program_bytes", len(bundle.Program)).
		Msg("Fetched fresh signature bundle")

	return bundle, nil
}

// parseBundleResponse extracts the bundle fields from the pblite response.
// Layout: [[_, _, _, [_, _, _, interpreter_url], _, program, global_name]].
func parseBundleResponse(body []byte, now time.Time, ttl time.Duration) (*interfaces.SignatureBundle, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("malformed bundle response: %w", err)
	}
	if len(outer) == 0 {
		return nil, fmt.Errorf("empty bundle response")
	}

	var data []json.RawMessage
	if err := json.Unmarshal(outer[0], &data); err != nil {
		return nil, fmt.Errorf("malformed bundle payload: %w", err)
	}
	if len(data) < 7 {
		return nil, fmt.Errorf("bundle payload too short: %d fields", len(data))
	}

	var interpreterWrap []json.RawMessage
	if err := json.Unmarshal(data[3], &interpreterWrap); err != nil || len(interpreterWrap) < 4 {
		return nil, fmt.Errorf("bundle payload missing interpreter descriptor")
	}

	var interpreterURL, program, globalName string
	if err := json.Unmarshal(interpreterWrap[3], &interpreterURL); err != nil {
		return nil, fmt.Errorf("bundle payload missing interpreter url")
	}
	if err := json.Unmarshal(data[5], &program); err != nil {
		return nil, fmt.Errorf("bundle payload missing program")
	}
	if err := json.Unmarshal(data[6], &globalName); err != nil {
		return nil, fmt.Errorf("bundle payload missing global name")
	}

	if interpreterURL == "" || program == "" || globalName == "" {
		return nil, fmt.Errorf("bundle payload incomplete")
	}

	// The interpreter URL comes back protocol-relative.
	if strings.HasPrefix(interpreterURL, "//") {
		interpreterURL = "https:" + interpreterURL
	}

	return &interfaces.SignatureBundle{
		InterpreterURL: interpreterURL,
		Program:        program,
		GlobalName:     globalName,
		IssuedAt:       now.Unix(),
		ExpiresAt:      now.Add(ttl).Unix(),
	}, nil
}
