package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
)

// Service hands out per-user upstream clients. Clients share one HTTP
// transport; each user gets their own request pacing limiter.
type Service struct {
	store      interfaces.CredentialStorage
	signer     interfaces.SignatureProvider
	httpClient *http.Client
	logger     arbor.ILogger
	config     *common.UpstreamConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService creates the upstream client service
func NewService(store interfaces.CredentialStorage, signer interfaces.SignatureProvider, logger arbor.ILogger, config *common.UpstreamConfig) *Service {
	return &Service{
		store:  store,
		signer: signer,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger:   logger,
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Client returns an upstream client bound to a user's credential.
func (s *Service) Client(userID string) *Client {
	s.mu.Lock()
	limiter, ok := s.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.config.RateLimit), 1)
		s.limiters[userID] = limiter
	}
	s.mu.Unlock()

	return &Client{
		service: s,
		userID:  userID,
		limiter: limiter,
	}
}

// Client issues authenticated requests to the Google Voice API for one user.
// The credential store is read before and written after every request so
// cookie rotations are never lost.
type Client struct {
	service *Service
	userID  string
	limiter *rate.Limiter
}

// do issues one upstream request. Server-set cookies are merged back into
// the credential store even on non-2xx responses; skipping the merge breaks
// session continuity once the short-lived auth cookies rotate.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, params url.Values, contentType string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	cred, err := c.service.store.GetCredential(ctx, c.userID)
	if err != nil {
		return 0, nil, ErrNotAuthenticated
	}
	if !cred.IsAuthenticated() {
		return 0, nil, ErrAuthenticationExpired
	}

	if params == nil {
		params = url.Values{}
	}
	reqURL := rawURL
	if len(params) > 0 {
		reqURL = rawURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header = PrepareHeaders(rawURL, contentType, cred, cred.AuthUser)

	resp, err := c.service.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	// Cookie absorption is unconditional on response status
	if cookies := resp.Cookies(); len(cookies) > 0 {
		update := make(map[string]string, len(cookies))
		for _, ck := range cookies {
			update[ck.Name] = ck.Value
		}
		if err := c.service.store.MergeCookies(ctx, c.userID, update); err != nil {
			c.service.logger.Warn().Err(err).Str("user_id", c.userID).Msg("Failed to merge response cookies")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		uerr := &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if uerr.IsAuthFailure() {
			return resp.StatusCode, respBody, fmt.Errorf("%w: %s", ErrAuthenticationExpired, uerr.Error())
		}
		return resp.StatusCode, respBody, uerr
	}

	return resp.StatusCode, respBody, nil
}

// apiParams returns the key/alt query params required on the API domain.
func apiParams() url.Values {
	params := url.Values{}
	params.Set("key", APIKey)
	params.Set("alt", "proto")
	return params
}

// SendSMS sends a message to each recipient, returning per-recipient
// results so partial batch failures are visible. Sends are not retried;
// interactive sends fail fast.
func (c *Client) SendSMS(ctx context.Context, recipients []string, message string) (*models.SendResult, error) {
	result := &models.SendResult{Success: true}

	for _, recipient := range recipients {
		txnID := common.NewTransactionID()

		signature := FallbackSignature
		if c.service.signer != nil {
			cred, err := c.service.store.GetCredential(ctx, c.userID)
			if err == nil {
				signature = c.service.signer.Sign(ctx, cred, interfaces.SignPayload{
					ThreadID:      "new_conversation",
					Recipients:    []string{recipient},
					TransactionID: txnID,
					Timestamp:     time.Now().Unix(),
				})
			}
		}

		body, err := encodeSendSMS(message, "", []string{recipient}, txnID, signature)
		if err != nil {
			result.Success = false
			result.Results = append(result.Results, models.RecipientResult{
				Recipient: recipient,
				Success:   false,
				Error:     err.Error(),
			})
			continue
		}

		status, respBody, err := c.do(ctx, http.MethodPost, EndpointSendSMS, body, apiParams(), ContentTypePBLite)
		if err != nil {
			c.service.logger.Warn().
				Err(err).
				Int("status", status).
				Str("recipient", recipient).
				Msg("SMS send rejected")
			result.Success = false
			result.Results = append(result.Results, models.RecipientResult{
				Recipient: recipient,
				Success:   false,
				Error:     sendErrorString(err, respBody),
			})
			continue
		}

		result.Results = append(result.Results, models.RecipientResult{
			Recipient: recipient,
			Success:   true,
			MessageID: strconv.FormatInt(txnID, 10),
		})
	}

	return result, nil
}

func sendErrorString(err error, body []byte) string {
	if len(body) > 0 && len(body) < 200 {
		return fmt.Sprintf("%s: %s", err.Error(), string(body))
	}
	return err.Error()
}

// encodeSendSMS builds the PBLite array body for a send request. The
// signature occupies the final slot.
func encodeSendSMS(message, threadID string, recipients []string, txnID int64, signature string) ([]byte, error) {
	var thread interface{}
	if threadID != "" {
		thread = threadID
	}
	body := []interface{}{
		nil, nil, nil, nil,
		message,
		thread,
		recipients,
		nil,
		[]interface{}{txnID},
		nil,
		[]interface{}{signature},
	}
	return json.Marshal(body)
}

// ListThreads lists conversation threads in a folder. The upstream response
// is protobuf-encoded; decoding the thread payload is out of scope here, so
// a successful call yields the typed envelope with the continuation token.
func (c *Client) ListThreads(ctx context.Context, folder, pageToken string) (*models.ThreadPage, error) {
	reqBody := []interface{}{
		FolderCode(folder),
		20,
		15,
		pageToken,
		[]interface{}{1, 1},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	if _, _, err := c.do(ctx, http.MethodPost, EndpointListThreads, body, apiParams(), ContentTypePBLite); err != nil {
		return nil, err
	}

	return &models.ThreadPage{Threads: []models.Thread{}}, nil
}

// GetThread fetches a thread's recent messages.
func (c *Client) GetThread(ctx context.Context, threadID string, messageCount int) (*models.ThreadDetail, error) {
	if messageCount <= 0 {
		messageCount = 20
	}
	reqBody := []interface{}{
		threadID,
		messageCount,
		"",
		[]interface{}{1, 1},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	if _, _, err := c.do(ctx, http.MethodPost, EndpointGetThread, body, apiParams(), ContentTypePBLite); err != nil {
		return nil, err
	}

	return &models.ThreadDetail{
		ThreadID: threadID,
		Messages: []models.Message{},
	}, nil
}

// DeleteThread deletes a conversation thread.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	body, err := json.Marshal([]interface{}{threadID})
	if err != nil {
		return err
	}
	_, _, err = c.do(ctx, http.MethodPost, EndpointDeleteThread, body, apiParams(), ContentTypePBLite)
	return err
}

// MarkAllRead marks every thread as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodPost, EndpointMarkAllRead, []byte("[]"), apiParams(), ContentTypePBLite)
	return err
}

// GetAccount fetches the upstream account summary.
func (c *Client) GetAccount(ctx context.Context) (*models.Account, error) {
	body, err := json.Marshal([]interface{}{nil, 1})
	if err != nil {
		return nil, err
	}

	if _, _, err := c.do(ctx, http.MethodPost, EndpointGetAccount, body, apiParams(), ContentTypePBLite); err != nil {
		return nil, err
	}

	return &models.Account{}, nil
}
