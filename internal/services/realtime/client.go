package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
	"github.com/keithah/gvoice-rest-api/internal/services/upstream"
)

// ErrChannelExhausted is returned when the poll loop gives up after too many
// consecutive failures. The owner must restart the client explicitly.
var ErrChannelExhausted = errors.New("realtime channel exhausted after repeated poll failures")

// chooseServerBody subscribes the session to the voice event streams.
const chooseServerBody = `[[null,null,null,[7,5],null,[null,[null,1],[[["3"]]]]]]`

// channelSubscriptions are the per-stream subscription requests sent when a
// channel is opened, keyed req0 through req6 on the wire.
var channelSubscriptions = []string{
	`[[["1",[null,null,null,[7,5],null,[null,[null,1],[[["2"]]]],null,1,2],null,3]]]`,
	`[[["2",[null,null,null,[7,5],null,[null,[null,1],[[["3"]]]],null,1,2],null,3]]]`,
	`[[["3",[null,null,null,[7,5],null,[null,[null,1],[[["3"]]]],null,1,2],null,3]]]`,
	`[[["4",[null,null,null,[7,5],null,[null,[null,1],[[["1"]]]],null,1,2],null,3]]]`,
	`[[["5",[null,null,null,[7,5],null,[null,[null,1],[[["1"]]]],null,1,2],null,3]]]`,
	`[[["6",[null,null,null,[7,5],null,[null,[null,1],[[["1"]]]],null,1,2],null,3]]]`,
	`[[["9",[null,null,null,[7,5],null,[null,[null,1],[[["1"]]]],null,1,2],null,3]]]`,
}

// Client is a long-poll channel client for one user. The lifecycle is
// Idle -> Negotiating -> Polling -> Stopped; Run drives the whole thing and
// only returns when the context is cancelled or the channel is exhausted.
type Client struct {
	userID     string
	cred       *models.SessionCredential
	events     interfaces.EventService
	httpClient *http.Client
	config     *common.RealtimeConfig
	logger     arbor.ILogger

	// Endpoint overrides for tests; empty means the production endpoints.
	chooseServerURL string
	channelURL      string

	mu      sync.Mutex
	session models.RealtimeSession
}

// NewClient creates a channel client for the user.
func NewClient(userID string, cred *models.SessionCredential, events interfaces.EventService, config *common.RealtimeConfig, logger arbor.ILogger) *Client {
	return &Client{
		userID: userID,
		cred:   cred,
		events: events,
		// Long-poll reads block until the server pushes a frame, so the
		// client itself carries no timeout; cancellation comes from ctx.
		httpClient: &http.Client{},
		config:     config,
		logger:     logger,
		session: models.RealtimeSession{
			UserID: userID,
			State:  models.RealtimeIdle,
		},
	}
}

// Session returns a snapshot of the client's channel state.
func (c *Client) Session() models.RealtimeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Run negotiates a channel and polls it until ctx is cancelled or the
// failure budget is spent.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(models.RealtimeStopped)

	c.setState(models.RealtimeNegotiating)

	serverSession, err := c.chooseServer(ctx)
	if err != nil {
		return fmt.Errorf("server negotiation failed: %w", err)
	}

	channelSession, err := c.createChannel(ctx, serverSession)
	if err != nil {
		return fmt.Errorf("channel creation failed: %w", err)
	}

	c.mu.Lock()
	c.session.ServerSessionID = serverSession
	c.session.ChannelSessionID = channelSession
	c.session.State = models.RealtimePolling
	c.mu.Unlock()

	c.logger.Info().
		Str("user_id", c.userID).
		Str("server_session", serverSession).
		Str("channel_session", channelSession).
		Msg("Realtime channel established")

	return c.poll(ctx, serverSession, channelSession)
}

func (c *Client) setState(state models.RealtimeState) {
	c.mu.Lock()
	c.session.State = state
	c.mu.Unlock()
}

func (c *Client) chooseServerEndpoint() string {
	if c.chooseServerURL != "" {
		return c.chooseServerURL
	}
	return upstream.EndpointChooseServer
}

func (c *Client) channelEndpoint() string {
	if c.channelURL != "" {
		return c.channelURL
	}
	return upstream.EndpointChannel
}

// chooseServer asks for a server assignment and returns the session handle.
func (c *Client) chooseServer(ctx context.Context) (string, error) {
	endpoint := c.chooseServerEndpoint()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(chooseServerBody))
	if err != nil {
		return "", err
	}
	req.Header = upstream.PrepareHeaders(endpoint, upstream.ContentTypePBLite, c.cred, c.cred.AuthUser)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &upstream.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return sessionHandle(body), nil
}

// createChannel opens the multi-watch channel on the assigned server and
// returns the channel session handle.
func (c *Client) createChannel(ctx context.Context, serverSession string) (string, error) {
	endpoint := c.channelEndpoint()

	query := url.Values{}
	query.Set("VER", "8")
	query.Set("gsessionid", serverSession)
	query.Set("RID", strconv.Itoa(10000+rand.Intn(90000)))
	query.Set("CVER", "22")
	query.Set("t", "1")

	form := url.Values{}
	form.Set("count", strconv.Itoa(len(channelSubscriptions)))
	form.Set("ofs", "0")
	for i, sub := range channelSubscriptions {
		form.Set(fmt.Sprintf("req%d___data__", i), sub)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+query.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header = upstream.PrepareHeaders(endpoint, upstream.ContentTypeForm, c.cred, c.cred.AuthUser)
	req.Header.Set("X-WebChannel-Content-Type", upstream.ContentTypePBLite)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &upstream.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return sessionHandle(body), nil
}

// poll runs the long-poll loop. Each successful read resets the failure
// count; each failure sleeps failures * backoff unit, capped, until the
// failure budget is spent.
func (c *Client) poll(ctx context.Context, serverSession, channelSession string) error {
	failures := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.pollOnce(ctx, serverSession, channelSession)
		if err == nil {
			failures = 0
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}

		failures++
		c.logger.Warn().
			Err(err).
			Str("user_id", c.userID).
			Int("consecutive_failures", failures).
			Msg("Realtime poll failed")

		if failures >= c.config.MaxConsecutiveFailures {
			c.logger.Error().
				Str("user_id", c.userID).
				Int("failures", failures).
				Msg("Realtime channel exhausted, stopping poller")
			return ErrChannelExhausted
		}

		backoff := time.Duration(failures) * c.config.BackoffUnit
		if backoff > c.config.BackoffCap {
			backoff = c.config.BackoffCap
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pollOnce issues one streaming GET and consumes frames until the server
// closes the connection.
func (c *Client) pollOnce(ctx context.Context, serverSession, channelSession string) error {
	endpoint := c.channelEndpoint()

	c.mu.Lock()
	ackID := c.session.LastAckID
	c.mu.Unlock()

	query := url.Values{}
	query.Set("VER", "8")
	query.Set("gsessionid", serverSession)
	query.Set("RID", "rpc")
	query.Set("SID", channelSession)
	query.Set("AID", strconv.FormatInt(ackID, 10))
	query.Set("CI", "0")
	query.Set("TYPE", "xmlhttp")
	query.Set("t", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header = upstream.PrepareHeaders(endpoint, "", c.cred, c.cred.AuthUser)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &upstream.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.consumeFrame(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return nil
}

// consumeFrame advances the ack id and dispatches the frame. The ack id
// advances for every frame read, noops included, so the continuation resumes
// past them.
func (c *Client) consumeFrame(ctx context.Context, raw string) {
	c.mu.Lock()
	c.session.LastAckID++
	ackID := c.session.LastAckID
	c.mu.Unlock()

	var data interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		c.logger.Warn().
			Str("user_id", c.userID).
			Int64("ack_id", ackID).
			Msg("Discarding unparseable realtime frame")
		return
	}

	if isNoop(data) {
		return
	}

	c.events.Publish(ctx, interfaces.Event{
		Type:   models.EventMessageReceived,
		UserID: c.userID,
		Data: map[string]interface{}{
			"ack_id":    ackID,
			"raw_data":  data,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// isNoop reports whether the frame is a keepalive.
func isNoop(data interface{}) bool {
	arr, ok := data.([]interface{})
	if !ok || len(arr) < 2 {
		return false
	}
	s, ok := arr[1].(string)
	return ok && s == "noop"
}

// sessionHandle extracts the session id from a negotiation response. The
// handle is the first string in the pblite array; an unparseable body gets a
// locally generated handle, which the server treats as a fresh session.
func sessionHandle(body []byte) string {
	var data interface{}
	if err := json.Unmarshal(body, &data); err == nil {
		if s := firstString(data); s != "" {
			return s
		}
	}
	return fmt.Sprintf("session_%d", 10000000+rand.Intn(90000000))
}

func firstString(data interface{}) string {
	switch v := data.(type) {
	case string:
		return v
	case []interface{}:
		for _, item := range v {
			if s := firstString(item); s != "" {
				return s
			}
		}
	}
	return ""
}
