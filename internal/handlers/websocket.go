package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn wraps a websocket connection with a write mutex so event fan-out
// and control replies never interleave frames.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

// WebSocketHandler upgrades authenticated clients and fans realtime events
// out to every socket a user has open. The first socket a user opens starts
// their long-poll channel; closing the last one stops it.
type WebSocketHandler struct {
	auth        interfaces.AuthService
	credentials interfaces.CredentialStorage
	realtime    interfaces.RealtimeManager
	logger      arbor.ILogger
	throttle    time.Duration

	mu       sync.Mutex
	conns    map[string][]*wsConn
	limiters map[string]*rate.Limiter
}

// NewWebSocketHandler creates a websocket handler and subscribes it to
// inbound message events.
func NewWebSocketHandler(authService interfaces.AuthService, credentials interfaces.CredentialStorage, realtime interfaces.RealtimeManager, events interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		auth:        authService,
		credentials: credentials,
		realtime:    realtime,
		logger:      logger,
		conns:       make(map[string][]*wsConn),
		limiters:    make(map[string]*rate.Limiter),
	}
	if config != nil && config.ThrottleInterval != "" {
		d, err := time.ParseDuration(config.ThrottleInterval)
		if err != nil {
			logger.Warn().Err(err).Str("throttle_interval", config.ThrottleInterval).Msg("Invalid throttle interval, broadcasts unthrottled")
		} else {
			h.throttle = d
		}
	}
	events.Subscribe(models.EventMessageReceived, h.onEvent)
	return h
}

// HandleWebSocket authenticates via the token query parameter, upgrades the
// connection and serves it until the client disconnects.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := h.auth.Validate(r.Context(), BearerToken(r))
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "Invalid or expired session token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsConn{conn: conn}
	defer func() {
		h.unregister(session.UserID, c)
		conn.Close()
	}()

	cred, err := h.credentials.GetCredential(r.Context(), session.UserID)
	if err != nil || !cred.IsAuthenticated() {
		c.writeJSON(map[string]string{
			"type":  "error",
			"error": "No upstream credentials; import cookies first",
		})
		return
	}

	h.register(r.Context(), session.UserID, c, cred)
	c.writeJSON(map[string]interface{}{
		"type":    "connected",
		"user_id": session.UserID,
	})

	h.readLoop(session.UserID, c)
}

func (h *WebSocketHandler) register(ctx context.Context, userID string, c *wsConn, cred *models.SessionCredential) {
	h.mu.Lock()
	first := len(h.conns[userID]) == 0
	h.conns[userID] = append(h.conns[userID], c)
	count := len(h.conns[userID])
	h.mu.Unlock()

	// Starting the poller awaits any previous client for the user, so it
	// must never run while the socket set lock is held.
	if first {
		if err := h.realtime.Start(ctx, userID, cred); err != nil {
			h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to start realtime client")
		}
	}
	h.logger.Info().Str("user_id", userID).Int("connections", count).Msg("WebSocket connected")
}

func (h *WebSocketHandler) unregister(userID string, c *wsConn) {
	h.mu.Lock()
	conns, ok := h.conns[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	found := false
	for i, cc := range conns {
		if cc == c {
			conns = append(conns[:i], conns[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		h.mu.Unlock()
		return
	}
	last := len(conns) == 0
	if last {
		delete(h.conns, userID)
		delete(h.limiters, userID)
	} else {
		h.conns[userID] = conns
	}
	h.mu.Unlock()

	// Stop awaits the poller goroutine, and a dead socket found during
	// fan-out is unregistered on that same goroutine. Stop detached, and
	// re-check the socket set in case a new connection arrived meanwhile.
	if last {
		go func() {
			h.mu.Lock()
			empty := len(h.conns[userID]) == 0
			h.mu.Unlock()
			if empty {
				h.realtime.Stop(userID)
			}
		}()
	}
	h.logger.Info().Str("user_id", userID).Int("connections", len(conns)).Msg("WebSocket disconnected")
}

// readLoop answers client control messages until the connection drops.
func (h *WebSocketHandler) readLoop(userID string, c *wsConn) {
	for {
		var msg map[string]interface{}
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg["type"] {
		case "ping":
			c.writeJSON(map[string]string{"type": "pong"})
		case "status":
			users, total := h.counts()
			c.writeJSON(map[string]interface{}{
				"type":              "status",
				"connected_users":   users,
				"total_connections": total,
			})
		}
	}
}

// limiter returns the user's broadcast limiter, or nil when throttling is
// off.
func (h *WebSocketHandler) limiter(userID string) *rate.Limiter {
	if h.throttle <= 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	lim, ok := h.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(h.throttle), 1)
		h.limiters[userID] = lim
	}
	return lim
}

// onEvent fans an inbound realtime event out to every socket the user has
// open. Sockets whose write fails are pruned.
func (h *WebSocketHandler) onEvent(ctx context.Context, event interfaces.Event) error {
	if lim := h.limiter(event.UserID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	frame := map[string]interface{}{
		"type":  "message",
		"event": string(event.Type),
		"data":  event.Data,
	}

	h.mu.Lock()
	conns := make([]*wsConn, len(h.conns[event.UserID]))
	copy(conns, h.conns[event.UserID])
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.writeJSON(frame); err != nil {
			h.logger.Warn().Err(err).Str("user_id", event.UserID).Msg("Dropping dead websocket")
			c.conn.Close()
			h.unregister(event.UserID, c)
		}
	}
	return nil
}

func (h *WebSocketHandler) counts() (users int, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.conns {
		if len(conns) > 0 {
			users++
			total += len(conns)
		}
	}
	return users, total
}

// StatusHandler reports gateway connection counts and which users have an
// active realtime channel.
func (h *WebSocketHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	session := RequireSession(r.Context(), w, r, h.auth)
	if session == nil {
		return
	}

	h.mu.Lock()
	active := make([]string, 0, len(h.conns))
	users := len(h.conns)
	total := 0
	for userID, conns := range h.conns {
		if len(conns) > 0 && h.realtime.IsRunning(userID) {
			active = append(active, userID)
		}
		total += len(conns)
	}
	h.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "success",
		"connected_users":   users,
		"total_connections": total,
		"active_users":      active,
	})
}
