// Package conn owns live sockets: admission, last-connection-wins eviction, per-socket
// writers and the ping/pong heartbeat. It knows nothing about game rules.
package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/config"
	"pong-realtime/internal/protocol"
)

var (
	ErrMaxConnections = errors.New("max_connections_reached")
	ErrShuttingDown   = errors.New("shutting_down")
)

const (
	sendBuffer = 64
	drainPoll  = 10 * time.Millisecond
)

// Hooks connect socket lifecycle to the rest of the server. OnOpen receives the game id
// carried over from an evicted connection, if any. OnClose fires only when the closing
// connection is still the user's current one, so evictions never look like disconnects.
type Hooks struct {
	OnOpen  func(c *Connection, carriedGameID string)
	OnClose func(c *Connection, gameID string)
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithHooks(h Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

type Manager struct {
	maxConns int
	hb       config.HeartbeatConfig
	clock    clockwork.Clock
	hooks    Hooks

	mu      sync.Mutex
	byUser  map[string]*Connection
	closing bool
}

func NewManager(maxConns int, hb config.HeartbeatConfig, opts ...Option) *Manager {
	m := &Manager{
		maxConns: maxConns,
		hb:       hb,
		clock:    clockwork.NewRealClock(),
		byUser:   map[string]*Connection{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetHooks replaces the lifecycle hooks. Call before the first Register.
func (m *Manager) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// Register admits an authenticated socket. Over capacity the socket is closed with
// the max-connections code. An existing connection for the same user is closed with
// the replaced code and its game binding moves to the new connection.
func (m *Manager) Register(id Identity, socket Socket) (*Connection, error) {
	c := &Connection{
		ID:       uuid.NewString(),
		Identity: id,
		socket:   socket,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		hb:       m.hb,
		clock:    m.clock,
		quality:  QualityUnknown,
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		c.shutdown(protocol.CloseGoingAway, "server shutting down")
		return nil, ErrShuttingDown
	}
	old := m.byUser[id.UserID]
	if old == nil && m.maxConns > 0 && len(m.byUser) >= m.maxConns {
		m.mu.Unlock()
		metricConnectionsRejectedTotal.Add(1)
		log.Warn().Str("user_id", id.UserID).Int("max_connections", m.maxConns).Msg("connection_rejected")
		c.shutdown(protocol.CloseMaxConnections, "max connections reached")
		return nil, ErrMaxConnections
	}
	m.byUser[id.UserID] = c
	hooks := m.hooks
	m.mu.Unlock()

	carried := ""
	if old != nil {
		carried = old.GameID()
		c.setGameID(carried)
		old.shutdown(protocol.CloseReplaced, "replaced by new connection")
		metricConnectionsEvictedTotal.Add(1)
		log.Info().Str("user_id", id.UserID).Str("old_conn_id", old.ID).Str("conn_id", c.ID).Msg("connection_replaced")
	} else {
		metricConnectionsActive.Add(1)
	}
	metricConnectionsTotal.Add(1)

	go c.writeLoop(func(err error) {
		log.Debug().Err(err).Str("conn_id", c.ID).Msg("socket_write_failed")
		m.Remove(c, protocol.CloseInternalError, "write failed")
	})
	m.startHeartbeat(c)

	log.Info().Str("user_id", id.UserID).Str("conn_id", c.ID).Str("game_id", carried).Msg("connection_opened")
	if hooks.OnOpen != nil {
		hooks.OnOpen(c, carried)
	}
	return c, nil
}

func (m *Manager) startHeartbeat(c *Connection) {
	if m.hb.PingInterval <= 0 {
		return
	}
	ticker := m.clock.NewTicker(m.hb.PingInterval)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ticker.Stop()
		return
	}
	c.ticker = ticker
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-c.done:
				return
			case now := <-ticker.Chan():
				if c.heartbeatTick(now) {
					metricHeartbeatLostTotal.Add(1)
					log.Warn().Str("user_id", c.UserID()).Str("conn_id", c.ID).Msg("connection_lost")
					m.Remove(c, protocol.CloseConnectionLost, "connection lost")
					return
				}
			}
		}
	}()
}

// Remove closes c with code. Disconnect cleanup runs only for the user's current connection.
func (m *Manager) Remove(c *Connection, code int, reason string) {
	m.mu.Lock()
	current := m.byUser[c.UserID()] == c
	if current {
		delete(m.byUser, c.UserID())
	}
	hooks := m.hooks
	m.mu.Unlock()

	c.shutdown(code, reason)
	if !current {
		return
	}
	metricConnectionsActive.Add(-1)
	gameID := c.GameID()
	log.Info().Str("user_id", c.UserID()).Str("conn_id", c.ID).Int("close_code", code).Str("game_id", gameID).Msg("connection_closed")
	if hooks.OnClose != nil {
		hooks.OnClose(c, gameID)
	}
}

func (m *Manager) Get(userID string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byUser[userID]
	return c, ok
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byUser)
}

// SendTo encodes and queues an event for userID's live connection.
func (m *Manager) SendTo(userID, event string, payload any) bool {
	c, ok := m.Get(userID)
	if !ok {
		return false
	}
	data, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode_failed")
		return false
	}
	return c.Send(data)
}

func (m *Manager) Bind(userID, gameID string) {
	if c, ok := m.Get(userID); ok {
		c.setGameID(gameID)
	}
}

// Unbind clears userID's binding only if it still points at gameID.
func (m *Manager) Unbind(userID, gameID string) {
	c, ok := m.Get(userID)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.gameID == gameID {
		c.gameID = ""
	}
	c.mu.Unlock()
}

// StopAccepting rejects every later Register with the going-away code.
func (m *Manager) StopAccepting() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
}

// NotifyAll sends a notification to every live connection.
func (m *Manager) NotifyAll(kind, message string) int {
	n := 0
	for _, c := range m.snapshot() {
		if m.SendTo(c.UserID(), protocol.EventNotification, protocol.NewNotification(kind, message, m.clock.Now())) {
			n++
		}
	}
	return n
}

// CloseAll closes every connection without running disconnect hooks.
func (m *Manager) CloseAll(code int, reason string) int {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.byUser))
	for uid, c := range m.byUser {
		conns = append(conns, c)
		delete(m.byUser, uid)
	}
	m.mu.Unlock()
	for _, c := range conns {
		if c.shutdown(code, reason) {
			metricConnectionsActive.Add(-1)
		}
	}
	return len(conns)
}

// Drain gives writers a moment to flush queued messages before sockets close.
func (m *Manager) Drain(timeout time.Duration) {
	deadline := m.clock.NewTimer(timeout)
	defer deadline.Stop()
	poll := m.clock.NewTicker(drainPoll)
	defer poll.Stop()
	for m.pending() > 0 {
		select {
		case <-deadline.Chan():
			log.Warn().Int("pending", m.pending()).Msg("drain_timed_out")
			return
		case <-poll.Chan():
		}
	}
}

func (m *Manager) pending() int {
	n := 0
	for _, c := range m.snapshot() {
		n += len(c.send)
	}
	return n
}

func (m *Manager) snapshot() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(m.byUser))
	for _, c := range m.byUser {
		out = append(out, c)
	}
	return out
}

// Statuses lists heartbeat state per user, for diagnostics.
func (m *Manager) Statuses() map[string]HeartbeatStatus {
	out := map[string]HeartbeatStatus{}
	for _, c := range m.snapshot() {
		out[c.UserID()] = c.Heartbeat()
	}
	return out
}

// IsNormalClose reports close errors that should not be logged as failures.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
