package conn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/config"
)

// Socket is the subset of *websocket.Conn the manager writes through.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Quality string

const (
	QualityUnknown Quality = "unknown"
	QualityGood    Quality = "good"
	QualityFair    Quality = "fair"
	QualityPoor    Quality = "poor"
)

func qualityFor(rtt time.Duration) Quality {
	switch {
	case rtt < 100*time.Millisecond:
		return QualityGood
	case rtt < 300*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}

type Identity struct {
	UserID    string
	Username  string
	UserAlias string
}

// Connection is one authenticated socket.
type Connection struct {
	ID       string
	Identity Identity

	socket Socket
	send   chan []byte
	done   chan struct{}
	hb     config.HeartbeatConfig
	clock  clockwork.Clock

	mu           sync.Mutex
	gameID       string
	lastPing     time.Time
	lastPong     time.Time
	awaitingPong bool
	missedPings  int
	rtt          time.Duration
	quality      Quality
	ticker       clockwork.Ticker
	closed       bool
}

func (c *Connection) UserID() string { return c.Identity.UserID }

func (c *Connection) GameID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

func (c *Connection) setGameID(gameID string) {
	c.mu.Lock()
	c.gameID = gameID
	c.mu.Unlock()
}

// HeartbeatStatus is the observable heartbeat bookkeeping.
type HeartbeatStatus struct {
	LastPing    time.Time
	LastPong    time.Time
	MissedPings int
	RTT         time.Duration
	Quality     Quality
}

func (c *Connection) Heartbeat() HeartbeatStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HeartbeatStatus{
		LastPing:    c.lastPing,
		LastPong:    c.lastPong,
		MissedPings: c.missedPings,
		RTT:         c.rtt,
		Quality:     c.quality,
	}
}

// Send queues data for the writer. A full queue drops the message.
func (c *Connection) Send(data []byte) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		metricMessagesDroppedTotal.Add(1)
		log.Warn().Str("user_id", c.UserID()).Str("conn_id", c.ID).Msg("send_queue_full")
		return false
	}
}

func (c *Connection) writeLoop(onError func(err error)) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.socket.SetWriteDeadline(c.clock.Now().Add(c.hb.WriteTimeout))
			if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
				onError(err)
				return
			}
		}
	}
}

// HandlePong records a pong and refreshes the round-trip estimate.
func (c *Connection) HandlePong(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = now
	c.missedPings = 0
	if c.awaitingPong && !c.lastPing.IsZero() {
		c.rtt = now.Sub(c.lastPing)
		c.quality = qualityFor(c.rtt)
	}
	c.awaitingPong = false
}

// heartbeatTick runs on every ping interval. It counts the previous ping as missed
// when no pong arrived within the pong timeout, and reports whether the connection
// is lost. Otherwise it sends a fresh ping.
func (c *Connection) heartbeatTick(now time.Time) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.awaitingPong && now.Sub(c.lastPing) >= c.hb.PongTimeout {
		c.missedPings++
	}
	lost := c.missedPings >= c.hb.MaxMissedPings
	if !lost {
		c.lastPing = now
		c.awaitingPong = true
	}
	missed := c.missedPings
	c.mu.Unlock()

	if lost {
		return true
	}
	if err := c.socket.WriteControl(websocket.PingMessage, nil, now.Add(c.hb.WriteTimeout)); err != nil {
		log.Debug().Err(err).Str("user_id", c.UserID()).Int("missed_pings", missed).Msg("ping_write_failed")
	}
	return false
}

// shutdown sends a close frame with code and releases the socket. Safe to call twice.
func (c *Connection) shutdown(code int, reason string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	ticker := c.ticker
	c.ticker = nil
	c.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	close(c.done)
	deadline := c.clock.Now().Add(c.hb.WriteTimeout)
	_ = c.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.socket.Close()
	return true
}
