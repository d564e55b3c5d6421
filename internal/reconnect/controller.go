// Package reconnect turns socket lifecycle into session transitions: disconnects pause a
// match and arm a forfeit timer, reconnects cancel it and resume, and voluntary pauses are
// limited to one per player with an auto-resume timer.
package reconnect

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/protocol"
)

// Sessions is the slice of game.Service the controllers drive.
type Sessions interface {
	Disconnect(gameID, userID string) bool
	Reconnect(gameID, userID string) error
	ForceEnd(gameID string, status protocol.Status, loserID string) error
	Pause(gameID, userID, reason string) error
	Resume(gameID, userID string) error
	AutoResume(gameID string) error
}

type DisconnectRecord struct {
	UserID         string
	GameID         string
	DisconnectedAt time.Time
	timer          clockwork.Timer
}

type Controller struct {
	sessions Sessions
	clock    clockwork.Clock
	timeout  time.Duration
	online   func(userID string) bool

	mu      sync.Mutex
	records map[string]*DisconnectRecord
}

type ControllerOption func(*Controller)

// WithOnline lets the controller see a socket that registered before the close of
// the previous one was processed.
func WithOnline(fn func(userID string) bool) ControllerOption {
	return func(c *Controller) { c.online = fn }
}

func NewController(sessions Sessions, timeout time.Duration, clock clockwork.Clock, opts ...ControllerOption) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Controller{
		sessions: sessions,
		clock:    clock,
		timeout:  timeout,
		records:  map[string]*DisconnectRecord{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnDisconnect runs when a user's current socket closes while bound to gameID.
func (c *Controller) OnDisconnect(userID, gameID string) {
	if gameID == "" {
		return
	}
	// mu is held until the record exists, so a racing OnConnect waits for it.
	c.mu.Lock()
	if !c.sessions.Disconnect(gameID, userID) {
		c.mu.Unlock()
		return
	}
	prev := c.records[userID]
	if prev != nil {
		prev.timer.Stop()
		delete(c.records, userID)
		metricReconnectPending.Add(-1)
	}
	back := c.online != nil && c.online(userID)
	if !back {
		rec := &DisconnectRecord{UserID: userID, GameID: gameID, DisconnectedAt: c.clock.Now()}
		rec.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(rec) })
		c.records[userID] = rec
		metricReconnectPending.Add(1)
	}
	c.mu.Unlock()

	if back {
		if err := c.sessions.Reconnect(gameID, userID); err != nil {
			log.Debug().Err(err).Str("user_id", userID).Str("game_id", gameID).Msg("reconnect_skipped")
			return
		}
		metricReconnectsTotal.Add(1)
		log.Info().Str("user_id", userID).Str("game_id", gameID).Msg("player_reconnected")
		return
	}
	log.Info().Str("user_id", userID).Str("game_id", gameID).Dur("timeout", c.timeout).Msg("reconnect_window_opened")
}

func (c *Controller) expire(rec *DisconnectRecord) {
	c.mu.Lock()
	if c.records[rec.UserID] != rec {
		c.mu.Unlock()
		return
	}
	delete(c.records, rec.UserID)
	c.mu.Unlock()

	metricReconnectPending.Add(-1)
	metricReconnectForfeitsTotal.Add(1)
	log.Info().Str("user_id", rec.UserID).Str("game_id", rec.GameID).Msg("reconnect_window_expired")
	if err := c.sessions.ForceEnd(rec.GameID, protocol.StatusCancelled, rec.UserID); err != nil {
		log.Debug().Err(err).Str("game_id", rec.GameID).Msg("forfeit_skipped")
	}
}

// OnConnect runs for every newly registered socket. It returns the game the user was
// restored into, if any.
func (c *Controller) OnConnect(userID string) string {
	c.mu.Lock()
	rec := c.records[userID]
	if rec != nil {
		delete(c.records, userID)
		rec.timer.Stop()
	}
	c.mu.Unlock()
	if rec == nil {
		return ""
	}

	metricReconnectPending.Add(-1)
	if err := c.sessions.Reconnect(rec.GameID, userID); err != nil {
		log.Debug().Err(err).Str("user_id", userID).Str("game_id", rec.GameID).Msg("reconnect_skipped")
		return ""
	}
	metricReconnectsTotal.Add(1)
	log.Info().Str("user_id", userID).Str("game_id", rec.GameID).Dur("away", c.clock.Since(rec.DisconnectedAt)).Msg("player_reconnected")
	return rec.GameID
}

// ForgetGame drops every pending record for a session that has ended.
func (c *Controller) ForgetGame(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for uid, rec := range c.records {
		if rec.GameID != gameID {
			continue
		}
		rec.timer.Stop()
		delete(c.records, uid)
		metricReconnectPending.Add(-1)
	}
}

// Pending returns the open record for userID.
func (c *Controller) Pending(userID string) (DisconnectRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[userID]
	if !ok {
		return DisconnectRecord{}, false
	}
	return DisconnectRecord{UserID: rec.UserID, GameID: rec.GameID, DisconnectedAt: rec.DisconnectedAt}, true
}

// Stop cancels every pending timer.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for uid, rec := range c.records {
		rec.timer.Stop()
		delete(c.records, uid)
		metricReconnectPending.Add(-1)
	}
}
