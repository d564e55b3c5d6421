package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pong-realtime/internal/ai"
	"pong-realtime/internal/physics"
	"pong-realtime/internal/protocol"
)

const (
	// AIPlayerID is the synthetic user id of the computer paddle.
	AIPlayerID = "AI"
	// LocalGuestID owns paddle B in local matches, where one user drives both paddles.
	LocalGuestID = "guest"
)

const (
	paddleA = 0
	paddleB = 1
)

type Player struct {
	UserID       string
	Username     string
	Alias        string
	IsAI         bool
	AIDifficulty ai.Difficulty
	Paddle       int
	lastSequence int64
}

func paddleName(idx int) string {
	if idx == paddleB {
		return "B"
	}
	return "A"
}

// session is one authoritative match. Every field is guarded by mu; only Service
// touches it.
type session struct {
	mu sync.Mutex

	id         string
	mode       protocol.Mode
	status     protocol.Status
	players    []*Player
	connected  map[string]bool
	state      physics.State
	countdown  int
	sequence   uint64
	pausedBy   string
	pausedAt   time.Time
	startedAt  *time.Time
	finishedAt *time.Time
	lastTick   time.Time
	rng        *rand.Rand

	countdownTimer clockwork.Timer
	countdownGen   uint64
}

func (g *session) player(userID string) *Player {
	for _, p := range g.players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (g *session) aiPlayer() *Player {
	for _, p := range g.players {
		if p.IsAI {
			return p
		}
	}
	return nil
}

func (g *session) humans() []*Player {
	out := make([]*Player, 0, len(g.players))
	for _, p := range g.players {
		if !p.IsAI {
			out = append(out, p)
		}
	}
	return out
}

func (g *session) humanIDs() []string {
	hs := g.humans()
	ids := make([]string, 0, len(hs))
	for _, p := range hs {
		ids = append(ids, p.UserID)
	}
	return ids
}

// ownerOf returns the user id credited for a paddle.
func (g *session) ownerOf(paddle int) string {
	for _, p := range g.players {
		if p.Paddle == paddle {
			return p.UserID
		}
	}
	if g.mode == protocol.ModeLocal && paddle == paddleB {
		return LocalGuestID
	}
	return ""
}

func (g *session) addHuman(sp protocol.SetupPlayer) *Player {
	paddle := paddleA
	if len(g.humans()) > 0 {
		paddle = paddleB
	}
	p := &Player{
		UserID:       sp.UserID,
		Username:     sp.Username,
		Alias:        sp.UserAlias,
		Paddle:       paddle,
		lastSequence: -1,
	}
	g.players = append(g.players, p)
	g.connected[p.UserID] = false
	return p
}

func (g *session) allHumansConnected() bool {
	for _, p := range g.humans() {
		if !g.connected[p.UserID] {
			return false
		}
	}
	return true
}

// ready is true when the match can (re)enter its countdown.
func (g *session) ready() bool {
	if g.status != protocol.StatusPending && g.status != protocol.StatusPaused {
		return false
	}
	if len(g.humans()) != g.mode.RequiredPlayers() {
		return false
	}
	return g.allHumansConnected()
}

func (g *session) stopCountdown() {
	g.countdownGen++
	if g.countdownTimer != nil {
		g.countdownTimer.Stop()
		g.countdownTimer = nil
	}
}

func (g *session) stopPaddles() {
	for i := range g.state.Paddles {
		g.state.Paddles[i].Direction = physics.DirStop
	}
}

func (g *session) frameFor(p *Player) protocol.GameState {
	active := paddleName(p.Paddle)
	if g.mode == protocol.ModeLocal {
		active = "both"
	}
	return protocol.GameState{
		GameID:       g.id,
		Status:       g.status,
		Ball:         g.state.Ball,
		Paddles:      g.state.Paddles,
		Countdown:    g.countdown,
		ActivePaddle: active,
		Sequence:     g.sequence,
	}
}

type delivery struct {
	userID  string
	event   string
	payload any
}

func (g *session) toHumans(event string, payload any) []delivery {
	out := make([]delivery, 0, 2)
	for _, p := range g.humans() {
		out = append(out, delivery{userID: p.UserID, event: event, payload: payload})
	}
	return out
}

func (g *session) toOthers(except, event string, payload any) []delivery {
	out := make([]delivery, 0, 1)
	for _, p := range g.humans() {
		if p.UserID == except {
			continue
		}
		out = append(out, delivery{userID: p.UserID, event: event, payload: payload})
	}
	return out
}

func (g *session) frames() []delivery {
	out := make([]delivery, 0, 2)
	for _, p := range g.humans() {
		out = append(out, delivery{userID: p.UserID, event: protocol.EventGameUpdate, payload: g.frameFor(p)})
	}
	return out
}

// Info is a read-only copy of a session for inspection endpoints.
type Info struct {
	GameID     string          `json:"gameId"`
	Mode       protocol.Mode   `json:"mode"`
	Status     protocol.Status `json:"status"`
	Players    []string        `json:"players"`
	Connected  map[string]bool `json:"connected"`
	Scores     [2]int          `json:"scores"`
	Countdown  int             `json:"countdown"`
	Sequence   uint64          `json:"sequence"`
	PausedBy   string          `json:"pausedBy,omitempty"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

func (g *session) info() Info {
	players := make([]string, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, p.UserID)
	}
	connected := make(map[string]bool, len(g.connected))
	for k, v := range g.connected {
		connected[k] = v
	}
	return Info{
		GameID:     g.id,
		Mode:       g.mode,
		Status:     g.status,
		Players:    players,
		Connected:  connected,
		Scores:     [2]int{g.state.Paddles[0].Score, g.state.Paddles[1].Score},
		Countdown:  g.countdown,
		Sequence:   g.sequence,
		PausedBy:   g.pausedBy,
		StartedAt:  g.startedAt,
		FinishedAt: g.finishedAt,
	}
}
