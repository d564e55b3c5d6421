package ai

import (
	"math/rand"
	"sync"
	"time"

	"pong-realtime/internal/physics"
)

// State is the per-game AI bookkeeping.
type State struct {
	TargetY          float64
	CurrentDirection physics.Direction
	TimeAccumulator  time.Duration
	Difficulty       Difficulty
	Config           Config
	primed           bool
}

// Manager keeps one State per game id. It is safe for concurrent use across games.
type Manager struct {
	mu       sync.Mutex
	states   map[string]*State
	board    physics.Config
	interval time.Duration
	rng      *rand.Rand
}

func NewManager(board physics.Config, interval time.Duration, seed int64) *Manager {
	if interval <= 0 {
		interval = DefaultDecisionInterval
	}
	return &Manager{
		states:   map[string]*State{},
		board:    board,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Attach creates the AI state for a game. Attaching twice keeps the existing state.
func (m *Manager) Attach(gameID string, d Difficulty) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[gameID]; ok {
		return
	}
	m.states[gameID] = &State{
		TargetY:    m.board.Height / 2,
		Difficulty: d,
		Config:     ConfigFor(d),
	}
	metricAISessionsActive.Add(1)
}

func (m *Manager) Detach(gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[gameID]; ok {
		delete(m.states, gameID)
		metricAISessionsActive.Add(-1)
	}
}

func (m *Manager) Snapshot(gameID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[gameID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Update advances the decision gate by dt and returns the direction the AI paddle
// should take this tick. The target only refreshes once per decision interval; the
// direction is recomputed every call against the latest paddle position.
func (m *Manager) Update(gameID string, s physics.State, side int, dt time.Duration) (physics.Direction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[gameID]
	if !ok {
		return physics.DirStop, false
	}
	st.TimeAccumulator += dt
	if !st.primed || st.TimeAccumulator >= m.interval {
		st.TargetY = Target(s, m.board, side, st.Config, m.rng)
		st.TimeAccumulator = 0
		st.primed = true
		metricAIDecisionsTotal.Add(1)
	}
	st.CurrentDirection = DecideDirection(s.Paddles[side], st.TargetY, st.Config.ReactionDeadzone)
	return st.CurrentDirection, true
}
