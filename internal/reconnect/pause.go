package reconnect

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/game"
)

type PausedState struct {
	GameID   string
	PausedBy string
	PausedAt time.Time
	timer    clockwork.Timer
}

// PauseController enforces one voluntary pause per player per match and resumes a
// pause its initiator does not end within the timeout.
type PauseController struct {
	sessions Sessions
	clock    clockwork.Clock
	timeout  time.Duration

	mu     sync.Mutex
	active map[string]*PausedState
	used   map[string]map[string]bool
}

func NewPauseController(sessions Sessions, timeout time.Duration, clock clockwork.Clock) *PauseController {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PauseController{
		sessions: sessions,
		clock:    clock,
		timeout:  timeout,
		active:   map[string]*PausedState{},
		used:     map[string]map[string]bool{},
	}
}

func (p *PauseController) Pause(gameID, userID string) error {
	p.mu.Lock()
	spent := p.used[gameID][userID]
	p.mu.Unlock()
	if spent {
		return game.ErrPauseUsed
	}
	if err := p.sessions.Pause(gameID, userID, game.ReasonPlayerPaused); err != nil {
		return err
	}

	st := &PausedState{GameID: gameID, PausedBy: userID, PausedAt: p.clock.Now()}
	p.mu.Lock()
	if p.used[gameID] == nil {
		p.used[gameID] = map[string]bool{}
	}
	p.used[gameID][userID] = true
	if prev := p.active[gameID]; prev != nil {
		prev.timer.Stop()
	}
	st.timer = p.clock.AfterFunc(p.timeout, func() { p.expire(st) })
	p.active[gameID] = st
	p.mu.Unlock()
	metricPausesTotal.Add(1)
	return nil
}

func (p *PauseController) Resume(gameID, userID string) error {
	if err := p.sessions.Resume(gameID, userID); err != nil {
		return err
	}
	p.clearTimer(gameID)
	return nil
}

func (p *PauseController) expire(st *PausedState) {
	p.mu.Lock()
	if p.active[st.GameID] != st {
		p.mu.Unlock()
		return
	}
	delete(p.active, st.GameID)
	p.mu.Unlock()

	metricAutoResumesTotal.Add(1)
	if err := p.sessions.AutoResume(st.GameID); err != nil {
		log.Debug().Err(err).Str("game_id", st.GameID).Msg("auto_resume_skipped")
		return
	}
	log.Info().Str("game_id", st.GameID).Str("paused_by", st.PausedBy).Msg("pause_timed_out")
}

func (p *PauseController) clearTimer(gameID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st := p.active[gameID]; st != nil {
		st.timer.Stop()
		delete(p.active, gameID)
	}
}

// ForgetGame drops the pause bookkeeping of an ended match.
func (p *PauseController) ForgetGame(gameID string) {
	p.clearTimer(gameID)
	p.mu.Lock()
	delete(p.used, gameID)
	p.mu.Unlock()
}

func (p *PauseController) Active(gameID string) (PausedState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.active[gameID]
	if !ok {
		return PausedState{}, false
	}
	return PausedState{GameID: st.GameID, PausedBy: st.PausedBy, PausedAt: st.PausedAt}, true
}

// Stop cancels every auto-resume timer.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, st := range p.active {
		st.timer.Stop()
		delete(p.active, id)
	}
}
