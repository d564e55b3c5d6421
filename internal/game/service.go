// Package game owns the session registry and the match state machine. All session
// mutation goes through Service; outbound messages are collected under the session
// lock and delivered after it is released.
package game

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/ai"
	"pong-realtime/internal/physics"
	"pong-realtime/internal/protocol"
)

const (
	ReasonPlayerPaused       = "player_paused"
	ReasonPlayerDisconnected = "player_disconnected"
)

// Broadcaster delivers events to users and tracks which game a user's socket serves.
type Broadcaster interface {
	SendTo(userID, event string, payload any) bool
	Bind(userID, gameID string)
	Unbind(userID, gameID string)
}

type SetupFetcher interface {
	FetchMatch(ctx context.Context, gameID string) (protocol.MatchSetup, error)
}

// ResultReporter must not block; delivery happens asynchronously.
type ResultReporter interface {
	ReportResult(result protocol.GameResult)
}

type Config struct {
	Board              physics.Config
	TickRate           int
	MaxCatchUpFrames   int
	CountdownSeconds   int
	AIDecisionInterval time.Duration
}

func (c Config) maxDelta() time.Duration {
	rate := c.TickRate
	if rate <= 0 {
		rate = 60
	}
	frames := c.MaxCatchUpFrames
	if frames <= 0 {
		frames = 2
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

type Option func(*Service)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithSeed makes ball serves and AI error deterministic.
func WithSeed(seed int64) Option {
	return func(s *Service) { s.seeds = rand.New(rand.NewSource(seed)) }
}

func WithAIManager(m *ai.Manager) Option {
	return func(s *Service) { s.ai = m }
}

type Service struct {
	cfg      Config
	registry *registry
	out      Broadcaster
	setups   SetupFetcher
	results  ResultReporter
	ai       *ai.Manager
	clock    clockwork.Clock

	seedMu sync.Mutex
	seeds  *rand.Rand

	hooksMu  sync.Mutex
	endHooks []func(gameID string)
}

func NewService(cfg Config, out Broadcaster, setups SetupFetcher, results ResultReporter, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		registry: newRegistry(),
		out:      out,
		setups:   setups,
		results:  results,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seeds == nil {
		s.seeds = rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	}
	if s.ai == nil {
		s.ai = ai.NewManager(cfg.Board, cfg.AIDecisionInterval, s.nextSeed())
	}
	return s
}

// OnEnd registers a hook run after a session reaches a terminal status and is removed.
func (s *Service) OnEnd(fn func(gameID string)) {
	s.hooksMu.Lock()
	s.endHooks = append(s.endHooks, fn)
	s.hooksMu.Unlock()
}

func (s *Service) nextSeed() int64 {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	return s.seeds.Int63()
}

func (s *Service) deliver(ds []delivery) {
	for _, d := range ds {
		s.out.SendTo(d.userID, d.event, d.payload)
	}
}

func (s *Service) lookup(gameID string) (*session, error) {
	g, ok := s.registry.get(gameID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return g, nil
}

// CreateSession registers a match from its setup. Creating an existing game id is a
// join: missing players from setup are added while seats remain.
func (s *Service) CreateSession(setup protocol.MatchSetup) (bool, error) {
	if setup.GameID == "" || !setup.Mode.Valid() {
		return false, ErrInvalidSetup
	}
	if len(setup.Players) == 0 || len(setup.Players) > setup.Mode.RequiredPlayers() {
		return false, fmt.Errorf("%w: %d players for mode %s", ErrInvalidSetup, len(setup.Players), setup.Mode)
	}

	g, created := s.registry.getOrCreate(setup.GameID, func() *session {
		return s.newSession(setup)
	})
	if created {
		metricSessionsCreatedTotal.Add(1)
		metricSessionsActive.Add(1)
		if p := g.aiPlayer(); p != nil {
			s.ai.Attach(g.id, p.AIDifficulty)
		}
		log.Info().Str("game_id", g.id).Str("mode", string(g.mode)).Strs("players", g.humanIDs()).Msg("session_created")
		return true, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status.Terminal() {
		return false, ErrGameOver
	}
	for _, sp := range setup.Players {
		if g.player(sp.UserID) != nil {
			continue
		}
		if len(g.humans()) >= g.mode.RequiredPlayers() {
			return false, ErrGameFull
		}
		g.addHuman(sp)
	}
	return false, nil
}

func (s *Service) newSession(setup protocol.MatchSetup) *session {
	g := &session{
		id:        setup.GameID,
		mode:      setup.Mode,
		status:    protocol.StatusPending,
		connected: map[string]bool{},
		rng:       rand.New(rand.NewSource(s.nextSeed())),
	}
	for _, sp := range setup.Players {
		g.addHuman(sp)
	}
	g.state = physics.NewState(s.cfg.Board, g.rng)
	if setup.Mode == protocol.ModeAI {
		difficulty, _ := ai.ParseDifficulty(setup.AIDifficulty)
		g.players = append(g.players, &Player{
			UserID:       AIPlayerID,
			Username:     AIPlayerID,
			IsAI:         true,
			AIDifficulty: difficulty,
			Paddle:       paddleB,
			lastSequence: -1,
		})
		g.state.Paddles[paddleB].IsAI = true
	}
	return g
}

// liveGameOf returns a non-terminal session other than except that seats userID.
func (s *Service) liveGameOf(userID, except string) string {
	for _, g := range s.registry.snapshot() {
		if g.id == except {
			continue
		}
		g.mu.Lock()
		p := g.player(userID)
		live := p != nil && !p.IsAI && !g.status.Terminal()
		g.mu.Unlock()
		if live {
			return g.id
		}
	}
	return ""
}

// Join handles game_start: it creates the session from backend setup on first use,
// seats and marks the user connected, and starts the countdown once the match is ready.
func (s *Service) Join(ctx context.Context, gameID, userID string) error {
	if other := s.liveGameOf(userID, gameID); other != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyInGame, other)
	}
	if _, ok := s.registry.get(gameID); !ok {
		setup, err := s.setups.FetchMatch(ctx, gameID)
		if err != nil {
			return fmt.Errorf("fetch match %s: %w", gameID, err)
		}
		if setup.GameID == "" {
			setup.GameID = gameID
		}
		if setup.GameID != gameID {
			return fmt.Errorf("%w: backend returned game %s", ErrInvalidSetup, setup.GameID)
		}
		if _, err := s.CreateSession(setup); err != nil {
			return err
		}
	}
	g, err := s.lookup(gameID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.status.Terminal() {
		g.mu.Unlock()
		return ErrGameOver
	}
	p := g.player(userID)
	if p == nil {
		if len(g.humans()) >= g.mode.RequiredPlayers() {
			g.mu.Unlock()
			return ErrGameFull
		}
		p = g.addHuman(protocol.SetupPlayer{UserID: userID})
	}
	if p.IsAI {
		g.mu.Unlock()
		return ErrNotParticipant
	}
	g.connected[userID] = true
	var ds []delivery
	if g.status == protocol.StatusPending && g.ready() {
		ds = s.startCountdownLocked(g)
		log.Info().Str("game_id", g.id).Msg("session_ready")
	} else {
		ds = []delivery{{userID: userID, event: protocol.EventGameUpdate, payload: g.frameFor(p)}}
	}
	g.mu.Unlock()

	s.out.Bind(userID, gameID)
	s.deliver(ds)
	return nil
}

func (s *Service) startCountdownLocked(g *session) []delivery {
	g.stopCountdown()
	g.status = protocol.StatusActive
	g.pausedBy = ""
	g.lastTick = s.clock.Now()
	g.countdown = s.cfg.CountdownSeconds
	if g.countdown <= 0 {
		g.countdown = 0
		s.markGoLocked(g)
		return g.toHumans(protocol.EventCountdownUpdate, protocol.CountdownUpdate{GameID: g.id, Countdown: 0, Message: "GO"})
	}
	gen := g.countdownGen
	g.countdownTimer = s.clock.AfterFunc(time.Second, func() { s.countdownTick(g, gen) })
	return g.toHumans(protocol.EventCountdownUpdate, protocol.CountdownUpdate{
		GameID:    g.id,
		Countdown: g.countdown,
		Message:   strconv.Itoa(g.countdown),
	})
}

func (s *Service) markGoLocked(g *session) {
	now := s.clock.Now()
	if g.startedAt == nil {
		g.startedAt = &now
	}
	g.lastTick = now
	g.countdownTimer = nil
}

func (s *Service) countdownTick(g *session, gen uint64) {
	g.mu.Lock()
	if g.countdownGen != gen || g.status != protocol.StatusActive || g.countdown <= 0 {
		g.mu.Unlock()
		return
	}
	g.countdown--
	msg := strconv.Itoa(g.countdown)
	if g.countdown == 0 {
		msg = "GO"
		s.markGoLocked(g)
	} else {
		g.countdownTimer = s.clock.AfterFunc(time.Second, func() { s.countdownTick(g, gen) })
	}
	ds := g.toHumans(protocol.EventCountdownUpdate, protocol.CountdownUpdate{GameID: g.id, Countdown: g.countdown, Message: msg})
	g.mu.Unlock()
	s.deliver(ds)
}

// Pause freezes an active match. userID is empty for pauses not initiated by a player.
func (s *Service) Pause(gameID, userID, reason string) error {
	g, err := s.lookup(gameID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	if userID != "" && g.player(userID) == nil {
		g.mu.Unlock()
		return ErrNotParticipant
	}
	if g.status != protocol.StatusActive {
		g.mu.Unlock()
		return ErrInvalidState
	}
	ds := s.pauseLocked(g, userID, reason)
	g.mu.Unlock()
	s.deliver(ds)
	return nil
}

func (s *Service) pauseLocked(g *session, userID, reason string) []delivery {
	g.stopCountdown()
	g.stopPaddles()
	g.status = protocol.StatusPaused
	g.pausedBy = userID
	g.pausedAt = s.clock.Now()
	log.Info().Str("game_id", g.id).Str("user_id", userID).Str("reason", reason).Msg("session_paused")
	return g.toHumans(protocol.EventGamePause, protocol.GamePaused{GameID: g.id, Reason: reason, PausedBy: userID})
}

// Resume restarts a paused match on behalf of the player who paused it.
func (s *Service) Resume(gameID, userID string) error {
	return s.resume(gameID, userID, false)
}

// AutoResume restarts a paused match regardless of who paused it.
func (s *Service) AutoResume(gameID string) error {
	return s.resume(gameID, "", true)
}

func (s *Service) resume(gameID, userID string, auto bool) error {
	g, err := s.lookup(gameID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	if g.status != protocol.StatusPaused {
		g.mu.Unlock()
		return ErrInvalidState
	}
	if !auto && (g.pausedBy == "" || g.pausedBy != userID) {
		g.mu.Unlock()
		return ErrNotPauser
	}
	if !g.ready() {
		if auto {
			// The voluntary pause has lapsed; the match now waits only on the absent player.
			g.pausedBy = ""
		}
		g.mu.Unlock()
		return ErrOpponentDisconnected
	}
	ds := s.startCountdownLocked(g)
	g.mu.Unlock()
	log.Info().Str("game_id", gameID).Str("user_id", userID).Bool("auto", auto).Msg("session_resumed")
	s.deliver(ds)
	return nil
}

// Disconnect marks userID's socket gone. It pauses an active match and reports whether
// the user is a participant of a live session, in which case a reconnection window applies.
func (s *Service) Disconnect(gameID, userID string) bool {
	g, ok := s.registry.get(gameID)
	if !ok {
		return false
	}
	g.mu.Lock()
	p := g.player(userID)
	if p == nil || p.IsAI || g.status.Terminal() {
		g.mu.Unlock()
		return false
	}
	g.connected[userID] = false
	ds := g.toOthers(userID, protocol.EventNotification,
		protocol.NewNotification(protocol.NoticeWarning, "Opponent disconnected, waiting for reconnection", s.clock.Now()))
	if g.status == protocol.StatusActive {
		ds = append(ds, s.pauseLocked(g, "", ReasonPlayerDisconnected)...)
	}
	g.mu.Unlock()
	s.deliver(ds)
	return true
}

// Reconnect marks userID connected again and resumes the match through a fresh
// countdown when everyone is back. A voluntary pause stays in place for its pauser
// or the auto-resume timer.
func (s *Service) Reconnect(gameID, userID string) error {
	g, err := s.lookup(gameID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	if g.status.Terminal() {
		g.mu.Unlock()
		return ErrGameOver
	}
	p := g.player(userID)
	if p == nil || p.IsAI {
		g.mu.Unlock()
		return ErrNotParticipant
	}
	g.connected[userID] = true
	ds := g.toOthers(userID, protocol.EventNotification,
		protocol.NewNotification(protocol.NoticeInfo, "Opponent reconnected", s.clock.Now()))
	waiting := g.status == protocol.StatusPending || g.pausedBy == ""
	if waiting && g.ready() {
		ds = append(ds, s.startCountdownLocked(g)...)
	} else {
		ds = append(ds, delivery{userID: userID, event: protocol.EventGameUpdate, payload: g.frameFor(p)})
	}
	g.mu.Unlock()

	s.out.Bind(userID, gameID)
	s.deliver(ds)
	return nil
}

// ApplyInput sets a paddle direction from a player's game_update. Inputs whose
// sequence does not exceed the player's last accepted sequence are dropped.
func (s *Service) ApplyInput(gameID, userID string, upd protocol.GameUpdate) error {
	dir, ok := physics.ParseDirection(upd.Direction)
	if !ok {
		return ErrInvalidDirection
	}
	g, err := s.lookup(gameID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.player(userID)
	if p == nil || p.IsAI {
		metricInputsDropped.Add("not_participant", 1)
		return ErrNotParticipant
	}
	paddle := p.Paddle
	if g.mode == protocol.ModeLocal && upd.Paddle == "B" {
		paddle = paddleB
	}
	return s.applyInputLocked(g, p, paddle, dir, upd.Sequence)
}

func (s *Service) applyInputLocked(g *session, p *Player, paddle int, dir physics.Direction, seq int64) error {
	if seq <= p.lastSequence {
		metricInputsDropped.Add("sequence", 1)
		return ErrStaleInput
	}
	if g.status != protocol.StatusActive {
		metricInputsDropped.Add("inactive", 1)
		return nil
	}
	p.lastSequence = seq
	g.state.Paddles[paddle].Direction = dir
	if !p.IsAI {
		metricInputsAcceptedTotal.Add(1)
	}
	return nil
}

// Step advances every active session to now and fans out per-recipient frames. A
// failure inside one session ends only that session.
func (s *Service) Step(now time.Time) int {
	stepped := 0
	for _, g := range s.registry.snapshot() {
		ds, end, err := s.stepSession(g, now)
		if err != nil {
			metricSessionErrorsTotal.Add(1)
			log.Error().Err(err).Str("game_id", g.id).Msg("session_tick_failed")
			if ferr := s.ForceEnd(g.id, protocol.StatusCancelledServerError, ""); ferr != nil {
				log.Error().Err(ferr).Str("game_id", g.id).Msg("session_force_end_failed")
			}
			continue
		}
		if ds != nil {
			stepped++
		}
		if end != nil {
			s.finalize(end)
			continue
		}
		s.deliver(ds)
	}
	return stepped
}

func (s *Service) stepSession(g *session, now time.Time) (ds []delivery, end *ending, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	if g.status != protocol.StatusActive {
		return nil, nil, nil
	}

	dt := now.Sub(g.lastTick)
	if dt < 0 {
		dt = 0
	}
	if limit := s.cfg.maxDelta(); dt > limit {
		dt = limit
	}
	g.lastTick = now

	if g.countdown == 0 && dt > 0 {
		if p := g.aiPlayer(); p != nil {
			if dir, ok := s.ai.Update(g.id, g.state, p.Paddle, dt); ok {
				_ = s.applyInputLocked(g, p, p.Paddle, dir, p.lastSequence+1)
			}
		}
		res := physics.Step(&g.state, s.cfg.Board, dt.Seconds(), g.rng)
		if res.PaddleHit != physics.NoSide {
			metricPaddleHitsTotal.Add(1)
		}
		if res.Scored != physics.NoSide {
			metricGoalsTotal.Add(paddleName(res.Scored), 1)
			log.Debug().Str("game_id", g.id).Str("paddle", paddleName(res.Scored)).
				Int("score_a", g.state.Paddles[paddleA].Score).Int("score_b", g.state.Paddles[paddleB].Score).Msg("goal_scored")
		}
		if winner := physics.WinnerIndex(g.state, s.cfg.Board.WinningScore); winner != physics.NoSide {
			end = s.endLocked(g, protocol.StatusFinished, g.ownerOf(winner), g.ownerOf(1-winner), now)
			return nil, end, nil
		}
	}
	g.sequence++
	return g.frames(), nil, nil
}

// Leave ends the match as cancelled and credits the remaining participant.
func (s *Service) Leave(gameID, userID string) error {
	g, err := s.lookup(gameID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	p := g.player(userID)
	if p == nil || p.IsAI {
		g.mu.Unlock()
		return ErrNotParticipant
	}
	if g.status.Terminal() {
		g.mu.Unlock()
		return ErrGameOver
	}
	end := s.endLocked(g, protocol.StatusCancelled, g.ownerOf(1-p.Paddle), userID, s.clock.Now())
	g.mu.Unlock()
	log.Info().Str("game_id", gameID).Str("user_id", userID).Msg("session_left")
	s.finalize(end)
	return nil
}

// ForceEnd terminates a live session with the given status. When loserID is empty
// the score leader is credited, and a tie credits nobody.
func (s *Service) ForceEnd(gameID string, status protocol.Status, loserID string) error {
	if !status.Terminal() {
		return ErrInvalidState
	}
	g, err := s.lookup(gameID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	if g.status.Terminal() {
		g.mu.Unlock()
		return ErrGameOver
	}
	var winnerID string
	if p := g.player(loserID); p != nil {
		winnerID = g.ownerOf(1 - p.Paddle)
	} else {
		a, b := g.state.Paddles[0].Score, g.state.Paddles[1].Score
		switch {
		case a > b:
			winnerID, loserID = g.ownerOf(paddleA), g.ownerOf(paddleB)
		case b > a:
			winnerID, loserID = g.ownerOf(paddleB), g.ownerOf(paddleA)
		default:
			loserID = ""
		}
	}
	end := s.endLocked(g, status, winnerID, loserID, s.clock.Now())
	g.mu.Unlock()
	s.finalize(end)
	return nil
}

type ending struct {
	session    *session
	result     protocol.GameResult
	humans     []string
	deliveries []delivery
}

func (s *Service) endLocked(g *session, status protocol.Status, winnerID, loserID string, now time.Time) *ending {
	g.stopCountdown()
	g.stopPaddles()
	g.status = status
	g.finishedAt = &now
	result := protocol.GameResult{
		GameID:       g.id,
		ScorePlayer1: g.state.Paddles[paddleA].Score,
		ScorePlayer2: g.state.Paddles[paddleB].Score,
		WinnerID:     winnerID,
		LoserID:      loserID,
		Mode:         g.mode,
		StartedAt:    g.startedAt,
		FinishedAt:   g.finishedAt,
		Status:       status,
	}
	return &ending{
		session:    g,
		result:     result,
		humans:     g.humanIDs(),
		deliveries: g.toHumans(protocol.EventGameEnded, result),
	}
}

func (s *Service) finalize(end *ending) {
	g := end.session
	s.deliver(end.deliveries)
	for _, uid := range end.humans {
		s.out.Unbind(uid, g.id)
	}
	s.ai.Detach(g.id)
	if s.registry.remove(g.id, g) {
		metricSessionsActive.Add(-1)
	}
	if end.result.Status == protocol.StatusFinished {
		metricSessionsFinishedTotal.Add(1)
	} else {
		metricSessionsCancelledTotal.Add(1)
	}
	if s.results != nil {
		s.results.ReportResult(end.result)
	}
	log.Info().
		Str("game_id", g.id).
		Str("status", string(end.result.Status)).
		Str("winner_id", end.result.WinnerID).
		Str("loser_id", end.result.LoserID).
		Int("score_a", end.result.ScorePlayer1).
		Int("score_b", end.result.ScorePlayer2).
		Msg("session_ended")

	s.hooksMu.Lock()
	hooks := append([]func(string){}, s.endHooks...)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(g.id)
	}
}

// Shutdown ends every live session as cancelled_server_error.
func (s *Service) Shutdown() int {
	ended := 0
	for _, g := range s.registry.snapshot() {
		if err := s.ForceEnd(g.id, protocol.StatusCancelledServerError, ""); err == nil {
			ended++
		}
	}
	return ended
}

// Snapshot returns a copy of a session's public fields.
func (s *Service) Snapshot(gameID string) (Info, bool) {
	g, ok := s.registry.get(gameID)
	if !ok {
		return Info{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info(), true
}

func (s *Service) SessionCount() int {
	return s.registry.len()
}

// IsParticipant reports whether userID plays in a live session gameID.
func (s *Service) IsParticipant(gameID, userID string) bool {
	g, ok := s.registry.get(gameID)
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.player(userID)
	return p != nil && !p.IsAI && !g.status.Terminal()
}
