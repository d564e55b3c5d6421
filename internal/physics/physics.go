// Package physics advances a single Pong board. It performs no I/O and holds no shared
// state; callers own the State they pass in.
package physics

import "math"

// Direction is the vertical intent applied to a paddle. Screen coordinates grow downward,
// so Up decreases y.
type Direction int8

const (
	DirUp   Direction = -1
	DirStop Direction = 0
	DirDown Direction = 1
)

// ParseDirection maps the wire names to a Direction.
func ParseDirection(raw string) (Direction, bool) {
	switch raw {
	case "up":
		return DirUp, true
	case "down":
		return DirDown, true
	case "stop":
		return DirStop, true
	default:
		return DirStop, false
	}
}

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	default:
		return "stop"
	}
}

// Rand is the subset of *math/rand.Rand the engine needs.
type Rand interface {
	Float64() float64
}

type Ball struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	DX         float64 `json:"dx"`
	DY         float64 `json:"dy"`
	SpeedScale float64 `json:"speedScale"`
}

type Paddle struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Score     int       `json:"score"`
	Speed     float64   `json:"speed"`
	Direction Direction `json:"direction"`
	IsAI      bool      `json:"isAI"`
}

// Center returns the vertical midpoint of the paddle.
func (p Paddle) Center() float64 { return p.Y + p.Height/2 }

// State is the simulated part of a match. Paddles[0] is paddle A (left), Paddles[1] is B.
type State struct {
	Ball    Ball      `json:"ball"`
	Paddles [2]Paddle `json:"paddles"`
}

// Config holds board geometry and tuning. Units are abstract board units and seconds.
type Config struct {
	Width         float64
	Height        float64
	PaddleWidth   float64
	PaddleHeight  float64
	PaddleOffset  float64
	PaddleSpeed   float64
	BallRadius    float64
	BallSpeed     float64
	SpeedStep     float64
	MaxSpeedScale float64
	Nudge         float64
	ServeAngle    float64
	WinningScore  int
}

func DefaultConfig() Config {
	return Config{
		Width:         800,
		Height:        600,
		PaddleWidth:   10,
		PaddleHeight:  100,
		PaddleOffset:  20,
		PaddleSpeed:   400,
		BallRadius:    8,
		BallSpeed:     360,
		SpeedStep:     1.05,
		MaxSpeedScale: 2.0,
		Nudge:         40,
		ServeAngle:    30,
		WinningScore:  11,
	}
}

// NoSide marks the absence of a paddle index in a StepResult.
const NoSide = -1

// StepResult reports what happened during one Step.
type StepResult struct {
	Scored    int
	PaddleHit int
}

// NewState places both paddles at mid-height and serves the ball from the center.
func NewState(cfg Config, rng Rand) State {
	var s State
	midY := (cfg.Height - cfg.PaddleHeight) / 2
	s.Paddles[0] = Paddle{X: cfg.PaddleOffset, Y: midY, Width: cfg.PaddleWidth, Height: cfg.PaddleHeight, Speed: cfg.PaddleSpeed}
	s.Paddles[1] = Paddle{X: cfg.Width - cfg.PaddleOffset - cfg.PaddleWidth, Y: midY, Width: cfg.PaddleWidth, Height: cfg.PaddleHeight, Speed: cfg.PaddleSpeed}
	side := 0
	if rng.Float64() >= 0.5 {
		side = 1
	}
	ResetBall(&s.Ball, cfg, rng, side)
	return s
}

// ResetBall recenters the ball and serves it toward the given side with a random angle.
func ResetBall(b *Ball, cfg Config, rng Rand, towards int) {
	angle := (rng.Float64()*2 - 1) * cfg.ServeAngle * math.Pi / 180
	dx := math.Cos(angle) * cfg.BallSpeed
	if towards == 0 {
		dx = -dx
	}
	*b = Ball{
		X:          cfg.Width / 2,
		Y:          cfg.Height / 2,
		DX:         dx,
		DY:         math.Sin(angle) * cfg.BallSpeed,
		SpeedScale: 1,
	}
}

// ClampPaddle keeps the paddle inside [0, boardHeight-paddleHeight].
func ClampPaddle(p *Paddle, boardHeight float64) {
	maxY := boardHeight - p.Height
	if maxY < 0 {
		maxY = 0
	}
	if p.Y < 0 || math.IsNaN(p.Y) {
		p.Y = 0
	}
	if p.Y > maxY {
		p.Y = maxY
	}
}

// Step advances the state by dt seconds.
func Step(s *State, cfg Config, dt float64, rng Rand) StepResult {
	res := StepResult{Scored: NoSide, PaddleHit: NoSide}
	if dt <= 0 || math.IsNaN(dt) {
		return res
	}
	for i := range s.Paddles {
		p := &s.Paddles[i]
		p.Y += float64(p.Direction) * p.Speed * dt
		ClampPaddle(p, cfg.Height)
	}

	b := &s.Ball
	r := cfg.BallRadius
	prevX, prevY := b.X, b.Y
	b.X += b.DX * b.SpeedScale * dt
	b.Y += b.DY * b.SpeedScale * dt

	if b.Y-r <= 0 {
		b.Y = r
		b.DY = math.Abs(b.DY)
	} else if b.Y+r >= cfg.Height {
		b.Y = cfg.Height - r
		b.DY = -math.Abs(b.DY)
	}

	switch {
	case b.DX < 0:
		a := s.Paddles[0]
		face := a.X + a.Width
		if prevX-r >= face && b.X-r <= face && spans(a, crossingY(prevX-r, b.X-r, face, prevY, b.Y), r) {
			b.X = face + r
			b.DX = math.Abs(b.DX)
			deflect(b, cfg, rng)
			res.PaddleHit = 0
		}
	case b.DX > 0:
		p := s.Paddles[1]
		face := p.X
		if prevX+r <= face && b.X+r >= face && spans(p, crossingY(prevX+r, b.X+r, face, prevY, b.Y), r) {
			b.X = face - r
			b.DX = -math.Abs(b.DX)
			deflect(b, cfg, rng)
			res.PaddleHit = 1
		}
	}

	if b.X-r <= 0 {
		s.Paddles[1].Score++
		res.Scored = 1
		ResetBall(b, cfg, rng, 0)
	} else if b.X+r >= cfg.Width {
		s.Paddles[0].Score++
		res.Scored = 0
		ResetBall(b, cfg, rng, 1)
	}
	return res
}

// WinnerIndex returns the paddle index that reached winningScore, or NoSide.
func WinnerIndex(s State, winningScore int) int {
	if winningScore <= 0 {
		return NoSide
	}
	switch {
	case s.Paddles[0].Score >= winningScore:
		return 0
	case s.Paddles[1].Score >= winningScore:
		return 1
	default:
		return NoSide
	}
}

func crossingY(fromX, toX, planeX, fromY, toY float64) float64 {
	if fromX == toX {
		return toY
	}
	t := (fromX - planeX) / (fromX - toX)
	return fromY + (toY-fromY)*t
}

func spans(p Paddle, y, radius float64) bool {
	return y >= p.Y-radius && y <= p.Y+p.Height+radius
}

func deflect(b *Ball, cfg Config, rng Rand) {
	b.DY += (rng.Float64()*2 - 1) * cfg.Nudge
	if limit := cfg.BallSpeed; math.Abs(b.DY) > limit {
		b.DY = math.Copysign(limit, b.DY)
	}
	b.SpeedScale = math.Min(b.SpeedScale*cfg.SpeedStep, cfg.MaxSpeedScale)
}
