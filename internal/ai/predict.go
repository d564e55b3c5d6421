package ai

import (
	"math"

	"pong-realtime/internal/physics"
)

const (
	maxLookahead  = 5.0
	maxBounceIter = 64
)

// PaddlePlane returns the x coordinate the ball center reaches when touching the paddle face.
func PaddlePlane(board physics.Config, p physics.Paddle, side int) float64 {
	if side == 0 {
		return p.X + p.Width + board.BallRadius
	}
	return p.X - board.BallRadius
}

// Approaching reports whether the ball travels toward the given side.
func Approaching(b physics.Ball, side int) bool {
	if side == 0 {
		return b.DX < 0
	}
	return b.DX > 0
}

// Predict walks a virtual ball bounce by bounce until it reaches planeX or the
// lookahead runs out, and returns its y. A ball moving away predicts the board center.
func Predict(b physics.Ball, board physics.Config, planeX float64) float64 {
	vx := b.DX * b.SpeedScale
	vy := b.DY * b.SpeedScale
	if vx == 0 || (planeX-b.X)/vx < 0 {
		return board.Height / 2
	}
	remaining := math.Min((planeX-b.X)/vx, maxLookahead)
	y := b.Y
	top, bottom := board.BallRadius, board.Height-board.BallRadius
	for i := 0; i < maxBounceIter && remaining > 0; i++ {
		var toWall float64
		switch {
		case vy > 0:
			toWall = (bottom - y) / vy
		case vy < 0:
			toWall = (top - y) / vy
		default:
			toWall = math.Inf(1)
		}
		if toWall >= remaining {
			y += vy * remaining
			break
		}
		if toWall < 0 {
			toWall = 0
		}
		y += vy * toWall
		vy = -vy
		remaining -= toWall
	}
	return clamp(y, top, bottom)
}

// Target applies difficulty-scaled error on top of the exact prediction. Error
// shrinks as the ball closes in, scaled by PredictionAccuracy.
func Target(s physics.State, board physics.Config, side int, cfg Config, rng physics.Rand) float64 {
	paddle := s.Paddles[side]
	if !Approaching(s.Ball, side) {
		return board.Height / 2
	}
	plane := PaddlePlane(board, paddle, side)
	predicted := Predict(s.Ball, board, plane)

	distanceRatio := 1.0
	if board.Width > 0 {
		distanceRatio = clamp(math.Abs(plane-s.Ball.X)/board.Width, 0, 1)
	}
	errorScale := cfg.PredictionError * (1 - cfg.PredictionAccuracy*(1-distanceRatio))

	offset := (rng.Float64()*2 - 1) * errorScale
	if s.Ball.DY != 0 {
		offset += math.Copysign(errorScale*cfg.ErrorBias, s.Ball.DY)
	}
	if rng.Float64() < cfg.HesitationChance {
		offset += (rng.Float64()*2 - 1) * cfg.HesitationRange
	}
	return clamp(predicted+offset, 0, board.Height)
}

// DecideDirection turns the distance between target and paddle center into a move.
func DecideDirection(p physics.Paddle, targetY, deadzoneFrac float64) physics.Direction {
	diff := targetY - p.Center()
	if math.Abs(diff) <= p.Height*deadzoneFrac {
		return physics.DirStop
	}
	if diff < 0 {
		return physics.DirUp
	}
	return physics.DirDown
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
