package ai

import (
	"strings"
	"time"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// DefaultDecisionInterval bounds how often the AI refreshes its target.
const DefaultDecisionInterval = time.Second

// Config is the resolved tuning for one difficulty.
type Config struct {
	// ReactionDeadzone is a fraction of paddle height inside which the AI stops.
	ReactionDeadzone float64
	// PredictionError is the largest error, in board units, applied to a far-away ball.
	PredictionError float64
	// PredictionAccuracy in [0,1] shrinks the error as the ball approaches.
	PredictionAccuracy float64
	// ErrorBias skews the random offset along the ball's vertical travel.
	ErrorBias        float64
	HesitationRange  float64
	HesitationChance float64
}

var profiles = map[Difficulty]Config{
	Easy: {
		ReactionDeadzone:   0.3,
		PredictionError:    120,
		PredictionAccuracy: 0.3,
		ErrorBias:          0.4,
		HesitationRange:    60,
		HesitationChance:   0.3,
	},
	Medium: {
		ReactionDeadzone:   0.2,
		PredictionError:    60,
		PredictionAccuracy: 0.6,
		ErrorBias:          0.2,
		HesitationRange:    30,
		HesitationChance:   0.15,
	},
	Hard: {
		ReactionDeadzone:   0.1,
		PredictionError:    20,
		PredictionAccuracy: 0.9,
		ErrorBias:          0.05,
		HesitationRange:    10,
		HesitationChance:   0.05,
	},
}

// ParseDifficulty accepts the wire names case-insensitively. Unknown values fall back to medium.
func ParseDifficulty(raw string) (Difficulty, bool) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := profiles[d]; ok {
		return d, true
	}
	return Medium, false
}

func ConfigFor(d Difficulty) Config {
	if cfg, ok := profiles[d]; ok {
		return cfg
	}
	return profiles[Medium]
}
