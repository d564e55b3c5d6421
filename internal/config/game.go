package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type GameConfig struct {
	TickRate           int           `env:"TICK_RATE" envDefault:"60"`
	MaxCatchUpFrames   int           `env:"MAX_CATCH_UP_FRAMES" envDefault:"2"`
	WinningScore       int           `env:"WINNING_SCORE" envDefault:"11"`
	CountdownSeconds   int           `env:"COUNTDOWN_SECONDS" envDefault:"3"`
	PauseTimeout       time.Duration `env:"PAUSE_TIMEOUT" envDefault:"30s"`
	ReconnectTimeout   time.Duration `env:"RECONNECT_TIMEOUT" envDefault:"30s"`
	AIDecisionInterval time.Duration `env:"AI_DECISION_INTERVAL" envDefault:"1s"`
}

func LoadGame() (GameConfig, error) {
	var cfg GameConfig
	err := env.Parse(&cfg)
	return cfg, err
}

type HeartbeatConfig struct {
	PingInterval   time.Duration `env:"PING_INTERVAL" envDefault:"10s"`
	PongTimeout    time.Duration `env:"PONG_TIMEOUT" envDefault:"5s"`
	MaxMissedPings int           `env:"MAX_MISSED_PINGS" envDefault:"3"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
}

func LoadHeartbeat() (HeartbeatConfig, error) {
	var cfg HeartbeatConfig
	err := env.Parse(&cfg)
	return cfg, err
}
