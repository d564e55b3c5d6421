package config

import (
	"testing"
	"time"
)

func TestLoadGameDefaults(t *testing.T) {
	cfg, err := LoadGame()
	if err != nil {
		t.Fatalf("LoadGame() error = %v", err)
	}
	if cfg.TickRate != 60 {
		t.Fatalf("TickRate = %d, want 60", cfg.TickRate)
	}
	if cfg.WinningScore != 11 {
		t.Fatalf("WinningScore = %d, want 11", cfg.WinningScore)
	}
	if cfg.CountdownSeconds != 3 {
		t.Fatalf("CountdownSeconds = %d, want 3", cfg.CountdownSeconds)
	}
	if cfg.MaxCatchUpFrames != 2 {
		t.Fatalf("MaxCatchUpFrames = %d, want 2", cfg.MaxCatchUpFrames)
	}
}

func TestLoadGameOverrides(t *testing.T) {
	t.Setenv("WINNING_SCORE", "5")
	t.Setenv("RECONNECT_TIMEOUT", "45s")
	t.Setenv("PAUSE_TIMEOUT", "10s")

	cfg, err := LoadGame()
	if err != nil {
		t.Fatalf("LoadGame() error = %v", err)
	}
	if cfg.WinningScore != 5 || cfg.ReconnectTimeout != 45*time.Second || cfg.PauseTimeout != 10*time.Second {
		t.Fatalf("unexpected game config: %+v", cfg)
	}
}

func TestLoadHeartbeatDefaults(t *testing.T) {
	cfg, err := LoadHeartbeat()
	if err != nil {
		t.Fatalf("LoadHeartbeat() error = %v", err)
	}
	if cfg.PingInterval != 10*time.Second || cfg.MaxMissedPings != 3 {
		t.Fatalf("unexpected heartbeat config: %+v", cfg)
	}
}
