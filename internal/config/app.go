package config

import "github.com/caarlos0/env/v11"

type AppConfig struct {
	Server    ServerConfig
	Log       LogConfig
	Game      GameConfig
	Heartbeat HeartbeatConfig
}

func LoadApp() (AppConfig, error) {
	logCfg, err := LoadLog()
	if err != nil {
		return AppConfig{}, err
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return AppConfig{}, err
	}
	gameCfg, err := LoadGame()
	if err != nil {
		return AppConfig{}, err
	}
	hbCfg, err := LoadHeartbeat()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server:    serverCfg,
		Log:       logCfg,
		Game:      gameCfg,
		Heartbeat: hbCfg,
	}, nil
}

// TestConfig points database-backed tests at a disposable Postgres instance.
type TestConfig struct {
	TestPostgresDSN string `env:"TEST_POSTGRES_DSN,required,notEmpty"`
}

func LoadTest() (TestConfig, error) {
	var cfg TestConfig
	err := env.Parse(&cfg)
	return cfg, err
}
