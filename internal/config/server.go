package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxConnections  int           `env:"MAX_CONNECTIONS" envDefault:"1000"`
	MaxPayloadBytes int64         `env:"MAX_PAYLOAD_BYTES" envDefault:"16384"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	AuthServiceURL string        `env:"AUTH_SERVICE_URL" envDefault:"http://auth:3001"`
	AuthCookieName string        `env:"AUTH_COOKIE_NAME" envDefault:"access_token"`
	BackendURL     string        `env:"BACKEND_URL" envDefault:"http://backend:3002"`
	BackendToken   string        `env:"BACKEND_TOKEN"`
	RequestTimeout time.Duration `env:"UPSTREAM_REQUEST_TIMEOUT" envDefault:"5s"`

	ReporterWorkers   int           `env:"REPORTER_WORKERS" envDefault:"4"`
	ReporterBuffer    int           `env:"REPORTER_BUFFER" envDefault:"1024"`
	ReporterRetryMax  int           `env:"REPORTER_RETRY_MAX" envDefault:"3"`
	ReporterRetryBase time.Duration `env:"REPORTER_RETRY_BASE" envDefault:"500ms"`

	PostgresDSN      string        `env:"POSTGRES_DSN"`
	ReplayInterval   time.Duration `env:"RESULT_REPLAY_INTERVAL" envDefault:"1m"`
	StatsLogInterval time.Duration `env:"STATS_LOG_INTERVAL" envDefault:"30s"`
	AdminAPIKey      string        `env:"ADMIN_API_KEY"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
