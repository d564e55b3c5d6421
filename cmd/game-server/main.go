package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pong-realtime/internal/config"
	"pong-realtime/internal/logging"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using process environment")
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- a.serve() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	}
	a.shutdown()
}
