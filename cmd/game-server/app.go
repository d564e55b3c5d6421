package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pong-realtime/internal/ai"
	"pong-realtime/internal/auth"
	"pong-realtime/internal/backend"
	"pong-realtime/internal/chat"
	"pong-realtime/internal/config"
	"pong-realtime/internal/conn"
	"pong-realtime/internal/game"
	"pong-realtime/internal/housekeeping"
	"pong-realtime/internal/physics"
	"pong-realtime/internal/protocol"
	"pong-realtime/internal/reconnect"
	"pong-realtime/internal/scheduler"
	"pong-realtime/internal/store"
	httptransport "pong-realtime/internal/transport/http"
	"pong-realtime/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type app struct {
	cfg config.AppConfig

	store    *store.Store
	reporter *backend.Reporter
	conns    *conn.Manager
	sessions *game.Service
	reconn   *reconnect.Controller
	pauses   *reconnect.PauseController
	loop     *scheduler.Loop
	hk       *housekeeping.Runner
	router   *chi.Mux
	server   *http.Server
}

func newApp(cfg config.AppConfig) (*app, error) {
	a := &app{cfg: cfg}
	clock := clockwork.NewRealClock()

	var journal backend.Journal
	if cfg.Server.PostgresDSN != "" {
		st, err := store.New(cfg.Server.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := st.Ping(context.Background()); err != nil {
			log.Warn().Err(err).Msg("journal_db_unreachable")
		}
		a.store = st
		journal = st
	} else {
		log.Warn().Msg("POSTGRES_DSN not set; undelivered results will only be logged")
	}

	client := backend.NewClient(cfg.Server.BackendURL, cfg.Server.BackendToken, cfg.Server.RequestTimeout)
	a.reporter = backend.NewReporter(backend.ReporterConfig{
		Workers:   cfg.Server.ReporterWorkers,
		Buffer:    cfg.Server.ReporterBuffer,
		RetryMax:  cfg.Server.ReporterRetryMax,
		RetryBase: cfg.Server.ReporterRetryBase,
	}, client, journal)

	a.conns = conn.NewManager(cfg.Server.MaxConnections, cfg.Heartbeat, conn.WithClock(clock))

	board := physics.DefaultConfig()
	if cfg.Game.WinningScore > 0 {
		board.WinningScore = cfg.Game.WinningScore
	}
	a.sessions = game.NewService(game.Config{
		Board:              board,
		TickRate:           cfg.Game.TickRate,
		MaxCatchUpFrames:   cfg.Game.MaxCatchUpFrames,
		CountdownSeconds:   cfg.Game.CountdownSeconds,
		AIDecisionInterval: cfg.Game.AIDecisionInterval,
	}, a.conns, client, a.reporter,
		game.WithClock(clock),
		game.WithAIManager(ai.NewManager(board, cfg.Game.AIDecisionInterval, clock.Now().UnixNano())),
	)
	a.reconn = reconnect.NewController(a.sessions, cfg.Game.ReconnectTimeout, clock,
		reconnect.WithOnline(func(userID string) bool {
			_, ok := a.conns.Get(userID)
			return ok
		}),
	)
	a.pauses = reconnect.NewPauseController(a.sessions, cfg.Game.PauseTimeout, clock)
	a.sessions.OnEnd(func(gameID string) {
		a.reconn.ForgetGame(gameID)
		a.pauses.ForgetGame(gameID)
	})

	monitor := scheduler.NewTickMonitor()
	monitor.Publish("tick_stats")
	a.loop = scheduler.NewLoop(cfg.Game.TickRate, func(now time.Time) { a.sessions.Step(now) },
		scheduler.WithClock(clock),
		scheduler.WithMonitor(monitor),
	)

	chatSvc := chat.NewService(a.conns, a.reporter, clock)
	validator := auth.NewValidator(cfg.Server.AuthServiceURL, cfg.Server.RequestTimeout)
	wsSrv := ws.NewServer(ws.Config{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes,
		AuthCookieName:  cfg.Server.AuthCookieName,
	}, validator, a.conns, a.sessions, a.pauses, chatSvc)
	a.conns.SetHooks(wsSrv.Hooks(conn.Hooks{
		OnOpen: func(c *conn.Connection, _ string) {
			a.reporter.ReportPresence(c.UserID(), true)
			if gameID := a.reconn.OnConnect(c.UserID()); gameID != "" {
				log.Info().Str("user_id", c.UserID()).Str("game_id", gameID).Msg("player_rejoined")
			}
		},
		OnClose: func(c *conn.Connection, gameID string) {
			a.reporter.ReportPresence(c.UserID(), false)
			if gameID != "" {
				a.reconn.OnDisconnect(c.UserID(), gameID)
			}
		},
	}))

	var (
		hkJournal housekeeping.Journal
		pinger    httptransport.Pinger
	)
	if a.store != nil {
		hkJournal = a.store
		pinger = a.store
	}
	hk, err := housekeeping.New(housekeeping.Config{
		ReplayInterval: cfg.Server.ReplayInterval,
		StatsInterval:  cfg.Server.StatsLogInterval,
	}, hkJournal, client, monitor, housekeeping.Counters{
		Sessions:    a.sessions.SessionCount,
		Connections: a.conns.Count,
	}, nil)
	if err != nil {
		return nil, err
	}
	a.hk = hk

	a.router = httptransport.NewRouter(httptransport.Deps{
		WS:          wsSrv.HandleWS,
		Sessions:    a.sessions,
		Conns:       a.conns,
		DB:          pinger,
		AdminAPIKey: cfg.Server.AdminAPIKey,
	})
	a.server = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return a, nil
}

// start runs the background workers without binding a listener.
func (a *app) start() {
	a.reporter.Start(context.Background())
	a.loop.Start(context.Background())
	a.hk.Start()
}

func (a *app) serve() error {
	a.start()
	httptransport.LogRoutes(a.router)
	log.Info().Str("addr", a.cfg.Server.HTTPAddr).Msg("http listening")
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// shutdown stops admission, warns clients, force-ends live matches, flushes and
// closes sockets, then releases timers and workers.
func (a *app) shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.conns.StopAccepting()
	if err := a.server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http_shutdown_incomplete")
	}
	notified := a.conns.NotifyAll(protocol.NoticeWarning, "Server is shutting down")
	ended := a.sessions.Shutdown()
	a.loop.Stop()
	a.conns.Drain(timeout / 4)
	closed := a.conns.CloseAll(protocol.CloseGoingAway, "server shutting down")

	a.reconn.Stop()
	a.pauses.Stop()
	if err := a.hk.Stop(); err != nil {
		log.Warn().Err(err).Msg("housekeeping_stop_failed")
	}
	a.reporter.Stop()
	if a.store != nil {
		a.store.Close()
	}
	log.Info().Int("notified", notified).Int("sessions_ended", ended).Int("sockets_closed", closed).Msg("shutdown_complete")
}
