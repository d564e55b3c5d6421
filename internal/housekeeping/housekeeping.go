// Package housekeeping runs the periodic background jobs: replaying match results the
// backend never acknowledged and logging runtime stats.
package housekeeping

import (
	"context"
	"expvar"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/protocol"
	"pong-realtime/internal/scheduler"
	"pong-realtime/internal/store"
)

var (
	metricReplayRunsTotal      = expvar.NewInt("result_replay_runs_total")
	metricReplayDeliveredTotal = expvar.NewInt("result_replay_delivered_total")
	metricReplayFailedTotal    = expvar.NewInt("result_replay_failed_total")
)

type Journal interface {
	ListUndelivered(ctx context.Context, limit int) ([]store.UndeliveredResult, error)
	MarkDelivered(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id, lastErr string) error
}

type ResultPoster interface {
	PostResult(ctx context.Context, result protocol.GameResult) error
}

// Counters reports live totals for the stats job.
type Counters struct {
	Sessions    func() int
	Connections func() int
}

type Config struct {
	ReplayInterval time.Duration
	StatsInterval  time.Duration
	ReplayBatch    int
}

type Runner struct {
	cfg      Config
	journal  Journal
	poster   ResultPoster
	monitor  *scheduler.TickMonitor
	counters Counters
	sched    gocron.Scheduler
}

// New builds the scheduler without starting it. A nil journal disables the replay job.
func New(cfg Config, journal Journal, poster ResultPoster, monitor *scheduler.TickMonitor, counters Counters, clock clockwork.Clock) (*Runner, error) {
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = time.Minute
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 30 * time.Second
	}
	if cfg.ReplayBatch <= 0 {
		cfg.ReplayBatch = 100
	}
	opts := []gocron.SchedulerOption{gocron.WithLogger(schedLogger{l: log.Logger})}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}
	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, journal: journal, poster: poster, monitor: monitor, counters: counters, sched: sched}

	if journal != nil && poster != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.ReplayInterval),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ReplayInterval)
				defer cancel()
				if _, err := r.ReplayOnce(ctx); err != nil {
					log.Error().Err(err).Msg("result_replay_failed")
				}
			}),
			gocron.WithName("result_replay"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("schedule replay: %w", err)
		}
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.StatsInterval),
		gocron.NewTask(r.LogStats),
		gocron.WithName("runtime_stats"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule stats: %w", err)
	}
	return r, nil
}

func (r *Runner) Start() {
	r.sched.Start()
}

func (r *Runner) Stop() error {
	return r.sched.Shutdown()
}

// ReplayOnce pushes one batch of journaled results to the backend and returns how
// many were acknowledged.
func (r *Runner) ReplayOnce(ctx context.Context) (int, error) {
	metricReplayRunsTotal.Add(1)
	pending, err := r.journal.ListUndelivered(ctx, r.cfg.ReplayBatch)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, row := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := r.poster.PostResult(ctx, row.Result); err != nil {
			metricReplayFailedTotal.Add(1)
			if recErr := r.journal.RecordAttempt(ctx, row.ID, err.Error()); recErr != nil {
				log.Warn().Err(recErr).Str("journal_id", row.ID).Msg("result_replay_attempt_not_recorded")
			}
			continue
		}
		if err := r.journal.MarkDelivered(ctx, row.ID); err != nil {
			log.Warn().Err(err).Str("journal_id", row.ID).Msg("result_replay_mark_failed")
			continue
		}
		delivered++
		metricReplayDeliveredTotal.Add(1)
	}
	if len(pending) > 0 {
		log.Info().Int("pending", len(pending)).Int("delivered", delivered).Msg("result_replay_done")
	}
	return delivered, nil
}

func (r *Runner) LogStats() {
	ev := log.Info()
	if r.counters.Sessions != nil {
		ev = ev.Int("sessions", r.counters.Sessions())
	}
	if r.counters.Connections != nil {
		ev = ev.Int("connections", r.counters.Connections())
	}
	if r.monitor != nil {
		stats := r.monitor.Snapshot()
		ev = ev.Int("tick_samples", stats.Samples).
			Float64("tick_avg_ms", stats.AverageMS).
			Float64("tick_max_ms", stats.MaxMS)
		r.monitor.Reset()
	}
	ev.Msg("runtime_stats")
}

// schedLogger routes gocron's own logging through zerolog.
type schedLogger struct {
	l zerolog.Logger
}

func (s schedLogger) Debug(msg string, args ...any) { s.l.Debug().Fields(args).Msg(msg) }
func (s schedLogger) Error(msg string, args ...any) { s.l.Error().Fields(args).Msg(msg) }
func (s schedLogger) Info(msg string, args ...any)  { s.l.Info().Fields(args).Msg(msg) }
func (s schedLogger) Warn(msg string, args ...any)  { s.l.Warn().Fields(args).Msg(msg) }
