package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/protocol"
)

var errQueueFull = errors.New("queue_full")

// Sender is the subset of Client the reporter delivers through.
type Sender interface {
	PostResult(ctx context.Context, result protocol.GameResult) error
	PostChat(ctx context.Context, senderID, receiverID, message string) error
	SetPresence(ctx context.Context, userID string, online bool) error
}

// Journal keeps results that could not be delivered so they can be replayed later.
type Journal interface {
	SaveUndelivered(ctx context.Context, result protocol.GameResult, lastErr string) error
}

type ReporterConfig struct {
	Workers   int
	Buffer    int
	RetryMax  int
	RetryBase time.Duration
	Clock     clockwork.Clock
}

type jobKind string

const (
	jobResult   jobKind = "result"
	jobChat     jobKind = "chat"
	jobPresence jobKind = "presence"
)

type job struct {
	Kind     jobKind
	Result   protocol.GameResult
	SenderID string
	TargetID string
	Message  string
	Online   bool
	Attempt  int
}

// Reporter queues backend calls and delivers them from a fixed worker pool with
// exponential retry. Results that exhaust their retries go to the journal.
type Reporter struct {
	cfg     ReporterConfig
	sender  Sender
	journal Journal

	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewReporter(cfg ReporterConfig, sender Sender, journal Journal) *Reporter {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Reporter{
		cfg:     cfg,
		sender:  sender,
		journal: journal,
		jobs:    make(chan job, cfg.Buffer),
		done:    make(chan struct{}),
	}
}

func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Stop flushes queued jobs once without retrying, then waits for the workers.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	close(r.done)
	r.mu.Unlock()
	if !started {
		r.drain(context.Background())
		return
	}
	r.wg.Wait()
}

func (r *Reporter) ReportResult(result protocol.GameResult) {
	r.enqueue(job{Kind: jobResult, Result: result})
}

func (r *Reporter) ReportChat(senderID, receiverID, message string) {
	r.enqueue(job{Kind: jobChat, SenderID: senderID, TargetID: receiverID, Message: message})
}

func (r *Reporter) ReportPresence(userID string, online bool) {
	r.enqueue(job{Kind: jobPresence, TargetID: userID, Online: online})
}

func (r *Reporter) enqueue(j job) {
	select {
	case r.jobs <- j:
		metricBackendQueueLen.Set(int64(len(r.jobs)))
	default:
		r.drop(context.Background(), j, errQueueFull)
	}
}

func (r *Reporter) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			r.drain(context.Background())
			return
		case j := <-r.jobs:
			metricBackendQueueLen.Set(int64(len(r.jobs)))
			r.process(ctx, j)
		}
	}
}

func (r *Reporter) drain(ctx context.Context) {
	for {
		select {
		case j := <-r.jobs:
			r.process(ctx, j)
		default:
			return
		}
	}
}

func (r *Reporter) process(ctx context.Context, j job) {
	err := r.send(ctx, j)
	if err == nil {
		metricBackendSentTotal.Add(1)
		return
	}
	metricBackendFailedTotal.Add(1)
	log.Warn().
		Err(err).
		Str("kind", string(j.Kind)).
		Int("attempt", j.Attempt).
		Msg("backend_delivery_failed")
	r.retryOrDrop(j, err)
}

func (r *Reporter) send(ctx context.Context, j job) error {
	switch j.Kind {
	case jobResult:
		return r.sender.PostResult(ctx, j.Result)
	case jobChat:
		return r.sender.PostChat(ctx, j.SenderID, j.TargetID, j.Message)
	case jobPresence:
		return r.sender.SetPresence(ctx, j.TargetID, j.Online)
	default:
		return nil
	}
}

func (r *Reporter) retryOrDrop(j job, err error) {
	if j.Attempt >= r.cfg.RetryMax || !Retryable(err) || r.isStopped() {
		r.drop(context.Background(), j, err)
		return
	}
	j.Attempt++
	metricBackendRetryTotal.Add(1)
	delay := r.cfg.RetryBase * time.Duration(1<<(j.Attempt-1))
	r.cfg.Clock.AfterFunc(delay, func() {
		select {
		case <-r.done:
			r.drop(context.Background(), j, err)
		case r.jobs <- j:
			metricBackendQueueLen.Set(int64(len(r.jobs)))
		}
	})
}

func (r *Reporter) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Reporter) drop(ctx context.Context, j job, cause error) {
	metricBackendDroppedTotal.Add(string(j.Kind), 1)
	if j.Kind != jobResult {
		log.Warn().Err(cause).Str("kind", string(j.Kind)).Str("target_id", j.TargetID).Msg("backend_job_dropped")
		return
	}
	res := j.Result
	if r.journal != nil {
		err := r.journal.SaveUndelivered(ctx, res, cause.Error())
		if err == nil {
			metricResultsJournaledTotal.Add(1)
			log.Warn().Err(cause).Str("game_id", res.GameID).Msg("match_result_journaled")
			return
		}
		log.Error().Err(err).Str("game_id", res.GameID).Msg("journal_write_failed")
	}
	log.Error().
		Err(cause).
		Str("game_id", res.GameID).
		Str("status", string(res.Status)).
		Str("mode", string(res.Mode)).
		Int("score_player1", res.ScorePlayer1).
		Int("score_player2", res.ScorePlayer2).
		Str("winner_id", res.WinnerID).
		Str("loser_id", res.LoserID).
		Msg("match_result_undelivered")
}
