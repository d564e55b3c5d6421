package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"pong-realtime/internal/protocol"
)

type fakeSender struct {
	mu        sync.Mutex
	failFirst int
	err       error
	results   []string
	chats     []string
	presence  []bool
	attempts  int
}

func (s *fakeSender) next() error {
	s.attempts++
	if s.attempts <= s.failFirst {
		return s.err
	}
	return nil
}

func (s *fakeSender) PostResult(_ context.Context, result protocol.GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.next(); err != nil {
		return err
	}
	s.results = append(s.results, result.GameID)
	return nil
}

func (s *fakeSender) PostChat(_ context.Context, senderID, receiverID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.next(); err != nil {
		return err
	}
	s.chats = append(s.chats, senderID+">"+receiverID+":"+message)
	return nil
}

func (s *fakeSender) SetPresence(_ context.Context, _ string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.next(); err != nil {
		return err
	}
	s.presence = append(s.presence, online)
	return nil
}

func (s *fakeSender) snapshot() (int, []string, []string, []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, append([]string(nil), s.results...), append([]string(nil), s.chats...), append([]bool(nil), s.presence...)
}

type memoryJournal struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (j *memoryJournal) SaveUndelivered(_ context.Context, result protocol.GameResult, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.saved = append(j.saved, result.GameID)
	return nil
}

func (j *memoryJournal) ids() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.saved...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestReporterDeliversAllKinds(t *testing.T) {
	sender := &fakeSender{}
	r := NewReporter(ReporterConfig{Workers: 2, Buffer: 8, RetryMax: 1, RetryBase: time.Millisecond}, sender, nil)
	r.Start(context.Background())
	defer r.Stop()

	r.ReportResult(protocol.GameResult{GameID: "g-1"})
	r.ReportChat("u1", "u2", "hi")
	r.ReportPresence("u1", true)

	waitFor(t, func() bool {
		_, results, chats, presence := sender.snapshot()
		return len(results) == 1 && len(chats) == 1 && len(presence) == 1
	})
	_, _, chats, _ := sender.snapshot()
	if chats[0] != "u1>u2:hi" {
		t.Fatalf("unexpected chat %q", chats[0])
	}
}

func TestReporterRetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{failFirst: 2, err: &StatusError{Code: 502}}
	journal := &memoryJournal{}
	r := NewReporter(ReporterConfig{Workers: 1, Buffer: 4, RetryMax: 3, RetryBase: time.Millisecond}, sender, journal)
	r.Start(context.Background())
	defer r.Stop()

	r.ReportResult(protocol.GameResult{GameID: "g-retry"})
	waitFor(t, func() bool {
		_, results, _, _ := sender.snapshot()
		return len(results) == 1
	})
	attempts, _, _, _ := sender.snapshot()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(journal.ids()) != 0 {
		t.Fatalf("expected nothing journaled, got %v", journal.ids())
	}
}

func TestReporterJournalsExhaustedResults(t *testing.T) {
	sender := &fakeSender{failFirst: 100, err: errors.New("connection refused")}
	journal := &memoryJournal{}
	r := NewReporter(ReporterConfig{Workers: 1, Buffer: 4, RetryMax: 2, RetryBase: time.Millisecond}, sender, journal)
	r.Start(context.Background())
	defer r.Stop()

	r.ReportResult(protocol.GameResult{GameID: "g-lost"})
	waitFor(t, func() bool { return len(journal.ids()) == 1 })
	attempts, _, _, _ := sender.snapshot()
	if attempts != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d", attempts)
	}
	if journal.ids()[0] != "g-lost" {
		t.Fatalf("unexpected journal entry %v", journal.ids())
	}
}

func TestReporterDoesNotRetryClientErrors(t *testing.T) {
	sender := &fakeSender{failFirst: 100, err: &StatusError{Code: 422}}
	journal := &memoryJournal{}
	r := NewReporter(ReporterConfig{Workers: 1, Buffer: 4, RetryMax: 5, RetryBase: time.Millisecond}, sender, journal)
	r.Start(context.Background())
	defer r.Stop()

	r.ReportResult(protocol.GameResult{GameID: "g-bad"})
	waitFor(t, func() bool { return len(journal.ids()) == 1 })
	attempts, _, _, _ := sender.snapshot()
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestReporterStopFlushesQueue(t *testing.T) {
	sender := &fakeSender{}
	r := NewReporter(ReporterConfig{Workers: 1, Buffer: 8}, sender, nil)

	r.ReportResult(protocol.GameResult{GameID: "a"})
	r.ReportResult(protocol.GameResult{GameID: "b"})
	r.Stop()

	_, results, _, _ := sender.snapshot()
	if len(results) != 2 {
		t.Fatalf("expected queued results flushed on stop, got %v", results)
	}
}

func TestReporterFullQueueJournalsResult(t *testing.T) {
	sender := &fakeSender{}
	journal := &memoryJournal{}
	r := NewReporter(ReporterConfig{Workers: 1, Buffer: 1}, sender, journal)

	r.ReportResult(protocol.GameResult{GameID: "queued"})
	r.ReportResult(protocol.GameResult{GameID: "overflow"})

	ids := journal.ids()
	if len(ids) != 1 || ids[0] != "overflow" {
		t.Fatalf("expected overflow journaled, got %v", ids)
	}
	r.Stop()
}

func TestReporterRetryWaitsForBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sender := &fakeSender{failFirst: 2, err: &StatusError{Code: 503}}
	r := NewReporter(ReporterConfig{Workers: 1, Buffer: 4, RetryMax: 3, RetryBase: time.Second, Clock: clock}, sender, nil)
	r.Start(context.Background())
	defer r.Stop()

	r.ReportResult(protocol.GameResult{GameID: "g-backoff"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("first retry never scheduled: %v", err)
	}
	clock.Advance(999 * time.Millisecond)
	if attempts, _, _, _ := sender.snapshot(); attempts != 1 {
		t.Fatalf("expected retry held until backoff elapses, got %d attempts", attempts)
	}
	clock.Advance(time.Millisecond)
	waitFor(t, func() bool {
		attempts, _, _, _ := sender.snapshot()
		return attempts == 2
	})

	// second backoff doubles
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("second retry never scheduled: %v", err)
	}
	clock.Advance(1500 * time.Millisecond)
	if attempts, _, _, _ := sender.snapshot(); attempts != 2 {
		t.Fatalf("expected doubled backoff, got %d attempts", attempts)
	}
	clock.Advance(500 * time.Millisecond)
	waitFor(t, func() bool {
		_, results, _, _ := sender.snapshot()
		return len(results) == 1
	})
}
