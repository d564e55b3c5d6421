package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLoopStepsOnEveryTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var mu sync.Mutex
	var seen []time.Time
	loop := NewLoop(60, func(now time.Time) {
		mu.Lock()
		seen = append(seen, now)
		mu.Unlock()
	}, WithClock(clock))

	loop.Start(context.Background())
	defer loop.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker not registered: %v", err)
	}

	for i := 0; i < 3; i++ {
		clock.Advance(loop.Interval())
		want := i + 1
		deadline := time.Now().Add(2 * time.Second)
		for {
			mu.Lock()
			n := len(seen)
			mu.Unlock()
			if n >= want {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("expected %d steps, got %d", want, n)
			}
			time.Sleep(time.Millisecond)
		}
	}
	if s := loop.Monitor().Snapshot(); s.Samples != 3 {
		t.Fatalf("expected 3 monitor samples, got %d", s.Samples)
	}
}

func TestLoopSurvivesPanickingStep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 4)
	loop := NewLoop(60, func(time.Time) {
		calls <- struct{}{}
		panic("boom")
	}, WithClock(clock))
	loop.Start(context.Background())
	defer loop.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = clock.BlockUntilContext(ctx, 1)

	for i := 0; i < 2; i++ {
		clock.Advance(loop.Interval())
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected step %d after panic", i+1)
		}
	}
}

func TestLoopIntervalAndStopIdempotent(t *testing.T) {
	loop := NewLoop(120, nil)
	if loop.Interval() != time.Second/120 {
		t.Fatalf("unexpected interval %v", loop.Interval())
	}
	loop.Stop()
	loop.Start(context.Background())
	loop.Stop()
	loop.Stop()
}

func TestTickMonitorSnapshotAndReset(t *testing.T) {
	m := NewTickMonitor()
	m.Observe(2 * time.Millisecond)
	m.Observe(4 * time.Millisecond)
	m.Observe(0)
	s := m.Snapshot()
	if s.Samples != 2 || s.AverageMS != 3 || s.MaxMS != 4 || s.LastMS != 4 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	m.Reset()
	if s := m.Snapshot(); s.Samples != 0 || s.MaxMS != 0 {
		t.Fatalf("expected reset, got %+v", s)
	}
}
