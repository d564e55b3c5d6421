// Package scheduler drives the shared fixed-cadence tick that advances every session.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// StepFunc advances the world to now.
type StepFunc func(now time.Time)

type Option func(*Loop)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Loop) { l.clock = clock }
}

func WithMonitor(m *TickMonitor) Option {
	return func(l *Loop) { l.monitor = m }
}

// Loop ticks at a fixed rate until its context ends or Stop is called.
type Loop struct {
	clock    clockwork.Clock
	interval time.Duration
	step     StepFunc
	monitor  *TickMonitor

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoop(tickRate int, step StepFunc, opts ...Option) *Loop {
	if tickRate <= 0 {
		tickRate = 60
	}
	if step == nil {
		step = func(time.Time) {}
	}
	l := &Loop{
		clock:    clockwork.NewRealClock(),
		interval: time.Second / time.Duration(tickRate),
		step:     step,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.monitor == nil {
		l.monitor = NewTickMonitor()
	}
	return l
}

func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	ticker := l.clock.NewTicker(l.interval)
	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.Chan():
				l.runStep(now)
			}
		}
	}(l.done)
	log.Info().Dur("interval", l.interval).Msg("tick_loop_started")
}

func (l *Loop) runStep(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			metricTickPanicsTotal.Add(1)
			log.Error().Interface("panic", r).Msg("tick_panic")
		}
	}()
	started := time.Now()
	l.step(now)
	l.monitor.Observe(time.Since(started))
	metricTicksTotal.Add(1)
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) Interval() time.Duration { return l.interval }

func (l *Loop) Monitor() *TickMonitor { return l.monitor }
