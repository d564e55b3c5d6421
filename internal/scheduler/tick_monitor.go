package scheduler

import (
	"expvar"
	"sync"
	"time"
)

var (
	metricTicksTotal      = expvar.NewInt("ticks_total")
	metricTickPanicsTotal = expvar.NewInt("tick_panics_total")
)

// TickStats summarises observed tick durations.
type TickStats struct {
	Samples   int     `json:"samples"`
	AverageMS float64 `json:"average_ms"`
	MaxMS     float64 `json:"max_ms"`
	LastMS    float64 `json:"last_ms"`
}

type TickMonitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

func NewTickMonitor() *TickMonitor {
	return &TickMonitor{}
}

func (m *TickMonitor) Observe(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += d
	if d > m.max {
		m.max = d
	}
	m.last = d
	m.mu.Unlock()
}

func (m *TickMonitor) Snapshot() TickStats {
	if m == nil {
		return TickStats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := TickStats{
		Samples: m.samples,
		MaxMS:   ms(m.max),
		LastMS:  ms(m.last),
	}
	if m.samples > 0 {
		st.AverageMS = ms(m.total / time.Duration(m.samples))
	}
	return st
}

// Reset clears the window; the stats job calls it after logging a snapshot.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last = 0, 0, 0, 0
	m.mu.Unlock()
}

// Publish exposes the snapshot under name at /debug/vars. The first monitor published
// under a name keeps it.
func (m *TickMonitor) Publish(name string) {
	if expvar.Get(name) != nil {
		return
	}
	expvar.Publish(name, expvar.Func(func() any { return m.Snapshot() }))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
