package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

type job struct {
	name     string
	interval time.Duration
	action   Action
	guard    *guard
}

// guard is the per-name single-flight state. running is only ever flipped
// with CompareAndSwap on entry and Store(false) on exit.
type guard struct {
	running atomic.Bool
	runs    atomic.Int64
	skips   atomic.Int64

	mu      sync.Mutex
	lastRun time.Time
	lastErr error

	refs int // RunNow callers holding the guard, under Scheduler.mu
}

func (g *guard) finish(start time.Time, err error) {
	g.runs.Add(1)
	g.mu.Lock()
	g.lastRun = start
	g.lastErr = err
	g.mu.Unlock()
}

// JobState is a point-in-time view of one job.
type JobState struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Running  bool          `json:"running"`
	Runs     int64         `json:"runs"`
	Skips    int64         `json:"skips"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

func (g *guard) snapshot(name string, interval time.Duration) JobState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := JobState{
		Name:     name,
		Interval: interval,
		Running:  g.running.Load(),
		Runs:     g.runs.Load(),
		Skips:    g.skips.Load(),
		LastRun:  g.lastRun,
	}
	if g.lastErr != nil {
		st.LastErr = g.lastErr.Error()
	}
	return st
}
