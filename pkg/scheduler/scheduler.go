// Package scheduler runs named jobs on fixed intervals and guarantees that a
// job never has two invocations in flight at once, whether the second one
// comes from its own ticker or from an on-demand trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning  = errors.New("job already running")
	ErrStarted         = errors.New("scheduler already started")
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrUnknownJob      = errors.New("unknown job")
)

// Action is the work done by one job invocation.
type Action func(ctx context.Context) error

// Outcome of a single fire, reported to the Observer.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Observer receives one call per fire. Implementations must be safe for
// concurrent use.
type Observer interface {
	JobFinished(name string, outcome Outcome, took time.Duration)
}

type Scheduler struct {
	log      zerolog.Logger
	observer Observer

	mu      sync.Mutex
	jobs    map[string]*job
	guards  map[string]*guard
	started atomic.Bool

	wg sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(l zerolog.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithObserver(o Observer) Option { return func(s *Scheduler) { s.observer = o } }

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		log:    zerolog.Nop(),
		jobs:   make(map[string]*job),
		guards: make(map[string]*guard),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds a job. A job registered under an existing name replaces it.
func (s *Scheduler) Register(name string, interval time.Duration, action Action) error {
	if interval <= 0 {
		return fmt.Errorf("register %s: %w", name, ErrInvalidInterval)
	}
	if action == nil {
		return fmt.Errorf("register %s: nil action", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.Load() {
		return fmt.Errorf("register %s: %w", name, ErrStarted)
	}
	if _, ok := s.jobs[name]; ok {
		s.log.Info().Str("job", name).Msg("replacing previously registered job")
	}
	s.jobs[name] = &job{name: name, interval: interval, action: action, guard: s.guardLocked(name)}
	return nil
}

// Start fires every registered job on its own ticker until ctx is done.
// Only the first call has any effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if !s.started.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.log.Debug().Msg("scheduler already running")
		return
	}
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.log.Info().Int("jobs", len(jobs)).Msg("scheduler started")
}

// Started reports whether Start has been called.
func (s *Scheduler) Started() bool { return s.started.Load() }

// Wait blocks until every ticker and every in-flight invocation has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// each tick gets its own goroutine so a slow action never holds
			// up this ticker; overlap is settled by the guard.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_ = s.fire(ctx, j.name, j.guard, j.action)
			}()
		}
	}
}

// Trigger runs a registered job now, synchronously, through its guard.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.fire(ctx, name, j.guard, j.action)
}

// RunNow runs action under the guard for name, which need not be a
// registered job. Scheduled ticks of a job with the same name are excluded
// while it runs, and vice versa. The guard of an unregistered name is
// dropped once no caller holds it.
func (s *Scheduler) RunNow(ctx context.Context, name string, action Action) error {
	s.mu.Lock()
	g := s.guardLocked(name)
	g.refs++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		g.refs--
		if _, registered := s.jobs[name]; !registered && g.refs == 0 {
			delete(s.guards, name)
		}
		s.mu.Unlock()
	}()
	return s.fire(ctx, name, g, action)
}

// Jobs returns a snapshot of every registered job, sorted by name.
func (s *Scheduler) Jobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobState, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.guard.snapshot(j.name, j.interval))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Running reports whether an invocation under name is in flight.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	g, ok := s.guards[name]
	s.mu.Unlock()
	return ok && g.running.Load()
}

func (s *Scheduler) guardLocked(name string) *guard {
	g, ok := s.guards[name]
	if !ok {
		g = &guard{}
		s.guards[name] = g
	}
	return g
}

func (s *Scheduler) fire(ctx context.Context, name string, g *guard, action Action) (err error) {
	if !g.running.CompareAndSwap(false, true) {
		g.skips.Add(1)
		s.log.Info().Str("job", name).Msg("job already running, skipping this cycle")
		s.observe(name, OutcomeSkipped, 0)
		return fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
		took := time.Since(start)
		g.finish(start, err)
		g.running.Store(false)

		if err != nil {
			s.log.Error().Err(err).Str("job", name).Dur("took", took).Msg("job failed")
			s.observe(name, OutcomeFailed, took)
			return
		}
		s.log.Debug().Str("job", name).Dur("took", took).Msg("job finished")
		s.observe(name, OutcomeOK, took)
	}()

	return action(ctx)
}

func (s *Scheduler) observe(name string, o Outcome, took time.Duration) {
	if s.observer != nil {
		s.observer.JobFinished(name, o, took)
	}
}
