// Package supervisor runs named background workers, captures panics, and
// keeps per-worker health records. Workers are never restarted automatically;
// restart is an explicit operator or scheduler decision.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WorkerFunc is a long-running worker body. It should return when the
// context is cancelled; a non-nil error or a panic marks the worker dead.
type WorkerFunc func(ctx context.Context) error

// Status is a worker's lifecycle state. Transitions are monotone within one
// run: initialized → running → completed|stopped|error.
type Status string

const (
	StatusInitialized Status = "initialized" // registered, not yet launched
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed" // returned nil without being asked to stop
	StatusStopped     Status = "stopped"   // exited after its context was cancelled
	StatusError       Status = "error"     // returned an error or panicked
)

// Record is one worker's health snapshot.
type Record struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Running   bool      `json:"running"`
	Restarts  int       `json:"restarts"`
	Errors    int       `json:"errors"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
}

// Errors returned by the supervisor.
var (
	ErrWorkerExists   = errors.New("worker already registered")
	ErrWorkerNotFound = errors.New("worker not found")
	ErrWorkerRunning  = errors.New("worker still running")
	ErrBadWorker      = errors.New("invalid worker registration")
)

type worker struct {
	name   string
	fn     WorkerFunc
	record Record
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the worker set. Create with New, add workers with
// Register, then call Start with the process context.
type Supervisor struct {
	mu      sync.Mutex
	workers map[string]*worker
	baseCtx context.Context
	started bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
	now     func() time.Time

	// OnWorkerDown, when set, is called after a worker exits with an error
	// or a panic. Invoked outside the supervisor lock.
	OnWorkerDown func(name string, err error)
}

// New creates an empty supervisor.
func New(logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		workers: make(map[string]*worker),
		logger:  logger.With().Str("component", "TaskSupervisor").Logger(),
		now:     time.Now,
	}
}

// Register adds a named worker. If the supervisor has already started, the
// worker launches immediately; otherwise it launches on Start.
func (s *Supervisor) Register(name string, fn WorkerFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: name and function are required", ErrBadWorker)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[name]; ok {
		return fmt.Errorf("%w: %s", ErrWorkerExists, name)
	}
	w := &worker{name: name, fn: fn}
	w.record.Status = StatusInitialized
	s.workers[name] = w

	if s.started {
		s.launchLocked(w)
	}
	return nil
}

// Start launches all registered workers under ctx.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.baseCtx = ctx
	s.started = true
	for _, w := range s.workers {
		s.launchLocked(w)
	}
	s.logger.Info().Int("workers", len(s.workers)).Msg("Supervisor started")
}

// launchLocked spawns the worker goroutine. Caller holds the lock.
func (s *Supervisor) launchLocked(w *worker) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.record.Status = StatusRunning
	w.record.Running = true
	w.record.StartedAt = s.now()
	w.record.LastError = ""

	s.wg.Add(1)
	go s.run(w, ctx)
}

// run executes the worker body and records its exit.
func (s *Supervisor) run(w *worker, ctx context.Context) {
	defer s.wg.Done()
	defer close(w.done)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
				s.logger.Error().
					Str("worker", w.name).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Worker panicked")
			}
		}()
		runErr = w.fn(ctx)
	}()

	s.mu.Lock()
	w.record.Running = false
	w.record.ExitedAt = s.now()
	failed := runErr != nil && !errors.Is(runErr, context.Canceled)
	switch {
	case failed:
		w.record.Status = StatusError
		w.record.Errors++
		w.record.LastError = runErr.Error()
	case ctx.Err() != nil:
		w.record.Status = StatusStopped
	default:
		w.record.Status = StatusCompleted
	}
	s.mu.Unlock()

	if failed {
		s.logger.Error().Err(runErr).Str("worker", w.name).Msg("Worker exited with error")
		if s.OnWorkerDown != nil {
			s.OnWorkerDown(w.name, runErr)
		}
	} else {
		s.logger.Info().Str("worker", w.name).Msg("Worker stopped")
	}
}

// Restart relaunches a dead worker and bumps its restart counter. A running
// worker is cancelled and waited out first.
func (s *Supervisor) Restart(name string) error {
	s.mu.Lock()
	w, ok := s.workers[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	}
	if !s.started {
		s.mu.Unlock()
		return errors.New("supervisor not started")
	}
	running := w.record.Running
	cancel := w.cancel
	done := w.done
	s.mu.Unlock()

	if running {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			return fmt.Errorf("%w: %s did not stop", ErrWorkerRunning, name)
		}
	}

	s.mu.Lock()
	w.record.Restarts++
	s.launchLocked(w)
	s.mu.Unlock()

	s.logger.Info().Str("worker", name).Int("restarts", w.record.Restarts).Msg("Worker restarted")
	return nil
}

// DeadWorkers returns the names of workers that exited without completing,
// sorted for stable output. Completed and not-yet-launched workers are not
// dead, and nothing is dead once the supervisor itself is shutting down.
func (s *Supervisor) DeadWorkers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.baseCtx.Err() != nil {
		return nil
	}
	var dead []string
	for name, w := range s.workers {
		switch w.record.Status {
		case StatusStopped, StatusError:
			dead = append(dead, name)
		}
	}
	sort.Strings(dead)
	return dead
}

// Records returns health snapshots for all workers, sorted by name.
func (s *Supervisor) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.workers))
	for name, w := range s.workers {
		r := w.record
		r.Name = name
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Monitor logs a periodic health summary until the context is cancelled.
// Dead workers are reported but never restarted here.
func (s *Supervisor) Monitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			records := s.Records()
			running := 0
			for _, r := range records {
				if r.Running {
					running++
				}
			}
			event := s.logger.Info().Int("running", running).Int("total", len(records))
			if dead := s.DeadWorkers(); len(dead) > 0 {
				event = event.Strs("dead", dead)
			}
			event.Msg("Worker health")
		}
	}
}

// Wait blocks until every worker goroutine has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
