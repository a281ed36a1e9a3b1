package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"trader-agent/internal/logger"
)

var (
	// ErrRunInFlight rejects an on-demand trigger while a run for the same
	// instrument is already executing. Triggers are never queued.
	ErrRunInFlight = errors.New("run already in flight for instrument")

	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotRunning     = errors.New("worker not running")
)

// RunFunc executes one pipeline pass for an instrument.
type RunFunc func(ctx context.Context, symbol string) error

// WorkerStatus is one instrument's view in Status().
type WorkerStatus struct {
	State    string `json:"state"` // running or stopped
	InFlight bool   `json:"in_flight"`
	LastRun  string `json:"last_run,omitempty"`
}

// Scheduler owns one worker per instrument. Within an instrument runs are
// strictly sequential: a tick landing while a run is in flight is skipped,
// and an on-demand trigger racing the timer is rejected. Across instruments
// workers are independent.
type Scheduler struct {
	interval time.Duration
	run      RunFunc

	mu       sync.Mutex
	workers  map[string]*worker
	inFlight map[string]bool
	lastRun  map[string]time.Time
}

type worker struct {
	stop chan struct{}
	done chan struct{}
}

func New(interval time.Duration, run RunFunc) *Scheduler {
	return &Scheduler{
		interval: interval,
		run:      run,
		workers:  make(map[string]*worker),
		inFlight: make(map[string]bool),
		lastRun:  make(map[string]time.Time),
	}
}

// beginRun claims the per-instrument run slot. The claim is the mutual
// exclusion point shared by the timer and on-demand triggers.
func (s *Scheduler) beginRun(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[symbol] {
		return false
	}
	s.inFlight[symbol] = true
	return true
}

func (s *Scheduler) endRun(symbol string) {
	s.mu.Lock()
	s.inFlight[symbol] = false
	s.lastRun[symbol] = time.Now().UTC()
	s.mu.Unlock()
}

// Start transitions the instrument's worker from stopped to running and
// begins its recurring timer.
func (s *Scheduler) Start(ctx context.Context, symbol string) error {
	s.mu.Lock()
	if _, ok := s.workers[symbol]; ok {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	w := &worker{stop: make(chan struct{}), done: make(chan struct{})}
	s.workers[symbol] = w
	s.mu.Unlock()

	go s.loop(ctx, symbol, w)
	logger.Info(ctx, "Worker started", "symbol", symbol, "interval", s.interval)
	return nil
}

// Stop transitions the worker to stopped. Cooperative: an in-flight run
// completes to its terminal state; only future ticks are prevented.
func (s *Scheduler) Stop(symbol string) error {
	s.mu.Lock()
	w, ok := s.workers[symbol]
	if !ok {
		s.mu.Unlock()
		return ErrNotRunning
	}
	delete(s.workers, symbol)
	s.mu.Unlock()

	close(w.stop)
	return nil
}

// StopAll stops every worker and waits for in-flight runs to finish.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for sym, w := range s.workers {
		workers = append(workers, w)
		delete(s.workers, sym)
	}
	s.mu.Unlock()

	for _, w := range workers {
		close(w.stop)
	}
	for _, w := range workers {
		<-w.done
	}
}

// TriggerNow executes a single on-demand run, subject to the same mutual
// exclusion as the timer. A run already in flight rejects the trigger.
func (s *Scheduler) TriggerNow(ctx context.Context, symbol string) error {
	if !s.beginRun(symbol) {
		return ErrRunInFlight
	}
	defer s.endRun(symbol)
	return s.run(ctx, symbol)
}

// Status reports every known instrument's worker state.
func (s *Scheduler) Status() map[string]WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]WorkerStatus)
	seen := func(symbol, state string) {
		ws := WorkerStatus{State: state, InFlight: s.inFlight[symbol]}
		if t, ok := s.lastRun[symbol]; ok {
			ws.LastRun = t.Format(time.RFC3339)
		}
		out[symbol] = ws
	}
	for sym := range s.workers {
		seen(sym, "running")
	}
	for sym := range s.inFlight {
		if _, ok := out[sym]; !ok {
			seen(sym, "stopped")
		}
	}
	for sym := range s.lastRun {
		if _, ok := out[sym]; !ok {
			seen(sym, "stopped")
		}
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, symbol string, w *worker) {
	defer close(w.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.beginRun(symbol) {
				logger.Debug(ctx, "Tick skipped, run in flight", "symbol", symbol)
				continue
			}
			if err := s.run(ctx, symbol); err != nil {
				logger.ErrorWithErr(ctx, "Scheduled run failed", err, "symbol", symbol)
			}
			s.endRun(symbol)
			// A tick that fired during the run is buffered in ticker.C and
			// would start a back-to-back run; drop it so ticks are skipped,
			// never queued.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}
