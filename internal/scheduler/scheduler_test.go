package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerNowRunsWhenIdle(t *testing.T) {
	var calls int32
	s := New(time.Hour, func(ctx context.Context, symbol string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if err := s.TriggerNow(context.Background(), "AAPL"); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestTriggerNowRejectedWhileRunInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(time.Hour, func(ctx context.Context, symbol string) error {
		close(started)
		<-release
		return nil
	})

	go s.TriggerNow(context.Background(), "AAPL")
	<-started

	if err := s.TriggerNow(context.Background(), "AAPL"); !errors.Is(err, ErrRunInFlight) {
		t.Fatalf("err = %v, want ErrRunInFlight", err)
	}
	close(release)
}

func TestInstrumentsRunIndependently(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(time.Hour, func(ctx context.Context, symbol string) error {
		if symbol == "AAPL" {
			close(started)
			<-release
		}
		return nil
	})

	go s.TriggerNow(context.Background(), "AAPL")
	<-started
	defer close(release)

	// A different instrument is never blocked by AAPL's in-flight run.
	if err := s.TriggerNow(context.Background(), "MSFT"); err != nil {
		t.Fatalf("TriggerNow MSFT: %v", err)
	}
}

func TestNeverTwoConcurrentRunsPerInstrument(t *testing.T) {
	var inFlight, maxInFlight int32
	s := New(5*time.Millisecond, func(ctx context.Context, symbol string) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	if err := s.Start(context.Background(), "AAPL"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Race the timer with on-demand triggers for a while.
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case <-deadline:
			s.StopAll()
			if got := atomic.LoadInt32(&maxInFlight); got > 1 {
				t.Fatalf("max concurrent runs = %d, want 1", got)
			}
			return
		default:
			s.TriggerNow(context.Background(), "AAPL")
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestStopIsCooperative(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	completed := make(chan struct{})
	s := New(10*time.Millisecond, func(ctx context.Context, symbol string) error {
		close(started)
		<-release
		close(completed)
		return nil
	})

	if err := s.Start(context.Background(), "AAPL"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	// Stop must return while the run is still in flight.
	if err := s.Stop("AAPL"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-completed:
		t.Fatal("run completed before it was released; stop should not wait")
	default:
	}

	close(release)
	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("in-flight run was aborted by stop")
	}
}

func TestStartAndStopStateTransitions(t *testing.T) {
	s := New(time.Hour, func(ctx context.Context, symbol string) error { return nil })

	if err := s.Start(context.Background(), "AAPL"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background(), "AAPL"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if st := s.Status()["AAPL"]; st.State != "running" {
		t.Fatalf("status = %+v, want running", st)
	}

	if err := s.Stop("AAPL"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop("AAPL"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestTickDuringRunIsSkippedNotQueued(t *testing.T) {
	const interval = 30 * time.Millisecond

	var mu sync.Mutex
	var starts, ends []time.Time
	s := New(interval, func(ctx context.Context, symbol string) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(100 * time.Millisecond) // run spans several intervals
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		return nil
	})

	if err := s.Start(context.Background(), "AAPL"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	s.StopAll()

	mu.Lock()
	defer mu.Unlock()
	if len(starts) < 2 {
		t.Fatalf("runs = %d, want at least 2", len(starts))
	}
	// A queued tick starts the next run microseconds after the previous one
	// ends; a skipped tick waits for the timer to fire again.
	for i := 1; i < len(starts) && i-1 < len(ends); i++ {
		if gap := starts[i].Sub(ends[i-1]); gap < 5*time.Millisecond {
			t.Fatalf("run %d started %v after run %d ended; tick was queued, not skipped", i, gap, i-1)
		}
	}
}

func TestTicksDriveRuns(t *testing.T) {
	var calls int32
	s := New(10*time.Millisecond, func(ctx context.Context, symbol string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if err := s.Start(context.Background(), "AAPL"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	s.StopAll()

	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("calls = %d, want at least 2 timer-driven runs", calls)
	}
}
