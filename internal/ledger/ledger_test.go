package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trader-agent/internal/store"
	"trader-agent/internal/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"), 100)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDailyMaxEnforced(t *testing.T) {
	ctx := context.Background()
	l := New(openTestStore(t).DB(), 5)

	for i := 1; i <= 5; i++ {
		res, err := l.CheckAndReserve(ctx, "X", types.Buy)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !res.Granted {
			t.Fatalf("reserve %d should be granted", i)
		}
		if res.Used != i {
			t.Errorf("reserve %d: expected count %d, got %d", i, i, res.Used)
		}
	}

	res, err := l.CheckAndReserve(ctx, "X", types.Buy)
	if err != nil {
		t.Fatalf("sixth reserve: %v", err)
	}
	if res.Granted {
		t.Fatal("sixth BUY must be denied")
	}
	if res.Used != 5 {
		t.Errorf("denied reservation must not mutate count, got %d", res.Used)
	}
}

func TestHoldNeverMutates(t *testing.T) {
	ctx := context.Background()
	l := New(openTestStore(t).DB(), 2)

	actions := []types.Action{types.Hold, types.Buy, types.Hold, types.Sell, types.Hold}
	for _, a := range actions {
		if _, err := l.CheckAndReserve(ctx, "X", a); err != nil {
			t.Fatalf("reserve %s: %v", a, err)
		}
	}

	n, err := l.CountToday(ctx, "X")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected count 2 after interleaved HOLDs, got %d", n)
	}

	res, err := l.CheckAndReserve(ctx, "X", types.Hold)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Granted {
		t.Error("HOLD must always be granted, even at the cap")
	}
}

func TestDaysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := New(openTestStore(t).DB(), 1)

	now := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if res, _ := l.CheckAndReserve(ctx, "X", types.Buy); !res.Granted {
		t.Fatal("day D grant refused")
	}
	if res, _ := l.CheckAndReserve(ctx, "X", types.Sell); res.Granted {
		t.Fatal("day D should be exhausted")
	}

	// Cross UTC midnight; the counter lazily starts fresh.
	now = now.Add(20 * time.Minute)
	n, err := l.CountToday(ctx, "X")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected fresh count on D+1, got %d", n)
	}
	if res, _ := l.CheckAndReserve(ctx, "X", types.Buy); !res.Granted {
		t.Fatal("day D+1 grant refused despite fresh budget")
	}
}

func TestInstrumentsAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := New(openTestStore(t).DB(), 1)

	if res, _ := l.CheckAndReserve(ctx, "X", types.Buy); !res.Granted {
		t.Fatal("X grant refused")
	}
	if res, _ := l.CheckAndReserve(ctx, "Y", types.Buy); !res.Granted {
		t.Fatal("Y must have its own budget")
	}
}

func TestConcurrentReservationsNeverOvershoot(t *testing.T) {
	ctx := context.Background()
	l := New(openTestStore(t).DB(), 5)

	const callers = 20
	var wg sync.WaitGroup
	granted := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.CheckAndReserve(ctx, "X", types.Buy)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			granted[i] = res.Granted
		}(i)
	}
	wg.Wait()

	total := 0
	for _, g := range granted {
		if g {
			total++
		}
	}
	if total != 5 {
		t.Errorf("expected exactly 5 grants under concurrency, got %d", total)
	}

	n, _ := l.CountToday(ctx, "X")
	if n != 5 {
		t.Errorf("expected persisted count 5, got %d", n)
	}
}

func TestReservationSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.db")

	s, err := store.Open(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	l := New(s.DB(), 5)
	for i := 0; i < 3; i++ {
		if _, err := l.CheckAndReserve(ctx, "X", types.Buy); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	s2, err := store.Open(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	n, err := New(s2.DB(), 5).CountToday(ctx, "X")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected count 3 after restart, got %d", n)
	}
}

func TestUnlimitedBudget(t *testing.T) {
	ctx := context.Background()
	l := New(openTestStore(t).DB(), Unlimited)

	for i := 0; i < 20; i++ {
		res, err := l.CheckAndReserve(ctx, "X", types.Buy)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Granted {
			t.Fatal("unlimited ledger must always grant")
		}
	}
}
