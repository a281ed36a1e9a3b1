package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"trader-agent/internal/types"
)

func openTemp(t *testing.T, retention int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"), retention)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDecisionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, 100)

	rec := types.DecisionRecord{
		Timestamp:    time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		Symbol:       "AAPL",
		Action:       types.Buy,
		Reasoning:    "strong sentiment",
		Price:        187.5,
		Quantity:     2,
		BudgetStatus: types.BudgetGranted,
		Degraded:     []string{"chart_technicals"},
		OrderID:      "ord-1",
	}
	if err := s.AppendDecision(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.RecentDecisions(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	r := got[0]
	if r.Symbol != "AAPL" || r.Action != types.Buy || r.Price != 187.5 {
		t.Errorf("unexpected record: %+v", r)
	}
	if len(r.Degraded) != 1 || r.Degraded[0] != "chart_technicals" {
		t.Errorf("degraded list lost: %+v", r.Degraded)
	}
	if !r.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("timestamp mismatch: %v vs %v", r.Timestamp, rec.Timestamp)
	}
}

func TestHistoryRetention(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, 5)

	for i := 0; i < 8; i++ {
		rec := types.DecisionRecord{
			Timestamp: time.Now().UTC(),
			Symbol:    fmt.Sprintf("S%d", i),
			Action:    types.Hold,
		}
		if err := s.AppendDecision(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentDecisions(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected retention to keep 5, got %d", len(got))
	}
	// Newest first.
	if got[0].Symbol != "S7" {
		t.Errorf("expected newest first, got %s", got[0].Symbol)
	}
}

func TestInstrumentListOrdered(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, 10)

	want := []string{"MSFT", "AAPL", "GOOGL"}
	if err := s.SaveInstruments(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Instruments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d instruments, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pos %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// Replacing the list drops removed symbols.
	if err := s.SaveInstruments(ctx, []string{"TSLA"}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Instruments(ctx)
	if len(got) != 1 || got[0] != "TSLA" {
		t.Errorf("expected [TSLA], got %v", got)
	}
}
