package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"trader-agent/internal/cache"
	"trader-agent/internal/ratelimit"
	"trader-agent/internal/types"
)

type fakeProvider struct {
	name    string
	price   float64
	candles []types.Candle
	err     error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func (f *fakeProvider) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func newTestChain(limits map[string]int, providers ...Provider) (*Chain, *cache.Cache) {
	c := cache.New()
	lim := ratelimit.New(time.Minute, limits)
	return NewChain(providers, lim, c, 300*time.Second, 30*time.Second), c
}

func TestChainPrefersFirstProvider(t *testing.T) {
	primary := &fakeProvider{name: "alpaca", price: 187.5}
	backup := &fakeProvider{name: "yahoo", price: 186.9}
	ch, _ := newTestChain(nil, primary, backup)

	got, err := ch.LatestPrice(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if got != 187.5 {
		t.Fatalf("price = %v, want primary's 187.5", got)
	}
	if backup.calls != 0 {
		t.Fatalf("backup called %d times, want 0", backup.calls)
	}
}

func TestChainFallsBackOnFailure(t *testing.T) {
	primary := &fakeProvider{name: "alpaca", err: errors.New("503 upstream")}
	backup := &fakeProvider{name: "yahoo", price: 42.0}
	ch, _ := newTestChain(nil, primary, backup)

	got, err := ch.LatestPrice(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if got != 42.0 {
		t.Fatalf("price = %v, want backup's 42.0", got)
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.calls)
	}
}

func TestChainSkipsRateLimitedProvider(t *testing.T) {
	primary := &fakeProvider{name: "alpaca", price: 10}
	backup := &fakeProvider{name: "yahoo", price: 20}
	ch, _ := newTestChain(map[string]int{"alpaca": 0}, primary, backup)

	got, err := ch.LatestPrice(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if got != 20 {
		t.Fatalf("price = %v, want 20 from backup", got)
	}
	if primary.calls != 0 {
		t.Fatalf("rate-limited primary was called %d times", primary.calls)
	}
}

func TestChainServesStaleWhenAllUnavailable(t *testing.T) {
	primary := &fakeProvider{name: "alpaca", err: errors.New("down")}
	ch, c := newTestChain(nil, primary)

	c.Set("price_MSFT", 301.25, time.Nanosecond)
	time.Sleep(2 * time.Millisecond)

	got, err := ch.LatestPrice(context.Background(), "MSFT")
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if got != 301.25 {
		t.Fatalf("price = %v, want stale 301.25", got)
	}
}

func TestChainErrorsWhenNothingCached(t *testing.T) {
	primary := &fakeProvider{name: "alpaca", err: errors.New("down")}
	backup := &fakeProvider{name: "yahoo", err: errors.New("also down")}
	ch, _ := newTestChain(nil, primary, backup)

	if _, err := ch.LatestPrice(context.Background(), "AMD"); err == nil {
		t.Fatal("expected error when every provider fails and cache is empty")
	}
}

func TestChainCachesCandles(t *testing.T) {
	candles := []types.Candle{{Ts: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Vol: 1000}}
	primary := &fakeProvider{name: "alpaca", candles: candles}
	ch, _ := newTestChain(nil, primary)

	for i := 0; i < 3; i++ {
		got, err := ch.Candles(context.Background(), "AAPL", 50)
		if err != nil {
			t.Fatalf("Candles: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("candles = %d, want 1", len(got))
		}
	}
	if primary.calls != 1 {
		t.Fatalf("provider calls = %d, want 1 (cache should absorb repeats)", primary.calls)
	}
}
