package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"trader-agent/internal/logger"
	"trader-agent/internal/types"
)

// Unlimited disables the daily cap.
const Unlimited = -1

// Reservation is the outcome of a CheckAndReserve call.
type Reservation struct {
	Granted bool
	Used    int // count for the instrument-day after this call
	Max     int
}

// Ledger is the persisted per-instrument daily action counter. BUY/SELL
// reservations are atomic check-and-increments, written to sqlite before
// the grant is reported; HOLD never touches state. Days roll over lazily
// on the UTC date computed at call time.
type Ledger struct {
	db  *sql.DB
	max int
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB, maxPerDay int) *Ledger {
	return &Ledger{
		db:    db,
		max:   maxPerDay,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) Max() int { return l.max }

// lockFor returns the per-instrument mutex so unrelated instruments never
// contend with each other.
func (l *Ledger) lockFor(symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	return m
}

func (l *Ledger) today() string {
	return l.now().UTC().Format("2006-01-02")
}

// CheckAndReserve grants or denies one action for symbol today. HOLD is
// always granted without consuming a slot. For BUY/SELL the increment is
// persisted synchronously; a persistence failure returns an error and the
// reservation is not granted.
func (l *Ledger) CheckAndReserve(ctx context.Context, symbol string, action types.Action) (Reservation, error) {
	if action == types.Hold {
		used, err := l.CountToday(ctx, symbol)
		if err != nil {
			return Reservation{}, err
		}
		return Reservation{Granted: true, Used: used, Max: l.max}, nil
	}
	if action != types.Buy && action != types.Sell {
		return Reservation{}, fmt.Errorf("unknown action %q", action)
	}

	lock := l.lockFor(symbol)
	lock.Lock()
	defer lock.Unlock()

	day := l.today()
	used, err := l.count(ctx, symbol, day)
	if err != nil {
		return Reservation{}, err
	}

	if l.max != Unlimited && used >= l.max {
		logger.Budget(ctx, symbol, "BUDGET_DENIED", "used", used, "max", l.max, "day", day)
		return Reservation{Granted: false, Used: used, Max: l.max}, nil
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO budget (symbol, day, count) VALUES (?, ?, 1)
		ON CONFLICT(symbol, day) DO UPDATE SET count = count + 1`,
		symbol, day)
	if err != nil {
		// Not persisted means not granted; the slot cannot be
		// double-spent after a crash.
		return Reservation{}, fmt.Errorf("persist reservation: %w", err)
	}

	return Reservation{Granted: true, Used: used + 1, Max: l.max}, nil
}

// CountToday returns the count for symbol on the current UTC date. A new
// date starts at zero without any background rollover job.
func (l *Ledger) CountToday(ctx context.Context, symbol string) (int, error) {
	return l.count(ctx, symbol, l.today())
}

func (l *Ledger) count(ctx context.Context, symbol, day string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT count FROM budget WHERE symbol = ? AND day = ?`, symbol, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read budget: %w", err)
	}
	return n, nil
}
