package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"trader-agent/internal/types"
)

// Store wraps the agent's sqlite database: the budget ledger table, the
// append-only decision history, and the tracked-instrument list.
type Store struct {
	db        *sql.DB
	retention int
}

const schema = `
CREATE TABLE IF NOT EXISTS budget (
	symbol TEXT NOT NULL,
	day    TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, day)
);
CREATE TABLE IF NOT EXISTS decisions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	action        TEXT NOT NULL,
	reasoning     TEXT NOT NULL DEFAULT '',
	price         REAL NOT NULL DEFAULT 0,
	qty           INTEGER NOT NULL DEFAULT 0,
	budget_status TEXT NOT NULL DEFAULT '',
	degraded      TEXT NOT NULL DEFAULT '[]',
	order_id      TEXT NOT NULL DEFAULT '',
	order_failed  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol, id);
CREATE TABLE IF NOT EXISTS instruments (
	symbol TEXT PRIMARY KEY,
	pos    INTEGER NOT NULL
);
`

// Open opens (creating if needed) the sqlite database at path and applies
// the schema. retention bounds how many decision rows are kept.
func Open(path string, retention int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writes are serialized through one connection so that check-and-increment
	// transactions never hit SQLITE_BUSY from our own pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if retention <= 0 {
		retention = 1000
	}
	return &Store{db: db, retention: retention}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// AppendDecision writes one immutable decision record and prunes history
// beyond the retention bound.
func (s *Store) AppendDecision(ctx context.Context, rec types.DecisionRecord) error {
	degraded, _ := json.Marshal(rec.Degraded)
	failed := 0
	if rec.OrderFailed {
		failed = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (ts, symbol, action, reasoning, price, qty, budget_status, degraded, order_id, order_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Symbol, string(rec.Action), rec.Reasoning, rec.Price, rec.Quantity,
		string(rec.BudgetStatus), string(degraded), rec.OrderID, failed,
	)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM decisions WHERE id NOT IN (
			SELECT id FROM decisions ORDER BY id DESC LIMIT ?
		)`, s.retention)
	if err != nil {
		return fmt.Errorf("prune decisions: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit records, newest first.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]types.DecisionRecord, error) {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, symbol, action, reasoning, price, qty, budget_status, degraded, order_id, order_failed
		FROM decisions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []types.DecisionRecord
	for rows.Next() {
		var (
			rec      types.DecisionRecord
			ts       string
			action   string
			status   string
			degraded string
			failed   int
		)
		if err := rows.Scan(&ts, &rec.Symbol, &action, &rec.Reasoning, &rec.Price,
			&rec.Quantity, &status, &degraded, &rec.OrderID, &failed); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		rec.Action = types.Action(action)
		rec.BudgetStatus = types.BudgetStatus(status)
		rec.OrderFailed = failed != 0
		_ = json.Unmarshal([]byte(degraded), &rec.Degraded)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Instruments returns the tracked-instrument list in stored order.
func (s *Store) Instruments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM instruments ORDER BY pos`)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// SaveInstruments replaces the tracked-instrument list.
func (s *Store) SaveInstruments(ctx context.Context, symbols []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments`); err != nil {
		return fmt.Errorf("clear instruments: %w", err)
	}
	for i, sym := range symbols {
		if _, err := tx.ExecContext(ctx, `INSERT INTO instruments (symbol, pos) VALUES (?, ?)`, sym, i); err != nil {
			return fmt.Errorf("insert instrument %s: %w", sym, err)
		}
	}
	return tx.Commit()
}
