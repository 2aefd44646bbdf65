// Package postgres stores the dispatch ledger in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS report_dispatches (
  week_key   TEXT PRIMARY KEY,
  run_id     TEXT NOT NULL,
  status     TEXT NOT NULL,
  message_id TEXT NOT NULL DEFAULT '',
  error      TEXT NOT NULL DEFAULT '',
  claimed_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
`

// Ledger is the PostgreSQL-backed dispatch ledger.
type Ledger struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// Open connects with lib/pq and verifies connectivity. lease is how long an
// unsettled claim blocks other runs (see ledger.LeaseFor).
func Open(ctx context.Context, dsn string, lease time.Duration) (*Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping: %w: %w", domain.ErrFatal, err)
	}
	return New(db, lease), nil
}

// New wraps an existing database handle. A non-positive lease means
// ledger.DefaultLease.
func New(db *sql.DB, lease time.Duration) *Ledger {
	if lease <= 0 {
		lease = ledger.DefaultLease
	}
	return &Ledger{db: db, lease: lease, now: time.Now}
}

// Close closes the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// EnsureSchema creates the ledger table.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: ensure schema: %w", err)
	}
	return nil
}

// Claim reserves weekKey for runID. The insert only overwrites a row that
// failed or whose sending lease has expired, so a sent week is never reclaimed.
func (l *Ledger) Claim(ctx context.Context, weekKey, runID string) (ledger.Claim, error) {
	const q = `
INSERT INTO report_dispatches (week_key, run_id, status, claimed_at, updated_at)
VALUES ($1, $2, 'sending', $3, $3)
ON CONFLICT (week_key) DO UPDATE SET
  run_id=EXCLUDED.run_id,
  status='sending',
  message_id='',
  error='',
  claimed_at=EXCLUDED.claimed_at,
  updated_at=EXCLUDED.updated_at
WHERE report_dispatches.status = 'failed'
   OR (report_dispatches.status = 'sending' AND report_dispatches.claimed_at < $4)
RETURNING run_id;
`
	now := l.now().UTC()
	var got string
	err := l.db.QueryRowContext(ctx, q, weekKey, runID, now, now.Add(-l.lease)).Scan(&got)
	switch {
	case err == nil:
		return ledger.Claim{Acquired: got == runID}, nil
	case errors.Is(err, sql.ErrNoRows):
		holder, ok, gerr := l.Get(ctx, weekKey)
		if gerr != nil {
			return ledger.Claim{}, gerr
		}
		if !ok {
			return ledger.Claim{}, fmt.Errorf("ledger: claim %s: row vanished", weekKey)
		}
		return ledger.Claim{Holder: holder}, nil
	}
	return ledger.Claim{}, fmt.Errorf("ledger: claim %s: %w", weekKey, err)
}

// MarkSent settles the claim as sent.
func (l *Ledger) MarkSent(ctx context.Context, weekKey, runID, messageID string) error {
	const q = `
UPDATE report_dispatches SET status='sent', message_id=$3, updated_at=$4
WHERE week_key=$1 AND run_id=$2 AND status='sending';
`
	return l.settle(ctx, "mark sent", q, weekKey, runID, messageID, l.now().UTC())
}

// MarkFailed releases the claim so a later run may retry the week.
func (l *Ledger) MarkFailed(ctx context.Context, weekKey, runID, cause string) error {
	const q = `
UPDATE report_dispatches SET status='failed', error=$3, updated_at=$4
WHERE week_key=$1 AND run_id=$2 AND status='sending';
`
	return l.settle(ctx, "mark failed", q, weekKey, runID, cause, l.now().UTC())
}

func (l *Ledger) settle(ctx context.Context, op, q string, args ...any) error {
	res, err := l.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: %s %v: %w", op, args[0], ledger.ErrLostClaim)
	}
	return nil
}

// Get returns the ledger row for weekKey.
func (l *Ledger) Get(ctx context.Context, weekKey string) (ledger.Entry, bool, error) {
	const q = `
SELECT week_key, run_id, status, message_id, error, claimed_at, updated_at
FROM report_dispatches
WHERE week_key=$1;
`
	var (
		e      ledger.Entry
		status string
	)
	err := l.db.QueryRowContext(ctx, q, weekKey).Scan(
		&e.WeekKey, &e.RunID, &status, &e.MessageID, &e.Error, &e.ClaimedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("ledger: get %s: %w", weekKey, err)
	}
	e.Status = ledger.Status(status)
	return e, true, nil
}
