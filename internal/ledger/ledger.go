// Package ledger defines the dispatch ledger that guarantees at most one
// successful report send per week key.
package ledger

import (
	"errors"
	"time"
)

// Status is the dispatch state of a week key.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// SettleBudget bounds how long a run spends recording its dispatch after the
// send returns.
const SettleBudget = 5 * time.Minute

// DefaultLease is how long a "sending" claim blocks other runs when no run
// duration is configured: the default two-hour run plus settling.
const DefaultLease = 2*time.Hour + SettleBudget

// LeaseFor returns the claim lease for runs bounded by maxRun. The holder of a
// claim older than the lease can no longer be sending or settling, so only a
// crashed run's claim is ever reclaimed.
func LeaseFor(maxRun time.Duration) time.Duration {
	if maxRun <= 0 {
		return DefaultLease
	}
	return maxRun + SettleBudget
}

// ErrLostClaim is returned when a run tries to settle a claim it no longer holds.
var ErrLostClaim = errors.New("ledger: claim no longer held")

// Entry is the ledger row for one week key.
type Entry struct {
	WeekKey   string    `json:"week_key"`
	RunID     string    `json:"run_id"`
	Status    Status    `json:"status"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claim is the outcome of trying to reserve a week key for sending.
// When Acquired is false, Holder describes the row that blocked the claim.
type Claim struct {
	Acquired bool
	Holder   Entry
}

// Reclaimable reports whether a row may be taken over by a new run at now.
func Reclaimable(e Entry, now time.Time, lease time.Duration) bool {
	switch e.Status {
	case StatusFailed:
		return true
	case StatusSending:
		return e.ClaimedAt.Before(now.Add(-lease))
	}
	return false
}
