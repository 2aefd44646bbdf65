package validator

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Tally counts validation outcomes. It is safe for concurrent use by the
// collection workers of a single run.
type Tally struct {
	accepted atomic.Int64
	rejected atomic.Int64

	mu      sync.Mutex
	reasons map[Reason]int64
}

// Observe records the outcome of one Validate call.
func (t *Tally) Observe(err error) {
	if err == nil {
		t.accepted.Add(1)
		return
	}
	t.rejected.Add(1)

	reason := ReasonInvalid
	var rej *Rejection
	if errors.As(err, &rej) {
		reason = rej.Reason
	}
	t.mu.Lock()
	if t.reasons == nil {
		t.reasons = make(map[Reason]int64)
	}
	t.reasons[reason]++
	t.mu.Unlock()
}

// Accepted returns the number of accepted records.
func (t *Tally) Accepted() int64 { return t.accepted.Load() }

// Rejected returns the number of rejected records.
func (t *Tally) Rejected() int64 { return t.rejected.Load() }

// Reasons returns a copy of the rejection counts by reason.
func (t *Tally) Reasons() map[Reason]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Reason]int64, len(t.reasons))
	for k, v := range t.reasons {
		out[k] = v
	}
	return out
}
