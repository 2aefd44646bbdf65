// Package retry runs outbound calls under a bounded exponential-backoff policy.
//
// The control flow is an explicit state machine (Machine) so the policy can be
// exercised without real delays; Do drives the machine with an injectable Sleeper.
package retry

import (
	"fmt"
	"time"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Policy configures backoff. Delays start at BaseDelay and double after each
// transient failure; a single wait never exceeds MaxDelay.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// Jitter is the fraction of each delay added at random, in [0, 1).
	Jitter float64
}

// DefaultPolicy returns 2s base delay, doubling, 5 attempts, 60s cap, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
		Jitter:      0.2,
	}
}

// Action is what the caller must do after an attempt.
type Action int

const (
	ActionSucceed Action = iota
	ActionRetry
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionSucceed:
		return "succeed"
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Step is one transition of the machine.
type Step struct {
	Action  Action
	Attempt int
	Wait    time.Duration
	Err     error
}

// Machine holds the retry state of a single logical request.
type Machine struct {
	policy    Policy
	rand      func() float64
	attempt   int
	nextDelay time.Duration
	done      bool
}

// NewMachine creates a machine. rnd returns values in [0, 1); nil disables jitter.
func NewMachine(p Policy, rnd func() float64) *Machine {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if rnd == nil {
		rnd = func() float64 { return 0 }
	}
	return &Machine{policy: p, rand: rnd, nextDelay: p.BaseDelay}
}

// Attempt returns the number of attempts recorded so far.
func (m *Machine) Attempt() int { return m.attempt }

// Done reports whether the machine reached a terminal state.
func (m *Machine) Done() bool { return m.done }

// Next records the outcome of an attempt and returns the next transition.
// Only transient errors are retried; anything else fails on the spot.
func (m *Machine) Next(err error) Step {
	if m.done {
		return Step{Action: ActionFail, Attempt: m.attempt, Err: fmt.Errorf("retry: machine already terminated")}
	}
	m.attempt++

	if err == nil {
		m.done = true
		return Step{Action: ActionSucceed, Attempt: m.attempt}
	}
	if !domain.IsTransient(err) {
		m.done = true
		return Step{Action: ActionFail, Attempt: m.attempt, Err: err}
	}
	if m.attempt >= m.policy.MaxAttempts {
		m.done = true
		return Step{
			Action:  ActionFail,
			Attempt: m.attempt,
			Err:     fmt.Errorf("retry: gave up after %d attempts: %w", m.attempt, err),
		}
	}

	wait := m.nextDelay
	if m.policy.Jitter > 0 {
		wait += time.Duration(float64(wait) * m.policy.Jitter * m.rand())
	}
	if m.policy.MaxDelay > 0 && wait > m.policy.MaxDelay {
		wait = m.policy.MaxDelay
	}

	m.nextDelay *= 2
	if m.policy.MaxDelay > 0 && m.nextDelay > m.policy.MaxDelay {
		m.nextDelay = m.policy.MaxDelay
	}
	return Step{Action: ActionRetry, Attempt: m.attempt, Wait: wait, Err: err}
}
