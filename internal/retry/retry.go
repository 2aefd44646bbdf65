package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limiter gates attempts against a shared API (see ratelimit.ServiceLimiter).
type Limiter interface {
	Wait(ctx context.Context, service string) error
}

// Observer is notified after every attempt.
type Observer func(op string, attempt int, err error)

// Client executes operations under a Policy.
type Client struct {
	policy   Policy
	sleep    Sleeper
	rand     func() float64
	logger   *slog.Logger
	limiter  Limiter
	service  string
	observer Observer
}

// Option configures a Client.
type Option func(*Client)

// WithSleeper replaces the backoff sleeper (tests use a recording no-op).
func WithSleeper(s Sleeper) Option { return func(c *Client) { c.sleep = s } }

// WithRand replaces the jitter source.
func WithRand(r func() float64) Option { return func(c *Client) { c.rand = r } }

// WithLogger sets the attempt logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithLimiter gates each attempt on limiter for the named service.
func WithLimiter(l Limiter, service string) Option {
	return func(c *Client) {
		c.limiter = l
		c.service = service
	}
}

// WithObserver registers an attempt observer (metrics).
func WithObserver(o Observer) Option { return func(c *Client) { c.observer = o } }

// New creates a Client for the given policy.
func New(p Policy, opts ...Option) *Client {
	c := &Client{
		policy: p,
		sleep:  SleepContext,
		rand:   rand.Float64,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Policy returns the client's policy.
func (c *Client) Policy() Policy { return c.policy }

// Do runs fn until it succeeds, fails non-transiently, or exhausts the policy.
// Each attempt runs under its own timeout (zero means none). Backoff waits are
// the only suspension points and end early when ctx is cancelled.
func Do[T any](ctx context.Context, c *Client, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	m := NewMachine(c.policy, c.rand)
	var wait time.Duration

	for {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry %s: %w", op, err)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, c.service); err != nil {
				return zero, fmt.Errorf("retry %s: %w", op, err)
			}
		}

		c.logger.Info("attempt", "op", op, "attempt", m.Attempt()+1, "wait", wait)
		v, err := runAttempt(ctx, op, timeout, fn)
		step := m.Next(err)
		if c.observer != nil {
			c.observer(op, step.Attempt, err)
		}

		switch step.Action {
		case ActionSucceed:
			return v, nil
		case ActionFail:
			if step.Attempt > 1 || domain.IsTransient(err) {
				c.logger.Warn("giving up", "op", op, "attempt", step.Attempt, "error", step.Err)
			}
			return zero, step.Err
		}

		wait = step.Wait
		c.logger.Warn("transient failure, backing off",
			"op", op, "attempt", step.Attempt, "wait", wait, "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("retry %s: cancelled during backoff after attempt %d: %w", op, step.Attempt, err)
		}
	}
}

// runAttempt applies the per-attempt timeout. An attempt that hits its own
// deadline while the parent context is still live counts as transient.
func runAttempt[T any](ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := fn(actx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return v, &domain.SourceError{Op: op, Kind: domain.KindTransient, Code: "AttemptTimeout", Err: err}
	}
	return v, err
}
