package retry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

type recordingSleeper struct {
	waits []time.Duration
	err   error
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func throttled() error {
	return domain.NewSourceError("billing.fetch", 429, "Throttling", errors.New("slow down"))
}

func TestDo_TransientThenSuccess(t *testing.T) {
	t.Parallel()
	for _, failures := range []int{0, 1, 2, 3, 4} {
		sl := &recordingSleeper{}
		c := New(DefaultPolicy(), WithSleeper(sl.sleep), WithRand(func() float64 { return 0.5 }), WithLogger(quietLogger()))

		calls := 0
		got, err := Do(context.Background(), c, "op", 0, func(context.Context) (int, error) {
			calls++
			if calls <= failures {
				return 0, throttled()
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, failures+1, calls)
		require.Len(t, sl.waits, failures)
		for i := 1; i < len(sl.waits); i++ {
			assert.Greater(t, sl.waits[i], sl.waits[i-1], "waits must grow")
		}
	}
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	t.Parallel()
	sl := &recordingSleeper{}
	c := New(DefaultPolicy(), WithSleeper(sl.sleep), WithLogger(quietLogger()))

	calls := 0
	_, err := Do(context.Background(), c, "op", 0, func(context.Context) (string, error) {
		calls++
		return "", domain.NewSourceError("billing.fetch", 403, "AccessDenied", errors.New("denied"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sl.waits)
	assert.ErrorIs(t, err, domain.ErrFatal)
}

func TestDo_SourceRejectionNotRetried(t *testing.T) {
	t.Parallel()
	c := New(DefaultPolicy(), WithSleeper((&recordingSleeper{}).sleep), WithLogger(quietLogger()))
	calls := 0
	_, err := Do(context.Background(), c, "op", 0, func(context.Context) (int, error) {
		calls++
		return 0, domain.NewSourceError("billing.fetch", 404, "", errors.New("no reservations"))
	})
	assert.ErrorIs(t, err, domain.ErrSourceRejection)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()
	sl := &recordingSleeper{}
	c := New(DefaultPolicy(), WithSleeper(sl.sleep), WithLogger(quietLogger()))

	calls := 0
	_, err := Do(context.Background(), c, "op", 0, func(context.Context) (int, error) {
		calls++
		return 0, throttled()
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Len(t, sl.waits, 4)
	assert.True(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "gave up after 5 attempts")
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	sl := &recordingSleeper{}
	c := New(DefaultPolicy(), WithLogger(quietLogger()), WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return sl.sleep(ctx, d)
	}))

	calls := 0
	_, err := Do(ctx, c, "op", 0, func(context.Context) (int, error) {
		calls++
		return 0, throttled()
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(DefaultPolicy(), WithLogger(quietLogger()))
	calls := 0
	_, err := Do(ctx, c, "op", 0, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_AttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()
	sl := &recordingSleeper{}
	c := New(DefaultPolicy(), WithSleeper(sl.sleep), WithLogger(quietLogger()))

	calls := 0
	got, err := Do(context.Background(), c, "op", 10*time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 2, calls)
	assert.Len(t, sl.waits, 1)
}

type countingLimiter struct{ n int }

func (l *countingLimiter) Wait(context.Context, string) error {
	l.n++
	return nil
}

func TestDo_LimiterGatesEachAttempt(t *testing.T) {
	t.Parallel()
	lim := &countingLimiter{}
	var observed []int
	c := New(DefaultPolicy(),
		WithSleeper((&recordingSleeper{}).sleep),
		WithLogger(quietLogger()),
		WithLimiter(lim, "BillingAPI"),
		WithObserver(func(_ string, attempt int, _ error) { observed = append(observed, attempt) }),
	)
	calls := 0
	_, err := Do(context.Background(), c, "op", 0, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, throttled()
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, lim.n)
	assert.Equal(t, []int{1, 2, 3}, observed)
}

func TestDo_LogsEveryAttemptAtInfo(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	c := New(Policy{BaseDelay: 2 * time.Second, MaxAttempts: 3}, WithSleeper((&recordingSleeper{}).sleep), WithLogger(logger))

	calls := 0
	_, err := Do(context.Background(), c, "billing.fetch", 0, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, throttled()
		}
		return 1, nil
	})
	require.NoError(t, err)

	var attempts []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, "msg=attempt ") {
			attempts = append(attempts, line)
		}
	}
	require.Len(t, attempts, 2)
	assert.Contains(t, attempts[0], "level=INFO")
	assert.Contains(t, attempts[0], "attempt=1 wait=0s")
	assert.Contains(t, attempts[1], "attempt=2 wait=2s")
}
