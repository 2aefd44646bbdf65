package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-claw-gang/costpipe/internal/ledger"
)

// openTestLedger connects to COSTPIPE_TEST_LEDGER_DSN, skipping when unset.
func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := os.Getenv("COSTPIPE_TEST_LEDGER_DSN")
	if dsn == "" {
		t.Skip("COSTPIPE_TEST_LEDGER_DSN not set")
	}
	ctx := context.Background()
	l, err := Open(ctx, dsn, ledger.LeaseFor(time.Hour))
	require.NoError(t, err)
	require.NoError(t, l.EnsureSchema(ctx))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func testWeek(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestClaim_AtMostOneSendPerWeek(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	week := testWeek(t)

	first, err := l.Claim(ctx, week, "run-1")
	require.NoError(t, err)
	assert.True(t, first.Acquired)

	second, err := l.Claim(ctx, week, "run-2")
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.Equal(t, ledger.StatusSending, second.Holder.Status)

	require.NoError(t, l.MarkSent(ctx, week, "run-1", "msg-1"))

	third, err := l.Claim(ctx, week, "run-3")
	require.NoError(t, err)
	assert.False(t, third.Acquired)
	assert.Equal(t, ledger.StatusSent, third.Holder.Status)
	assert.Equal(t, "msg-1", third.Holder.MessageID)
}

func TestClaim_FailedWeekIsReclaimable(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	week := testWeek(t)

	_, err := l.Claim(ctx, week, "run-1")
	require.NoError(t, err)
	require.NoError(t, l.MarkFailed(ctx, week, "run-1", "relay rejected"))

	again, err := l.Claim(ctx, week, "run-2")
	require.NoError(t, err)
	assert.True(t, again.Acquired)

	err = l.MarkSent(ctx, week, "run-1", "late")
	assert.ErrorIs(t, err, ledger.ErrLostClaim)
}

func TestClaim_StaleLeaseIsReclaimable(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	week := testWeek(t)

	past := time.Now().Add(-2 * time.Hour)
	l.now = func() time.Time { return past }
	_, err := l.Claim(ctx, week, "run-1")
	require.NoError(t, err)

	l.now = time.Now
	again, err := l.Claim(ctx, week, "run-2")
	require.NoError(t, err)
	assert.True(t, again.Acquired)
}

func TestClaim_HeldForTheWholeRun(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	week := testWeek(t)

	past := time.Now().Add(-50 * time.Minute)
	l.now = func() time.Time { return past }
	_, err := l.Claim(ctx, week, "run-1")
	require.NoError(t, err)

	l.now = time.Now
	again, err := l.Claim(ctx, week, "run-2")
	require.NoError(t, err)
	assert.False(t, again.Acquired, "a claim younger than the run duration is still live")
}

func TestGet_Missing(t *testing.T) {
	l := openTestLedger(t)

	_, ok, err := l.Get(context.Background(), testWeek(t))
	require.NoError(t, err)
	assert.False(t, ok)
}
