package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-claw-gang/costpipe/internal/config"
	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/testutil"
)

func stubConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load(config.MapStore{
		"COSTPIPE_SUBSCRIPTIONS":   "sub-A,sub-B",
		"COSTPIPE_MAIL_RECIPIENTS": "finops@example.com",
		"COSTPIPE_LOG_LEVEL":       "error",
	})
	require.NoError(t, err)
	return cfg
}

func TestStubApp_CollectThenReport(t *testing.T) {
	cfg := stubConfig(t)
	deps := StubDeps(cfg)
	a, err := Assemble(cfg, deps, nil, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	periodStart := time.Date(2025, 7, 21, 0, 0, 0, 0, time.UTC)
	summary, err := a.Collector.RunCollection(ctx, cfg.Subscriptions, periodStart.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompletedWithSkips, summary.Status)

	res, err := a.Weekly.RunWeeklyAnalysis(ctx, periodStart, periodStart.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisSent, res.Status)
	assert.True(t, res.AIAvailable)
	assert.Equal(t, 1, res.RecipientCount)
	assert.NotEmpty(t, res.ArchiveKey)

	mailer := deps.Mailer.(*testutil.RecordingMailer)
	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "costpipe-weekly-2025-W30", sent[0].IdempotencyKey)
	assert.Contains(t, sent[0].Subject, "2025-W30")
}

func TestStubApp_Activities(t *testing.T) {
	cfg := stubConfig(t)
	a, err := Assemble(cfg, StubDeps(cfg), nil, testLogger())
	require.NoError(t, err)

	acts := a.Activities()
	assert.Equal(t, []string{"sub-A", "sub-B"}, acts.Subscriptions)
	assert.Nil(t, acts.Publisher, "stub mode publishes no metrics")
	assert.NotNil(t, acts.Collector)
	assert.NotNil(t, acts.Analyzer)
}

func TestAssemble_RequiresRecipients(t *testing.T) {
	cfg := stubConfig(t)
	cfg.MailRecipients = nil
	_, err := Assemble(cfg, StubDeps(cfg), nil, testLogger())
	assert.ErrorIs(t, err, domain.ErrFatal)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
