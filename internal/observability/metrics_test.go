package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	require.NotNil(t, m.RecordsCollected)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordDataset(ctx, "cost", "succeeded", 10, 1, 2)
		m.RecordAttempt(ctx, "billing.fetch", true)
		m.RecordAnomaly(ctx, "Amazon EC2", "high")
		m.RecordReport(ctx, "sent")
		m.RecordRun(ctx, "collect", "completed", 12.5)
	})
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDataset(context.Background(), "cost", "failed", 0, 0, 0)
		m.RecordRun(context.Background(), "weekly", "failed", 1)
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestTemporalSlogAdapter_CarriesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	a := NewTemporalSlogAdapter(NewLogger(&buf, "debug"))

	a.With("WorkflowID", "costpipe-collect-2025-07-20").Info("activity started", "attempt", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, ServiceName, line["service"])
	assert.Equal(t, "temporal", line["component"])
	assert.Equal(t, "costpipe-collect-2025-07-20", line["WorkflowID"])
	assert.Equal(t, float64(1), line["attempt"])
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("dropped")
	assert.Zero(t, buf.Len())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), `"msg":"kept"`)
}
