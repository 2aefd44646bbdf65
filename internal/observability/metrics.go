package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OTel metric instruments for the pipeline.
type Metrics struct {
	RecordsCollected metric.Int64Counter
	RecordsRejected  metric.Int64Counter
	RecordsExcluded  metric.Int64Counter
	DatasetOutcomes  metric.Int64Counter
	RetryAttempts    metric.Int64Counter
	AnomaliesFlagged metric.Int64Counter
	ReportsSent      metric.Int64Counter
	RunDuration      metric.Float64Histogram
}

// NewMetrics creates the pipeline metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("costpipe")

	collected, err := meter.Int64Counter("costpipe.records.collected",
		metric.WithDescription("Records accepted and written to the sink"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter("costpipe.records.rejected",
		metric.WithDescription("Records rejected by validation"),
	)
	if err != nil {
		return nil, err
	}

	excluded, err := meter.Int64Counter("costpipe.records.excluded",
		metric.WithDescription("Accepted records tagged as excluded resources"),
	)
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter("costpipe.dataset.outcomes",
		metric.WithDescription("Subscription x dataset collection outcomes"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter("costpipe.retry.attempts",
		metric.WithDescription("Outbound call attempts, including retries"),
	)
	if err != nil {
		return nil, err
	}

	anomalies, err := meter.Int64Counter("costpipe.anomalies.flagged",
		metric.WithDescription("Anomalies flagged by the weekly analysis"),
	)
	if err != nil {
		return nil, err
	}

	sent, err := meter.Int64Counter("costpipe.reports.sent",
		metric.WithDescription("Weekly reports by dispatch outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("costpipe.run.duration_seconds",
		metric.WithDescription("Wall-clock duration of a job run"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RecordsCollected: collected,
		RecordsRejected:  rejected,
		RecordsExcluded:  excluded,
		DatasetOutcomes:  outcomes,
		RetryAttempts:    attempts,
		AnomaliesFlagged: anomalies,
		ReportsSent:      sent,
		RunDuration:      duration,
	}, nil
}

// RecordDataset records the outcome and record counts of one subscription x dataset pair.
// A nil receiver is a no-op so components can run without telemetry.
func (m *Metrics) RecordDataset(ctx context.Context, dataset, status string, accepted, rejected, excluded int) {
	if m == nil {
		return
	}
	ds := attribute.String("dataset", dataset)
	m.DatasetOutcomes.Add(ctx, 1, metric.WithAttributes(ds, attribute.String("status", status)))
	m.RecordsCollected.Add(ctx, int64(accepted), metric.WithAttributes(ds))
	m.RecordsRejected.Add(ctx, int64(rejected), metric.WithAttributes(ds))
	m.RecordsExcluded.Add(ctx, int64(excluded), metric.WithAttributes(ds))
}

// RecordAttempt records one outbound call attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, op string, failed bool) {
	if m == nil {
		return
	}
	m.RetryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("failed", failed),
	))
}

// RecordAnomaly records a flagged anomaly.
func (m *Metrics) RecordAnomaly(ctx context.Context, service, severity string) {
	if m == nil {
		return
	}
	m.AnomaliesFlagged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("severity", severity),
	))
}

// RecordReport records a weekly dispatch outcome.
func (m *Metrics) RecordReport(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.ReportsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRun records a job's duration and final status.
func (m *Metrics) RecordRun(ctx context.Context, job, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("status", status),
	))
}
