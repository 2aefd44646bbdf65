package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/finops-claw-gang/costpipe/internal/connectors/aws/cloudwatch"
	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Error types carried on non-retryable application errors.
const (
	ErrTypeInvalidInput = "InvalidInput"
	ErrTypeRejected     = "Rejected"
)

// Collector runs one daily collection. collection.Orchestrator satisfies it.
type Collector interface {
	RunCollection(ctx context.Context, subscriptionIDs []string, runDate time.Time) (domain.CollectionSummary, error)
}

// Analyzer runs one weekly analysis. weekly.Runner satisfies it.
type Analyzer interface {
	RunWeeklyAnalysis(ctx context.Context, periodStart, periodEnd time.Time) (domain.AnalysisRunResult, error)
}

// Publisher sends run outcomes to the monitoring channel.
type Publisher interface {
	PublishRun(ctx context.Context, m cloudwatch.RunMetrics) error
}

// Activities holds the dependencies for all Temporal activities.
// Each method is registered as a Temporal activity.
type Activities struct {
	Collector     Collector
	Analyzer      Analyzer
	Publisher     Publisher // nil = metrics are not published
	Subscriptions []string
}

// CollectCosts runs the daily collection for in.RunDate. A failed run is
// reported through CollectOutput.Error so the summary survives the
// serialization boundary; the workflow decides how to surface it.
func (a *Activities) CollectCosts(ctx context.Context, in CollectInput) (CollectOutput, error) {
	runDate, err := parseDate("run_date", in.RunDate)
	if err != nil {
		return CollectOutput{}, err
	}
	subs := in.Subscriptions
	if len(subs) == 0 {
		subs = a.Subscriptions
	}
	activity.GetLogger(ctx).Info("collecting costs", "run_date", in.RunDate, "subscriptions", len(subs))

	summary, err := a.Collector.RunCollection(ctx, subs, runDate)
	out := CollectOutput{Summary: summary}
	if err != nil {
		out.Error = err.Error()
	}
	return out, nil
}

// RunWeeklyAnalysis runs the weekly analysis for the given period.
func (a *Activities) RunWeeklyAnalysis(ctx context.Context, in WeeklyInput) (WeeklyOutput, error) {
	start, err := parseDate("period_start", in.PeriodStart)
	if err != nil {
		return WeeklyOutput{}, err
	}
	end, err := parseDate("period_end", in.PeriodEnd)
	if err != nil {
		return WeeklyOutput{}, err
	}
	activity.GetLogger(ctx).Info("running weekly analysis", "period_start", in.PeriodStart, "period_end", in.PeriodEnd)

	res, err := a.Analyzer.RunWeeklyAnalysis(ctx, start, end)
	out := WeeklyOutput{Result: res}
	if err != nil {
		out.Error = err.Error()
	}
	return out, nil
}

// PublishRunMetrics sends one job outcome to CloudWatch. Only transient
// failures are retried by Temporal.
func (a *Activities) PublishRunMetrics(ctx context.Context, in RunMetricsInput) error {
	if a.Publisher == nil {
		return nil
	}
	err := a.Publisher.PublishRun(ctx, cloudwatch.RunMetrics{
		Job:       in.Job,
		Status:    in.Status,
		Counts:    in.Counts,
		Timestamp: in.Timestamp,
	})
	if err == nil {
		return nil
	}
	if domain.IsTransient(err) {
		return fmt.Errorf("publish run metrics: %w", err)
	}
	return temporal.NewNonRetryableApplicationError("publish run metrics: "+err.Error(), ErrTypeRejected, err)
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid %s %q", field, raw), ErrTypeInvalidInput, err)
	}
	return t, nil
}
