// Package workflows holds the Temporal workflows that schedule the daily
// collection and weekly analysis jobs.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/temporal/activities"
)

// DefaultMaxRunDuration bounds a job when the caller passes none.
const DefaultMaxRunDuration = 2 * time.Hour

// ErrTypeRunFailed marks a workflow whose job completed with a failed status.
const ErrTypeRunFailed = "RunFailed"

// CollectWorkflowID is the workflow ID of the collection run for runDate.
func CollectWorkflowID(runDate string) string {
	return "costpipe-collect-" + runDate
}

// WeeklyWorkflowID is the workflow ID of the weekly run for weekKey.
func WeeklyWorkflowID(weekKey string) string {
	return "costpipe-weekly-" + weekKey
}

// jobOptions times the job activity out with the run itself so a run-level
// timeout cancels in-flight retries.
func jobOptions(maxRun time.Duration, attempts int32) workflow.ActivityOptions {
	if maxRun <= 0 {
		maxRun = DefaultMaxRunDuration
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: maxRun,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Minute,
			MaximumAttempts:        attempts,
			NonRetryableErrorTypes: []string{activities.ErrTypeInvalidInput},
		},
	}
}

// publishRun reports a job outcome. Monitoring failures never fail the job.
func publishRun(ctx workflow.Context, job, status string, counts map[string]float64) {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 3,
		},
	}
	in := activities.RunMetricsInput{
		Job:       job,
		Status:    status,
		Counts:    counts,
		Timestamp: workflow.Now(ctx).UTC(),
	}
	err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, opts), "PublishRunMetrics", in).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("publish run metrics failed", "job", job, "status", status, "error", err)
	}
}

// today is the workflow's current UTC date as YYYY-MM-DD.
func today(ctx workflow.Context) string {
	return workflow.Now(ctx).UTC().Format(domain.DateLayout)
}

// PreviousWeek returns the last full Monday-based week before now as
// [start, end).
func PreviousWeek(now time.Time) (time.Time, time.Time) {
	day := domain.Day(now)
	offset := (int(day.Weekday()) + 6) % 7
	end := day.AddDate(0, 0, -offset)
	return end.AddDate(0, 0, -7), end
}
