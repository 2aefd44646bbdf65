package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/temporal/activities"
)

// DailyCollectionInput configures one collection run. Zero values take the
// workflow's current date and the worker's configured subscriptions.
type DailyCollectionInput struct {
	RunDate        string        `json:"run_date,omitempty"`
	Subscriptions  []string      `json:"subscriptions,omitempty"`
	MaxRunDuration time.Duration `json:"max_run_duration,omitempty"`
}

// DailyCollectionResult is the workflow output.
type DailyCollectionResult struct {
	RunDate string                   `json:"run_date"`
	Summary domain.CollectionSummary `json:"summary"`
}

// DailyCollectionWorkflow collects the previous full day for every
// subscription. A run that collected nothing fails the workflow after its
// outcome is published, so the same workflow ID may be started again.
func DailyCollectionWorkflow(ctx workflow.Context, in DailyCollectionInput) (DailyCollectionResult, error) {
	logger := workflow.GetLogger(ctx)
	result := DailyCollectionResult{RunDate: in.RunDate}
	if result.RunDate == "" {
		result.RunDate = today(ctx)
	}

	actCtx := workflow.WithActivityOptions(ctx, jobOptions(in.MaxRunDuration, 2))
	var out activities.CollectOutput
	err := workflow.ExecuteActivity(actCtx, "CollectCosts", activities.CollectInput{
		RunDate:       result.RunDate,
		Subscriptions: in.Subscriptions,
	}).Get(ctx, &out)
	if err != nil {
		publishRun(ctx, activities.JobCollect, string(domain.RunFailed), nil)
		return result, fmt.Errorf("collect %s: %w", result.RunDate, err)
	}
	result.Summary = out.Summary

	publishRun(ctx, activities.JobCollect, string(out.Summary.Status), activities.CollectionCounts(out.Summary))
	logger.Info("collection finished",
		"run_date", result.RunDate,
		"status", out.Summary.Status,
		"succeeded", out.Summary.Succeeded,
		"skipped", out.Summary.Skipped,
		"failed", out.Summary.Failed,
	)

	if out.Error != "" {
		return result, temporal.NewNonRetryableApplicationError(out.Error, ErrTypeRunFailed, nil, out.Summary)
	}
	return result, nil
}
