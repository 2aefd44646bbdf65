package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/temporal/activities"
)

// WeeklyAnalysisInput configures one weekly run over [PeriodStart,
// PeriodEnd). An empty period selects the previous full week.
type WeeklyAnalysisInput struct {
	PeriodStart    string        `json:"period_start,omitempty"`
	PeriodEnd      string        `json:"period_end,omitempty"`
	MaxRunDuration time.Duration `json:"max_run_duration,omitempty"`
}

// WeeklyAnalysisResult is the workflow output.
type WeeklyAnalysisResult struct {
	Result domain.AnalysisRunResult `json:"result"`
}

// WeeklyAnalysisWorkflow runs the weekly analysis exactly once per start.
// The activity is never retried by Temporal: a second attempt after a
// partial send could duplicate the report, and the dispatch ledger already
// decides whether a week may be sent again.
func WeeklyAnalysisWorkflow(ctx workflow.Context, in WeeklyAnalysisInput) (WeeklyAnalysisResult, error) {
	logger := workflow.GetLogger(ctx)
	if in.PeriodStart == "" || in.PeriodEnd == "" {
		start, end := PreviousWeek(workflow.Now(ctx))
		in.PeriodStart = start.Format(domain.DateLayout)
		in.PeriodEnd = end.Format(domain.DateLayout)
	}

	actCtx := workflow.WithActivityOptions(ctx, jobOptions(in.MaxRunDuration, 1))
	var out activities.WeeklyOutput
	err := workflow.ExecuteActivity(actCtx, "RunWeeklyAnalysis", activities.WeeklyInput{
		PeriodStart: in.PeriodStart,
		PeriodEnd:   in.PeriodEnd,
	}).Get(ctx, &out)
	if err != nil {
		publishRun(ctx, activities.JobWeekly, string(domain.AnalysisFailed), nil)
		return WeeklyAnalysisResult{}, fmt.Errorf("weekly analysis %s..%s: %w", in.PeriodStart, in.PeriodEnd, err)
	}
	result := WeeklyAnalysisResult{Result: out.Result}

	publishRun(ctx, activities.JobWeekly, string(out.Result.Status), activities.WeeklyCounts(out.Result))
	logger.Info("weekly analysis finished",
		"week_key", out.Result.WeekKey,
		"status", out.Result.Status,
		"anomalies", out.Result.AnomalyCount,
		"ai_available", out.Result.AIAvailable,
	)

	if out.Error != "" {
		return result, temporal.NewNonRetryableApplicationError(out.Error, ErrTypeRunFailed, nil, out.Result)
	}
	return result, nil
}
