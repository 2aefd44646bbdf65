package workflows

import (
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// MaxBackfillDays bounds one backfill request.
const MaxBackfillDays = 92

// BackfillInput names an inclusive range of run dates to collect.
type BackfillInput struct {
	From           string        `json:"from"`
	To             string        `json:"to"`
	Subscriptions  []string      `json:"subscriptions,omitempty"`
	MaxRunDuration time.Duration `json:"max_run_duration,omitempty"`
}

// BackfillResult lists the run dates by outcome.
type BackfillResult struct {
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
}

// CollectionBackfillWorkflow re-runs the daily collection for each run date
// in range, one child workflow at a time so the billing source sees the same
// load as the scheduled job. A failed day does not stop the backfill.
func CollectionBackfillWorkflow(ctx workflow.Context, in BackfillInput) (BackfillResult, error) {
	logger := workflow.GetLogger(ctx)
	var result BackfillResult

	from, err := time.Parse(domain.DateLayout, in.From)
	if err != nil {
		return result, temporal.NewNonRetryableApplicationError(fmt.Sprintf("invalid from %q", in.From), "InvalidInput", err)
	}
	to, err := time.Parse(domain.DateLayout, in.To)
	if err != nil {
		return result, temporal.NewNonRetryableApplicationError(fmt.Sprintf("invalid to %q", in.To), "InvalidInput", err)
	}
	days := int(to.Sub(from).Hours()/24) + 1
	if days < 1 || days > MaxBackfillDays {
		return result, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("backfill range %s..%s must cover 1 to %d days", in.From, in.To, MaxBackfillDays), "InvalidInput", nil)
	}

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		runDate := d.Format(domain.DateLayout)
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID:            CollectWorkflowID(runDate),
			WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		})

		var child DailyCollectionResult
		err := workflow.ExecuteChildWorkflow(childCtx, DailyCollectionWorkflow, DailyCollectionInput{
			RunDate:        runDate,
			Subscriptions:  in.Subscriptions,
			MaxRunDuration: in.MaxRunDuration,
		}).Get(ctx, &child)
		if err != nil {
			logger.Warn("backfill day failed", "run_date", runDate, "error", err)
			result.Failed = append(result.Failed, runDate)
			continue
		}
		result.Completed = append(result.Completed, runDate)
	}

	logger.Info("backfill finished", "from", in.From, "to", in.To,
		"completed", len(result.Completed), "failed", len(result.Failed))
	return result, nil
}
