package querier

import (
	"context"
	"fmt"
	"strings"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"github.com/finops-claw-gang/costpipe/internal/temporal/workflows"
)

// TemporalQuerier implements WorkflowQuerier using a Temporal client.
type TemporalQuerier struct {
	client client.Client
}

// New creates a TemporalQuerier.
func New(c client.Client) *TemporalQuerier {
	return &TemporalQuerier{client: c}
}

// ListQuery builds the visibility query for opts.
func ListQuery(opts ListOptions) string {
	var clauses []string
	if opts.TaskQueue != "" {
		clauses = append(clauses, fmt.Sprintf("TaskQueue = %q", opts.TaskQueue))
	}
	if opts.IDPrefix != "" {
		clauses = append(clauses, fmt.Sprintf("WorkflowId STARTS_WITH %q", opts.IDPrefix))
	}
	if opts.StatusFilter != "" {
		clauses = append(clauses, fmt.Sprintf("ExecutionStatus = %q", opts.StatusFilter))
	}
	return strings.Join(clauses, " AND ")
}

// ListWorkflows lists workflow executions using Temporal's visibility API.
func (q *TemporalQuerier) ListWorkflows(ctx context.Context, opts ListOptions) ([]WorkflowSummary, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	resp, err := q.client.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
		Query:    ListQuery(opts),
		PageSize: int32(pageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	var summaries []WorkflowSummary
	for _, exec := range resp.Executions {
		s := WorkflowSummary{
			WorkflowID: exec.Execution.WorkflowId,
			RunID:      exec.Execution.RunId,
			Type:       exec.GetType().GetName(),
			Status:     exec.Status.String(),
			StartTime:  exec.StartTime.AsTime(),
			TaskQueue:  exec.TaskQueue,
		}
		if exec.CloseTime != nil {
			s.CloseTime = exec.CloseTime.AsTime()
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// DescribeWorkflow returns the status of a workflow execution and, once it
// has closed, its result or failure.
func (q *TemporalQuerier) DescribeWorkflow(ctx context.Context, workflowID string) (*WorkflowDescription, error) {
	desc, err := q.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, fmt.Errorf("describe workflow: %w", err)
	}

	info := desc.WorkflowExecutionInfo
	wd := &WorkflowDescription{
		WorkflowSummary: WorkflowSummary{
			WorkflowID: info.Execution.WorkflowId,
			RunID:      info.Execution.RunId,
			Type:       info.GetType().GetName(),
			Status:     info.Status.String(),
			StartTime:  info.StartTime.AsTime(),
			TaskQueue:  info.TaskQueue,
		},
	}
	if info.CloseTime != nil {
		wd.CloseTime = info.CloseTime.AsTime()
	}

	switch info.Status {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		out := resultFor(wd.Type)
		if out == nil {
			return wd, nil
		}
		if err := q.client.GetWorkflow(ctx, workflowID, info.Execution.RunId).Get(ctx, out); err != nil {
			return nil, fmt.Errorf("get workflow result: %w", err)
		}
		wd.Result = out
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		if err := q.client.GetWorkflow(ctx, workflowID, info.Execution.RunId).Get(ctx, nil); err != nil {
			wd.Failure = err.Error()
		}
	}
	return wd, nil
}

// resultFor returns a value to decode the output of workflowType into.
func resultFor(workflowType string) any {
	switch workflowType {
	case "DailyCollectionWorkflow":
		return &workflows.DailyCollectionResult{}
	case "WeeklyAnalysisWorkflow":
		return &workflows.WeeklyAnalysisResult{}
	case "CollectionBackfillWorkflow":
		return &workflows.BackfillResult{}
	}
	return nil
}
