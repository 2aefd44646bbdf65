package querier

import "context"

// WorkflowQuerier provides read access to job workflows. Used by the CLI
// status command.
type WorkflowQuerier interface {
	ListWorkflows(ctx context.Context, opts ListOptions) ([]WorkflowSummary, error)
	DescribeWorkflow(ctx context.Context, workflowID string) (*WorkflowDescription, error)
}
