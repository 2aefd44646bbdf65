// Package querier provides read access to Temporal workflow state.
package querier

import "time"

// ListOptions controls filtering for ListWorkflows.
type ListOptions struct {
	// TaskQueue filters by task queue name. Empty means no filter.
	TaskQueue string
	// IDPrefix filters by workflow ID prefix, e.g. "costpipe-weekly-".
	IDPrefix string
	// StatusFilter filters by workflow status (e.g. "Running", "Completed").
	StatusFilter string
	// PageSize limits the number of results.
	PageSize int
}

// WorkflowSummary is a lightweight overview of a workflow execution.
type WorkflowSummary struct {
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
	CloseTime  time.Time `json:"close_time,omitempty"`
	TaskQueue  string    `json:"task_queue"`
}

// WorkflowDescription adds the job outcome to a summary. Result holds the
// decoded workflow output of a completed run; Failure holds the error of a
// failed one.
type WorkflowDescription struct {
	WorkflowSummary
	Result  any    `json:"result,omitempty"`
	Failure string `json:"failure,omitempty"`
}
