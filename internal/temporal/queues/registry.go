// Package queues defines per-queue worker configuration for task-queue partitioning.
package queues

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/worker"

	"github.com/finops-claw-gang/costpipe/internal/temporal/versioning"
)

// QueueConfig holds worker options for a single task queue.
type QueueConfig struct {
	Name    string
	Options worker.Options
}

// DefaultConfigs returns the standard per-queue worker options.
//
//   - QueueCollect: fan-out is bounded inside the activity, so few slots
//   - QueueReport: one weekly run at a time
func DefaultConfigs() map[string]QueueConfig {
	return map[string]QueueConfig{
		versioning.QueueCollect: {
			Name: versioning.QueueCollect,
			Options: worker.Options{
				MaxConcurrentActivityExecutionSize:     4,
				MaxConcurrentWorkflowTaskExecutionSize: 4,
			},
		},
		versioning.QueueReport: {
			Name: versioning.QueueReport,
			Options: worker.Options{
				MaxConcurrentActivityExecutionSize:     1,
				MaxConcurrentWorkflowTaskExecutionSize: 2,
			},
		},
	}
}

// ParseQueues parses a comma-separated queue list (e.g. "collect,report")
// into a set of queue names. Accepts both short names ("collect") and
// full names ("costpipe-collect"). An empty list selects every queue.
func ParseQueues(raw string) ([]string, error) {
	all := []string{versioning.QueueCollect, versioning.QueueReport}
	if raw == "" {
		return all, nil
	}

	shortNames := map[string]string{
		"collect": versioning.QueueCollect,
		"report":  versioning.QueueReport,
	}
	fullNames := map[string]bool{
		versioning.QueueCollect: true,
		versioning.QueueReport:  true,
	}

	seen := make(map[string]bool)
	var result []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if full, ok := shortNames[name]; ok {
			name = full
		}
		if !fullNames[name] {
			return nil, fmt.Errorf("unknown queue %q", name)
		}
		if !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}
	if len(result) == 0 {
		return all, nil
	}
	return result, nil
}
