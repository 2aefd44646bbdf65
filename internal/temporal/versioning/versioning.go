// Package versioning defines workflow versions and task queue names.
package versioning

const (
	// Workflow versions for determinism tracking.
	DailyCollectionV1 = "daily-collection-v1"
	WeeklyAnalysisV1  = "weekly-analysis-v1"
	BackfillV1        = "collection-backfill-v1"

	// Task queues. Collection is read-heavy against the billing source;
	// reporting is serialized since a week sends at most one email.
	QueueCollect = "costpipe-collect"
	QueueReport  = "costpipe-report"
)
