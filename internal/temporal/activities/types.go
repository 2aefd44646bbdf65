// Package activities defines the Temporal activity I/O structs and the
// Activities implementation that bridges Temporal's serialization boundary
// to the job packages in internal/.
package activities

import (
	"time"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// CollectInput is the activity input for one daily collection run.
type CollectInput struct {
	// RunDate is a YYYY-MM-DD date; the previous full day is collected.
	RunDate string `json:"run_date"`
	// Subscriptions overrides the configured subscription list when set.
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// CollectOutput is the activity output from a collection run. Error is set
// when the run itself failed; the summary is populated either way.
type CollectOutput struct {
	Summary domain.CollectionSummary `json:"summary"`
	Error   string                   `json:"error,omitempty"`
}

// WeeklyInput is the activity input for one weekly analysis run over
// [PeriodStart, PeriodEnd).
type WeeklyInput struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

// WeeklyOutput is the activity output from a weekly analysis run.
type WeeklyOutput struct {
	Result domain.AnalysisRunResult `json:"result"`
	Error  string                   `json:"error,omitempty"`
}

// RunMetricsInput is one job outcome for the monitoring channel.
type RunMetricsInput struct {
	Job       string             `json:"job"`
	Status    string             `json:"status"`
	Counts    map[string]float64 `json:"counts,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Job names used for run metrics.
const (
	JobCollect = "collect"
	JobWeekly  = "weekly"
)

// CollectionCounts flattens a collection summary into metric counts.
func CollectionCounts(s domain.CollectionSummary) map[string]float64 {
	return map[string]float64{
		"RecordsAccepted":   float64(s.Accepted),
		"RecordsRejected":   float64(s.Rejected),
		"RecordsExcluded":   float64(s.Excluded),
		"DatasetsSucceeded": float64(s.Succeeded),
		"DatasetsSkipped":   float64(s.Skipped),
		"DatasetsFailed":    float64(s.Failed),
	}
}

// WeeklyCounts flattens a weekly result into metric counts.
func WeeklyCounts(r domain.AnalysisRunResult) map[string]float64 {
	ai := 0.0
	if r.AIAvailable {
		ai = 1
	}
	unsettled := 0.0
	if r.SettleError != "" {
		unsettled = 1
	}
	return map[string]float64{
		"Anomalies":    float64(r.AnomalyCount),
		"Baselines":    float64(r.BaselineCount),
		"Recipients":   float64(r.RecipientCount),
		"AIAvailable":  ai,
		"SettleFailed": unsettled,
	}
}
