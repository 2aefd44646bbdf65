package domain

import "fmt"

// Dataset names one of the per-subscription billing datasets pulled by the daily collection.
type Dataset string

const (
	DatasetCost        Dataset = "cost"
	DatasetReservation Dataset = "reservation"
	DatasetBudget      Dataset = "budget"
	DatasetAdvisor     Dataset = "advisor"
)

// AllDatasets lists datasets in collection order.
var AllDatasets = []Dataset{DatasetCost, DatasetReservation, DatasetBudget, DatasetAdvisor}

func (d Dataset) Valid() bool {
	switch d {
	case DatasetCost, DatasetReservation, DatasetBudget, DatasetAdvisor:
		return true
	}
	return false
}

// Severity classifies how far an observation sits from its baseline.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SeverityRank maps Severity to explicit ordering scores.
// Never rely on string ordering; use this map.
var SeverityRank = map[Severity]int{
	SeverityLow:      10,
	SeverityMedium:   20,
	SeverityHigh:     30,
	SeverityCritical: 40,
}

// SeverityForScore maps an absolute deviation score (in standard deviations) to a severity.
func SeverityForScore(absScore float64) Severity {
	switch {
	case absScore >= 4.0:
		return SeverityCritical
	case absScore >= 3.0:
		return SeverityHigh
	case absScore >= 2.0:
		return SeverityMedium
	}
	return SeverityLow
}

// DatasetStatus is the outcome of collecting one dataset for one subscription.
type DatasetStatus string

const (
	DatasetSucceeded DatasetStatus = "succeeded"
	DatasetSkipped   DatasetStatus = "skipped"
	DatasetFailed    DatasetStatus = "failed"
)

// RunStatus is the overall outcome of a collection run.
type RunStatus string

const (
	RunCompleted          RunStatus = "completed"
	RunCompletedWithSkips RunStatus = "completed_with_skips"
	RunPartialFailure     RunStatus = "partial_failure"
	RunFailed             RunStatus = "failed"
)

func (r RunStatus) Valid() bool {
	switch r {
	case RunCompleted, RunCompletedWithSkips, RunPartialFailure, RunFailed:
		return true
	}
	return false
}

// AnalysisStatus is the overall outcome of a weekly analysis run.
type AnalysisStatus string

const (
	AnalysisSent        AnalysisStatus = "sent"
	AnalysisAlreadySent AnalysisStatus = "already_sent"
	AnalysisFailed      AnalysisStatus = "failed"
)

// MatchStrategy selects how the exclusion token is matched against resource names.
type MatchStrategy string

const (
	MatchSubstring MatchStrategy = "substring"
	MatchSegment   MatchStrategy = "segment"
)

// ParseMatchStrategy returns the strategy for s, defaulting to substring on empty input.
func ParseMatchStrategy(s string) (MatchStrategy, error) {
	switch MatchStrategy(s) {
	case "", MatchSubstring:
		return MatchSubstring, nil
	case MatchSegment:
		return MatchSegment, nil
	}
	return "", fmt.Errorf("unknown match strategy: %q", s)
}

// NarrativeSection names one labeled block of the AI narrative.
type NarrativeSection string

const (
	SectionSummary         NarrativeSection = "summary"
	SectionAnomalies       NarrativeSection = "anomalies"
	SectionRecommendations NarrativeSection = "recommendations"
	SectionForecast        NarrativeSection = "forecast"
)

// NarrativeSections lists sections in report order.
var NarrativeSections = []NarrativeSection{
	SectionSummary, SectionAnomalies, SectionRecommendations, SectionForecast,
}
