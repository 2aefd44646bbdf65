package analysis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

var (
	periodStart = time.Date(2025, 7, 21, 0, 0, 0, 0, time.UTC)
	period      = domain.DateRange{Start: periodStart, End: periodStart.AddDate(0, 0, 7)}
	now         = time.Date(2025, 7, 28, 6, 0, 0, 0, time.UTC)
)

func point(sub, service string, day time.Time, cost float64) domain.ServiceCost {
	return domain.ServiceCost{
		SubscriptionID: sub, ServiceName: service, Day: day,
		Cost: decimal.NewFromFloat(cost), Currency: "USD",
	}
}

// weekly builds one point per trailing week (newest first) plus the observation.
func weekly(sub, service string, history []float64, observed float64) []domain.ServiceCost {
	var pts []domain.ServiceCost
	for i, c := range history {
		pts = append(pts, point(sub, service, periodStart.AddDate(0, 0, -7*(i+1)), c))
	}
	return append(pts, point(sub, service, periodStart.AddDate(0, 0, 2), observed))
}

func TestDescribe_PopulationStdDev(t *testing.T) {
	t.Parallel()
	s := Describe([]float64{90, 110, 90, 110})
	assert.InDelta(t, 100, s.Mean, 1e-9)
	assert.InDelta(t, 10, s.StdDev, 1e-9)
	assert.Equal(t, 4, s.Count)

	assert.Equal(t, Stats{}, Describe(nil))
}

func TestAnalyze_FlagsBeyondThreshold(t *testing.T) {
	t.Parallel()
	e := NewEngine(4, 2.0, 3)
	history := []float64{90, 110, 90, 110}

	tests := []struct {
		name     string
		observed float64
		flagged  bool
		score    float64
	}{
		{"2.5 sigma flags", 125, true, 2.5},
		{"0.5 sigma does not", 105, false, 0},
		{"drop flags too", 70, true, -3.0},
		{"exactly at threshold does not", 120, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := e.Analyze(weekly("sub-A", "Compute", history, tt.observed), period, "run-1", now)

			require.Len(t, res.Baselines, 1)
			b := res.Baselines[0]
			assert.InDelta(t, 100, b.MeanCost, 1e-9)
			assert.InDelta(t, 10, b.StdDevCost, 1e-9)
			assert.Equal(t, 4, b.SampleCount)

			if !tt.flagged {
				assert.Empty(t, res.Anomalies)
				return
			}
			require.Len(t, res.Anomalies, 1)
			a := res.Anomalies[0]
			assert.InDelta(t, tt.score, a.DeviationScore, 1e-9)
			assert.Equal(t, tt.observed, a.ObservedCost)
			assert.Equal(t, "run-1", a.RunID)
			assert.NoError(t, domain.ValidateAnomalyFlag(a, 3, b))
		})
	}
}

func TestAnalyze_InsufficientHistoryNeverFlags(t *testing.T) {
	t.Parallel()
	e := NewEngine(8, 2.0, 3)

	res := e.Analyze(weekly("sub-A", "Compute", []float64{10, 11}, 1000), period, "run-1", now)

	require.Len(t, res.Baselines, 1)
	assert.Equal(t, 2, res.Baselines[0].SampleCount)
	assert.Empty(t, res.Anomalies)
}

func TestAnalyze_EmptyBucketsAreNotSamples(t *testing.T) {
	t.Parallel()
	e := NewEngine(8, 2.0, 3)
	pts := []domain.ServiceCost{
		point("sub-A", "Compute", periodStart.AddDate(0, 0, -7), 100),
		point("sub-A", "Compute", periodStart.AddDate(0, 0, -21), 100),
		point("sub-A", "Compute", periodStart.AddDate(0, 0, -35), 100),
	}

	res := e.Analyze(pts, period, "run-1", now)

	require.Len(t, res.Baselines, 1)
	assert.Equal(t, 3, res.Baselines[0].SampleCount)
	assert.InDelta(t, 100, res.Baselines[0].MeanCost, 1e-9)
}

func TestAnalyze_MissingCurrentPeriodIsNotADrop(t *testing.T) {
	t.Parallel()
	e := NewEngine(4, 2.0, 3)
	pts := weekly("sub-A", "Compute", []float64{90, 110, 90, 110}, 0)
	pts = pts[:len(pts)-1]

	res := e.Analyze(pts, period, "run-1", now)

	assert.Len(t, res.Baselines, 1)
	assert.Empty(t, res.Anomalies)
}

func TestAnalyze_ZeroSpreadNeverFlags(t *testing.T) {
	t.Parallel()
	e := NewEngine(4, 2.0, 3)

	res := e.Analyze(weekly("sub-A", "Compute", []float64{50, 50, 50, 50}, 500), period, "run-1", now)

	assert.Empty(t, res.Anomalies)
}

func TestAnalyze_DailyPointsAggregateIntoPeriods(t *testing.T) {
	t.Parallel()
	e := NewEngine(3, 2.0, 3)
	var pts []domain.ServiceCost
	for w, total := range []float64{70, 70, 84} {
		start := periodStart.AddDate(0, 0, -7*(w+1))
		for d := 0; d < 7; d++ {
			pts = append(pts, point("sub-A", "Compute", start.AddDate(0, 0, d), total/7))
		}
	}

	res := e.Analyze(pts, period, "run-1", now)

	require.Len(t, res.Baselines, 1)
	assert.InDelta(t, 224.0/3, res.Baselines[0].MeanCost, 1e-6)
	assert.Equal(t, period.Start, res.Baselines[0].WindowEnd)
	assert.Equal(t, period.Start.AddDate(0, 0, -21), res.Baselines[0].WindowStart)
}

func TestAnalyze_SortsBySeverity(t *testing.T) {
	t.Parallel()
	e := NewEngine(4, 2.0, 3)
	history := []float64{90, 110, 90, 110}
	pts := append(weekly("sub-A", "Storage", history, 125), weekly("sub-A", "Compute", history, 150)...)

	res := e.Analyze(pts, period, "run-1", now)

	require.Len(t, res.Anomalies, 2)
	assert.Equal(t, "Compute", res.Anomalies[0].ServiceName)
	assert.Equal(t, domain.SeverityCritical, res.Anomalies[0].Severity)
	assert.Equal(t, domain.SeverityMedium, res.Anomalies[1].Severity)
}

func TestHistoryWindow(t *testing.T) {
	t.Parallel()
	e := NewEngine(8, 0, 0)

	w := e.HistoryWindow(period)

	assert.Equal(t, periodStart.AddDate(0, 0, -56), w.Start)
	assert.Equal(t, period.End, w.End)
}

func TestScore(t *testing.T) {
	t.Parallel()
	e := NewEngine(0, 0, 0)

	score, ok := e.Score(Stats{Mean: 100, StdDev: 10, Count: 8}, 125)
	require.True(t, ok)
	assert.InDelta(t, 2.5, score, 1e-9)
	assert.True(t, e.Flags(score))

	score, ok = e.Score(Stats{Mean: 100, StdDev: 10, Count: 8}, 105)
	require.True(t, ok)
	assert.False(t, e.Flags(score))

	_, ok = e.Score(Stats{Mean: 100, StdDev: 10, Count: 2}, 500)
	assert.False(t, ok)
}
