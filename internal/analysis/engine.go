// Package analysis computes the weekly derived data: per-service baselines and
// anomaly flags, the month-end forecast, and the chargeback summary.
package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Defaults for Engine.
const (
	DefaultWeeks      = 8
	DefaultThreshold  = 2.0
	DefaultMinSamples = 3
)

// Engine computes baselines from trailing periods and flags deviations.
type Engine struct {
	weeks      int
	threshold  float64
	minSamples int
}

// NewEngine creates an Engine. Non-positive arguments take the defaults.
func NewEngine(weeks int, threshold float64, minSamples int) *Engine {
	if weeks <= 0 {
		weeks = DefaultWeeks
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Engine{weeks: weeks, threshold: threshold, minSamples: minSamples}
}

// Stats is the mean and population standard deviation of a sample.
type Stats struct {
	Mean   float64
	StdDev float64
	Count  int
}

// Describe computes Stats over values.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return Stats{Mean: mean, StdDev: math.Sqrt(sq / float64(len(values))), Count: len(values)}
}

// Score returns the deviation of observed from s in standard deviations.
// ok is false when the baseline has too few samples or no spread.
func (e *Engine) Score(s Stats, observed float64) (score float64, ok bool) {
	if s.Count < e.minSamples || s.StdDev == 0 {
		return 0, false
	}
	return (observed - s.Mean) / s.StdDev, true
}

// Flags reports whether score exceeds the threshold in either direction.
func (e *Engine) Flags(score float64) bool {
	return math.Abs(score) > e.threshold
}

// HistoryWindow is the range the engine needs to read for period: the period
// itself plus the trailing baseline periods before it.
func (e *Engine) HistoryWindow(period domain.DateRange) domain.DateRange {
	return domain.DateRange{Start: e.buckets(period)[e.weeks-1].Start, End: period.End}
}

// buckets returns the baseline periods before period, newest first. Each has
// the same length as period.
func (e *Engine) buckets(period domain.DateRange) []domain.DateRange {
	days := periodDays(period)
	out := make([]domain.DateRange, e.weeks)
	end := period.Start
	for i := range out {
		start := end.AddDate(0, 0, -days)
		out[i] = domain.DateRange{Start: start, End: end}
		end = start
	}
	return out
}

func periodDays(r domain.DateRange) int {
	d := int(r.End.Sub(r.Start).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}

// Result is the engine output for one weekly run.
type Result struct {
	Baselines []domain.BaselineRecord
	Anomalies []domain.AnomalyFlag
}

type serviceKey struct {
	sub, service string
}

// Analyze recomputes every baseline from scratch and flags the period's
// observations. points are daily service totals covering HistoryWindow;
// anything outside it is ignored. Only baseline periods with data count as
// samples, so a service with short history yields no flag.
func (e *Engine) Analyze(points []domain.ServiceCost, period domain.DateRange, runID string, now time.Time) Result {
	buckets := e.buckets(period)
	// history holds per-bucket totals; present marks buckets that had rows,
	// since a bucket with no rows is missing data rather than zero spend.
	history := map[serviceKey][]float64{}
	present := map[serviceKey][]bool{}
	observed := map[serviceKey]float64{}
	current := map[serviceKey]bool{}
	seen := map[serviceKey]bool{}

	for _, p := range points {
		k := serviceKey{p.SubscriptionID, p.ServiceName}
		cost, _ := p.Cost.Float64()
		if period.Contains(p.Day) {
			observed[k] += cost
			current[k] = true
			seen[k] = true
			continue
		}
		for i, b := range buckets {
			if !b.Contains(p.Day) {
				continue
			}
			if history[k] == nil {
				history[k] = make([]float64, len(buckets))
				present[k] = make([]bool, len(buckets))
			}
			history[k][i] += cost
			present[k][i] = true
			seen[k] = true
			break
		}
	}

	keys := make([]serviceKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].sub != keys[j].sub {
			return keys[i].sub < keys[j].sub
		}
		return keys[i].service < keys[j].service
	})

	window := domain.DateRange{Start: buckets[len(buckets)-1].Start, End: period.Start}
	var res Result
	for _, k := range keys {
		var samples []float64
		for i, ok := range present[k] {
			if ok {
				samples = append(samples, history[k][i])
			}
		}
		st := Describe(samples)
		baseline := domain.BaselineRecord{
			SubscriptionID: k.sub,
			ServiceName:    k.service,
			WindowStart:    window.Start,
			WindowEnd:      window.End,
			MeanCost:       st.Mean,
			StdDevCost:     st.StdDev,
			SampleCount:    st.Count,
			RunID:          runID,
			ComputedAt:     now,
		}
		if st.Count > 0 {
			res.Baselines = append(res.Baselines, baseline)
		}

		// A service with no rows this period is missing data, not a drop to zero.
		if !current[k] {
			continue
		}
		score, ok := e.Score(st, observed[k])
		if !ok || !e.Flags(score) {
			continue
		}
		flag := domain.AnomalyFlag{
			SubscriptionID: k.sub,
			ServiceName:    k.service,
			PeriodStart:    period.Start,
			PeriodEnd:      period.End,
			ObservedCost:   observed[k],
			BaselineMean:   st.Mean,
			BaselineStdDev: st.StdDev,
			DeviationScore: score,
			Severity:       domain.SeverityForScore(math.Abs(score)),
			RunID:          runID,
		}
		res.Anomalies = append(res.Anomalies, flag)
	}

	sort.SliceStable(res.Anomalies, func(i, j int) bool {
		a, b := res.Anomalies[i], res.Anomalies[j]
		if ra, rb := domain.SeverityRank[a.Severity], domain.SeverityRank[b.Severity]; ra != rb {
			return ra > rb
		}
		return math.Abs(a.DeviationScore) > math.Abs(b.DeviationScore)
	})
	return res
}
