package narrative

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/ratelimit"
	"github.com/finops-claw-gang/costpipe/internal/retry"
	"github.com/finops-claw-gang/costpipe/internal/testutil"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newBuilder(m Model, budget *ratelimit.CallBudget) *Builder {
	return NewBuilder(m, Options{
		Budget: budget,
		Retry:  retry.New(retry.Policy{BaseDelay: time.Second, MaxDelay: time.Second, MaxAttempts: 3}, retry.WithSleeper(noSleep)),
	})
}

func sampleInput() Input {
	start := time.Date(2025, 7, 21, 0, 0, 0, 0, time.UTC)
	return Input{
		WeekKey:           "2025-W30",
		Period:            domain.DateRange{Start: start, End: start.AddDate(0, 0, 7)},
		TotalCost:         decimal.NewFromInt(1100),
		PreviousTotalCost: decimal.NewFromInt(1000),
		Currency:          "USD",
		TopServices: []domain.ServiceCost{
			{SubscriptionID: "sub-A", ServiceName: "Compute", Cost: decimal.NewFromInt(700), Currency: "USD"},
		},
		Anomalies: []domain.AnomalyFlag{{
			SubscriptionID: "sub-A", ServiceName: "Compute", ObservedCost: 125,
			BaselineMean: 100, BaselineStdDev: 10, DeviationScore: 2.5, Severity: domain.SeverityMedium,
		}},
		Forecast: &domain.Forecast{
			MonthToDate: decimal.NewFromInt(340), DailyRunRate: decimal.NewFromInt(20),
			ProjectedTotal: decimal.NewFromInt(420), RemainingDays: 4, Currency: "USD",
		},
		Recommendations: []domain.AdvisorRecord{{
			ResourceName: "vm-prod-01", Category: "Rightsize", Recommendation: "Move to a smaller size",
			EstimatedSavings: decimal.NewFromInt(45), Currency: "USD",
		}},
	}
}

func TestParse_CannedNarrative(t *testing.T) {
	t.Parallel()
	sections, err := Parse(testutil.CannedNarrative)
	require.NoError(t, err)

	assert.Len(t, sections, 4)
	assert.Equal(t, "Spend was steady week over week.", sections[domain.SectionSummary])
	assert.Equal(t, "Rightsize the largest compute instances.", sections[domain.SectionRecommendations])
}

func TestParse_Variants(t *testing.T) {
	t.Parallel()
	text := "Sure, here is the report.\n```markdown\n## **Summary:**\nUp 10%.\nSecond line.\n### Notes\nignored\n### anomalies\nCompute spiked.\n### SUMMARY\nduplicate\n```"

	sections, err := Parse(text)
	require.NoError(t, err)

	assert.Equal(t, "Up 10%.\nSecond line.", sections[domain.SectionSummary])
	assert.Equal(t, "Compute spiked.", sections[domain.SectionAnomalies])
	assert.NotContains(t, sections, domain.SectionForecast)
}

func TestParse_NoSections(t *testing.T) {
	t.Parallel()
	_, err := Parse("Costs went up. Consider rightsizing.")
	assert.ErrorIs(t, err, ErrNoSections)

	_, err = Parse("### SUMMARY\n\n### FORECAST\n")
	assert.ErrorIs(t, err, ErrNoSections, "empty bodies do not count")
}

func TestFlatPrompt_DelimiterContractAndData(t *testing.T) {
	t.Parallel()
	system, user := flatPrompt(sampleInput(), 10)

	for _, s := range domain.NarrativeSections {
		assert.Contains(t, system, heading(s))
	}
	assert.Contains(t, user, "Total spend: 1100.00 USD")
	assert.Contains(t, user, "+10.0%")
	assert.Contains(t, user, "+2.5σ")
	assert.Contains(t, user, "projected month-end 420.00 USD")
	assert.NotContains(t, user, "Chargeback", "disabled parts are omitted")
}

func TestDataBlock_TruncatesLists(t *testing.T) {
	t.Parallel()
	in := sampleInput()
	in.TopServices = nil
	for i := 0; i < 15; i++ {
		in.TopServices = append(in.TopServices, domain.ServiceCost{ServiceName: "svc", Cost: decimal.NewFromInt(1)})
	}

	block := dataBlock(in, 10)

	assert.Equal(t, 10, strings.Count(block, "| svc |"))
	assert.Contains(t, block, "... 5 more")
}

func TestBuild_FlatUsesModelSections(t *testing.T) {
	t.Parallel()
	m := testutil.NewScriptedModel(testutil.CannedNarrative)

	n := newBuilder(m, nil).Build(context.Background(), sampleInput())

	assert.True(t, n.AIAvailable)
	assert.Equal(t, "scripted", n.Model)
	assert.Empty(t, n.Error)
	assert.Equal(t, "Spend was steady week over week.", n.Section(domain.SectionSummary))
	assert.Len(t, m.Prompts(), 1)
}

func TestBuild_MissingSectionsFilledFromTemplate(t *testing.T) {
	t.Parallel()
	m := testutil.NewScriptedModel("### SUMMARY\nAll good.")

	n := newBuilder(m, nil).Build(context.Background(), sampleInput())

	assert.True(t, n.AIAvailable)
	assert.Equal(t, "All good.", n.Section(domain.SectionSummary))
	assert.Contains(t, n.Section(domain.SectionForecast), "420.00 USD")
	assert.Contains(t, n.Section(domain.SectionRecommendations), "vm-prod-01")
}

func TestBuild_ModelFailureFallsBack(t *testing.T) {
	t.Parallel()
	m := testutil.NewScriptedModel().FailWith(domain.NewSourceError("openai: complete", 400, "invalid_request_error", errors.New("bad")))

	n := newBuilder(m, nil).Build(context.Background(), sampleInput())

	assert.False(t, n.AIAvailable)
	assert.Contains(t, n.Error, "invalid_request_error")
	assert.Contains(t, n.Section(domain.SectionSummary), UnavailableNotice)
	assert.Contains(t, n.Section(domain.SectionSummary), "1100.00 USD")
	assert.Contains(t, n.Section(domain.SectionAnomalies), "sub-A/Compute")
	assert.Len(t, m.Prompts(), 1, "fatal errors are not retried")
}

func TestBuild_MalformedResponseFallsBack(t *testing.T) {
	t.Parallel()
	m := testutil.NewScriptedModel("I cannot help with that.")

	n := newBuilder(m, nil).Build(context.Background(), sampleInput())

	assert.False(t, n.AIAvailable)
	assert.Contains(t, n.Error, ErrNoSections.Error())
}

type flakyModel struct {
	failures int
	calls    int
}

func (f *flakyModel) Model() string { return "flaky" }

func (f *flakyModel) Complete(context.Context, string, string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", domain.NewSourceError("openai: complete", 429, "rate_limit_exceeded", nil)
	}
	return testutil.CannedNarrative, nil
}

func TestBuild_RateLimitIsRetried(t *testing.T) {
	t.Parallel()
	m := &flakyModel{failures: 2}

	n := newBuilder(m, nil).Build(context.Background(), sampleInput())

	assert.True(t, n.AIAvailable)
	assert.Equal(t, 3, m.calls)
}

func TestBuild_RateLimitExhaustedFallsBack(t *testing.T) {
	t.Parallel()
	m := &flakyModel{failures: 10}

	n := newBuilder(m, nil).Build(context.Background(), sampleInput())

	assert.False(t, n.AIAvailable)
	assert.Equal(t, 3, m.calls)
}

func TestBuild_AdvancedIsStaged(t *testing.T) {
	t.Parallel()
	m := testutil.NewScriptedModel(
		"### SUMMARY\nSpend rose 10%.\n### ANOMALIES\nCompute at 2.5σ.\n### FORECAST\nOn track for 420.",
		"### RECOMMENDATIONS\nRightsize vm-prod-01.",
	)
	in := sampleInput()
	in.Advanced = true

	n := newBuilder(m, nil).Build(context.Background(), in)

	require.True(t, n.AIAvailable)
	prompts := m.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "step 1 of 2")
	assert.NotContains(t, prompts[0], heading(domain.SectionRecommendations))
	assert.Contains(t, prompts[1], "step 2 of 2")
	assert.Contains(t, prompts[1], "Compute at 2.5σ.", "findings feed the second step")
	assert.Equal(t, "Rightsize vm-prod-01.", n.Section(domain.SectionRecommendations))
	assert.Equal(t, "Spend rose 10%.", n.Section(domain.SectionSummary))
}

func TestBuild_AdvancedSecondStepFailureKeepsFindings(t *testing.T) {
	t.Parallel()
	m := testutil.NewScriptedModel(
		"### SUMMARY\nSpend rose 10%.",
		"no headings here",
	)
	in := sampleInput()
	in.Advanced = true

	n := newBuilder(m, nil).Build(context.Background(), in)

	assert.True(t, n.AIAvailable)
	assert.Equal(t, "Spend rose 10%.", n.Section(domain.SectionSummary))
	assert.Contains(t, n.Section(domain.SectionRecommendations), "vm-prod-01")
}

func TestBuild_CallBudgetExhaustedFallsBack(t *testing.T) {
	t.Parallel()
	budget := ratelimit.NewCallBudget(1, 7*24*time.Hour)
	m := testutil.NewScriptedModel(testutil.CannedNarrative)
	b := newBuilder(m, budget)

	first := b.Build(context.Background(), sampleInput())
	second := b.Build(context.Background(), sampleInput())

	assert.True(t, first.AIAvailable)
	assert.False(t, second.AIAvailable)
	assert.Contains(t, second.Error, "budget exceeded")
	assert.Len(t, m.Prompts(), 1)
}

func TestBuild_CallBudgetCountsRetries(t *testing.T) {
	t.Parallel()
	budget := ratelimit.NewCallBudget(1, 7*24*time.Hour)
	m := &flakyModel{failures: 2}

	n := newBuilder(m, budget).Build(context.Background(), sampleInput())

	assert.False(t, n.AIAvailable)
	assert.Contains(t, n.Error, "budget exceeded")
	assert.Equal(t, 1, m.calls, "a retry may not exceed the weekly call cap")
}

func TestBuild_CallBudgetAllowsRetriesWithinCap(t *testing.T) {
	t.Parallel()
	budget := ratelimit.NewCallBudget(3, 7*24*time.Hour)
	m := &flakyModel{failures: 2}

	n := newBuilder(m, budget).Build(context.Background(), sampleInput())

	assert.True(t, n.AIAvailable)
	assert.Equal(t, 3, m.calls)
}

func TestBuild_NilModelUsesTemplate(t *testing.T) {
	t.Parallel()
	in := sampleInput()
	in.Forecast = nil
	in.Anomalies = nil
	in.Recommendations = nil

	n := NewBuilder(nil, Options{}).Build(context.Background(), in)

	assert.False(t, n.AIAvailable)
	for _, s := range domain.NarrativeSections {
		assert.NotEmpty(t, n.Section(s), s)
	}
	assert.Contains(t, n.Section(domain.SectionForecast), "No forecast")
}
