package analysis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

func TestForecastMonth(t *testing.T) {
	t.Parallel()
	var pts []domain.ServiceCost
	// July 1..27 at 10/day, the last 7 days at 20/day.
	for d := 1; d <= 27; d++ {
		c := 10.0
		if d >= 21 {
			c = 20
		}
		pts = append(pts, point("sub-A", "Compute", time.Date(2025, 7, d, 0, 0, 0, 0, time.UTC), c))
	}
	pts = append(pts, point("sub-A", "Compute", time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), 999))

	f := ForecastMonth(pts, time.Date(2025, 7, 28, 0, 0, 0, 0, time.UTC))
	require.NotNil(t, f)

	assert.Equal(t, "340", f.MonthToDate.String())
	assert.Equal(t, "20", f.DailyRunRate.String())
	assert.Equal(t, 4, f.RemainingDays)
	assert.Equal(t, "420", f.ProjectedTotal.String())
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), f.MonthStart)
	assert.Equal(t, time.Date(2025, 7, 27, 0, 0, 0, 0, time.UTC), f.LastObservedDate)
	assert.Equal(t, "USD", f.Currency)
}

func TestForecastMonth_MonthBoundary(t *testing.T) {
	t.Parallel()
	pts := []domain.ServiceCost{point("sub-A", "Compute", time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC), 70)}

	f := ForecastMonth(pts, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NotNil(t, f)

	assert.Equal(t, 0, f.RemainingDays)
	assert.True(t, f.ProjectedTotal.Equal(f.MonthToDate))
}

func TestForecastMonth_NoData(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ForecastMonth(nil, now))
}

func cost(name string, amount int64, tags map[string]string, excluded bool) domain.CostRecord {
	return domain.CostRecord{
		SubscriptionID: "sub-A", ResourceName: name, Cost: decimal.NewFromInt(amount),
		Currency: "USD", Tags: tags, IsExcludedResource: excluded,
	}
}

func TestChargeback(t *testing.T) {
	t.Parallel()
	records := []domain.CostRecord{
		cost("vm-1", 60, map[string]string{"CostCenter": "platform", "Owner": "infra"}, false),
		cost("vm-2", 20, map[string]string{"Owner": "orders"}, false),
		cost("db-1", 20, map[string]string{"Owner": "orders"}, false),
		cost("bucket", 100, nil, false),
		cost("bucket", 0, map[string]string{"Owner": ""}, false),
		cost("vm-AVD-01", 500, nil, true),
	}

	s := Chargeback(records, []string{"CostCenter", "Owner"})

	require.Len(t, s.ByOwner, 2)
	assert.Equal(t, "CostCenter=platform", s.ByOwner[0].Owner)
	assert.Equal(t, "60", s.ByOwner[0].Cost.String())
	assert.Equal(t, "Owner=orders", s.ByOwner[1].Owner)
	assert.Equal(t, "40", s.ByOwner[1].Cost.String())
	assert.Equal(t, "100", s.TaggedCost.String())
	assert.Equal(t, "100", s.UntaggedCost.String())
	assert.Equal(t, []string{"bucket"}, s.UntaggedResources)
	assert.InDelta(t, 50.0, s.CompliancePercent, 1e-9)
}

func TestChargeback_NoCost(t *testing.T) {
	t.Parallel()
	s := Chargeback(nil, []string{"Owner"})
	assert.Equal(t, 100.0, s.CompliancePercent)
	assert.Empty(t, s.ByOwner)
}

func TestTopServicesAndTotal(t *testing.T) {
	t.Parallel()
	pts := []domain.ServiceCost{
		point("sub-A", "Compute", periodStart, 50),
		point("sub-A", "Compute", periodStart.AddDate(0, 0, 1), 50),
		point("sub-A", "Storage", periodStart, 30),
		point("sub-B", "Compute", periodStart, 40),
		point("sub-A", "Compute", periodStart.AddDate(0, 0, -1), 1000),
	}

	top := TopServices(pts, period, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "Compute", top[0].ServiceName)
	assert.Equal(t, "100", top[0].Cost.String())
	assert.Equal(t, "sub-B", top[1].SubscriptionID)

	total, cur := PeriodTotal(pts, period)
	assert.Equal(t, "170", total.String())
	assert.Equal(t, "USD", cur)
}

func TestTopRecommendations(t *testing.T) {
	t.Parallel()
	recs := []domain.AdvisorRecord{
		{ResourceName: "a", EstimatedSavings: decimal.NewFromInt(10)},
		{ResourceName: "b", EstimatedSavings: decimal.NewFromInt(30)},
		{ResourceName: "c", EstimatedSavings: decimal.NewFromInt(20)},
	}

	top := TopRecommendations(recs, 2)

	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].ResourceName)
	assert.Equal(t, "c", top[1].ResourceName)
	assert.Equal(t, "a", recs[0].ResourceName, "input is not reordered")
}

func TestBudgetStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spend int64
		want  BudgetState
	}{
		{500, BudgetOK},
		{800, BudgetOK},
		{801, BudgetAtRisk},
		{1000, BudgetAtRisk},
		{1001, BudgetExceeded},
	}
	for _, tt := range tests {
		b := domain.BudgetRecord{Amount: decimal.NewFromInt(1000), CurrentSpend: decimal.NewFromInt(tt.spend)}
		assert.Equal(t, tt.want, BudgetStatus(b), "spend %d", tt.spend)
	}
}

func inCurrency(p domain.ServiceCost, currency string) domain.ServiceCost {
	p.Currency = currency
	return p
}

func TestPeriodTotal_MixedCurrencies(t *testing.T) {
	t.Parallel()
	pts := []domain.ServiceCost{
		point("sub-A", "Compute", periodStart, 100),
		point("sub-A", "Storage", periodStart, 20),
		inCurrency(point("sub-EU", "Compute", periodStart, 90), "EUR"),
	}

	total, cur := PeriodTotal(pts, period)
	assert.Equal(t, "USD", cur)
	assert.Equal(t, "120", total.String(), "EUR amounts are not added to USD")

	totals := CurrencyTotals(pts, period)
	assert.Len(t, totals, 2)
	assert.Equal(t, "90", totals["EUR"].String())
	assert.Len(t, InCurrency(pts, "EUR"), 1)
}

func TestReportCurrency(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pts  []domain.ServiceCost
		want string
	}{
		{"empty", nil, ""},
		{"largest spend wins", []domain.ServiceCost{
			point("sub-A", "Compute", periodStart, 10),
			inCurrency(point("sub-EU", "Compute", periodStart, 50), "EUR"),
		}, "EUR"},
		{"tie goes to lower code", []domain.ServiceCost{
			point("sub-A", "Compute", periodStart, 10),
			inCurrency(point("sub-EU", "Compute", periodStart, 10), "EUR"),
		}, "EUR"},
		{"outside period ignored", []domain.ServiceCost{
			point("sub-A", "Compute", periodStart, 10),
			inCurrency(point("sub-EU", "Compute", periodStart.AddDate(0, 0, -1), 500), "EUR"),
		}, "USD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ReportCurrency(tt.pts, period))
		})
	}
}

func TestTopServices_SplitsCurrencies(t *testing.T) {
	t.Parallel()
	pts := []domain.ServiceCost{
		point("sub-A", "Compute", periodStart, 30),
		inCurrency(point("sub-A", "Compute", periodStart, 40), "EUR"),
	}

	top := TopServices(pts, period, 5)
	require.Len(t, top, 2)
	assert.Equal(t, "EUR", top[0].Currency)
	assert.Equal(t, "40", top[0].Cost.String())
	assert.Equal(t, "USD", top[1].Currency)
}

func TestForecastMonth_IgnoresOtherCurrencies(t *testing.T) {
	t.Parallel()
	asOf := time.Date(2025, 7, 28, 0, 0, 0, 0, time.UTC)
	pts := []domain.ServiceCost{
		point("sub-A", "Compute", time.Date(2025, 7, 25, 0, 0, 0, 0, time.UTC), 70),
		inCurrency(point("sub-EU", "Compute", time.Date(2025, 7, 26, 0, 0, 0, 0, time.UTC), 7), "EUR"),
	}

	f := ForecastMonth(pts, asOf)
	require.NotNil(t, f)
	assert.Equal(t, "USD", f.Currency)
	assert.Equal(t, "70", f.MonthToDate.String())
	assert.Equal(t, "10", f.DailyRunRate.String())
}
