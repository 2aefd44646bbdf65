package analysis

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// CurrencyTotals sums cost within r per currency.
func CurrencyTotals(points []domain.ServiceCost, r domain.DateRange) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, p := range points {
		if r.Contains(p.Day) {
			out[p.Currency] = out[p.Currency].Add(p.Cost)
		}
	}
	return out
}

// ReportCurrency is the currency carrying the most spend within r; ties go to
// the lexically smaller code. It is empty when r holds no cost.
func ReportCurrency(points []domain.ServiceCost, r domain.DateRange) string {
	best := ""
	var bestTotal decimal.Decimal
	for cur, total := range CurrencyTotals(points, r) {
		if best == "" || total.GreaterThan(bestTotal) || (total.Equal(bestTotal) && cur < best) {
			best, bestTotal = cur, total
		}
	}
	return best
}

// InCurrency keeps the points billed in currency.
func InCurrency(points []domain.ServiceCost, currency string) []domain.ServiceCost {
	out := make([]domain.ServiceCost, 0, len(points))
	for _, p := range points {
		if p.Currency == currency {
			out = append(out, p)
		}
	}
	return out
}

// PeriodTotal sums cost within r in its report currency. Amounts in other
// currencies are never added in.
func PeriodTotal(points []domain.ServiceCost, r domain.DateRange) (decimal.Decimal, string) {
	currency := ReportCurrency(points, r)
	if currency == "" {
		return decimal.Zero, ""
	}
	return CurrencyTotals(points, r)[currency], currency
}

type currencyKey struct {
	serviceKey
	currency string
}

// TopServices returns the n most expensive subscription/service pairs in r,
// one row per billing currency. The Day of each result is r.Start.
func TopServices(points []domain.ServiceCost, r domain.DateRange, n int) []domain.ServiceCost {
	totals := map[currencyKey]*domain.ServiceCost{}
	for _, p := range points {
		if !r.Contains(p.Day) {
			continue
		}
		k := currencyKey{serviceKey{p.SubscriptionID, p.ServiceName}, p.Currency}
		sc, ok := totals[k]
		if !ok {
			sc = &domain.ServiceCost{
				SubscriptionID: p.SubscriptionID, ServiceName: p.ServiceName,
				Day: r.Start, Cost: decimal.Zero, Currency: p.Currency,
			}
			totals[k] = sc
		}
		sc.Cost = sc.Cost.Add(p.Cost)
	}
	out := make([]domain.ServiceCost, 0, len(totals))
	for _, sc := range totals {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Cost.Cmp(out[j].Cost); c != 0 {
			return c > 0
		}
		if out[i].SubscriptionID != out[j].SubscriptionID {
			return out[i].SubscriptionID < out[j].SubscriptionID
		}
		return out[i].ServiceName < out[j].ServiceName
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TopRecommendations returns the n advisor records with the largest savings.
func TopRecommendations(records []domain.AdvisorRecord, n int) []domain.AdvisorRecord {
	out := append([]domain.AdvisorRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EstimatedSavings.GreaterThan(out[j].EstimatedSavings)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// BudgetState classifies how much of a budget has been consumed.
type BudgetState string

const (
	BudgetOK       BudgetState = "ok"
	BudgetAtRisk   BudgetState = "at_risk"
	BudgetExceeded BudgetState = "exceeded"
)

// Budget consumption thresholds in percent.
const (
	AtRiskPercent   = 80.0
	ExceededPercent = 100.0
)

// BudgetStatus returns the state of b.
func BudgetStatus(b domain.BudgetRecord) BudgetState {
	pct := b.ConsumedPercent()
	switch {
	case pct > ExceededPercent:
		return BudgetExceeded
	case pct > AtRiskPercent:
		return BudgetAtRisk
	}
	return BudgetOK
}
