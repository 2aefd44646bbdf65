package analysis

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// TrailingDays is the run-rate window of the forecast.
const TrailingDays = 7

// ForecastMonth projects month-end spend as of asOf (exclusive): month-to-date
// actuals plus the trailing daily average times the days left in the month.
// It returns nil when there is no spend in the month yet. Only the month's
// report currency is projected.
func ForecastMonth(points []domain.ServiceCost, asOf time.Time) *domain.Forecast {
	asOf = domain.Day(asOf)
	lastDay := asOf.AddDate(0, 0, -1)
	monthStart := time.Date(lastDay.Year(), lastDay.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	mtdRange := domain.DateRange{Start: monthStart, End: asOf}
	trailing := domain.DateRange{Start: asOf.AddDate(0, 0, -TrailingDays), End: asOf}

	currency := ReportCurrency(points, mtdRange)
	mtd, run := decimal.Zero, decimal.Zero
	var (
		last time.Time
		seen bool
	)
	for _, p := range points {
		if p.Currency != currency {
			continue
		}
		if mtdRange.Contains(p.Day) {
			mtd = mtd.Add(p.Cost)
			seen = true
			if p.Day.After(last) {
				last = p.Day
			}
		}
		if trailing.Contains(p.Day) {
			run = run.Add(p.Cost)
		}
	}
	if !seen {
		return nil
	}

	rate := run.Div(decimal.NewFromInt(TrailingDays)).Round(2)
	remaining := int(monthEnd.Sub(asOf).Hours() / 24)
	return &domain.Forecast{
		MonthStart:       monthStart,
		MonthToDate:      mtd,
		DailyRunRate:     rate,
		ProjectedTotal:   mtd.Add(rate.Mul(decimal.NewFromInt(int64(remaining)))),
		RemainingDays:    remaining,
		Currency:         currency,
		LastObservedDate: last,
	}
}
