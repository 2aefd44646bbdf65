package narrative

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Input is the aggregated data the narrative is written from. Optional parts
// are left empty when their feature flag is off.
type Input struct {
	WeekKey           string
	Period            domain.DateRange
	TotalCost         decimal.Decimal
	PreviousTotalCost decimal.Decimal
	Currency          string
	TopServices       []domain.ServiceCost
	Anomalies         []domain.AnomalyFlag
	Budgets           []domain.BudgetRecord
	Forecast          *domain.Forecast
	Chargeback        *domain.ChargebackSummary
	Recommendations   []domain.AdvisorRecord

	// Advanced stages the request as findings first, then recommendations.
	Advanced bool
}

// heading returns the delimiter line the model must emit for s.
func heading(s domain.NarrativeSection) string {
	return "### " + strings.ToUpper(string(s))
}

const systemPreamble = `You are a cloud cost analyst writing the weekly cost report for an engineering organization.
Write plain prose for busy readers. Use only the figures provided; never invent numbers, services or resources.
Do not use markdown tables or HTML.`

func delimiterContract(sections []domain.NarrativeSection) string {
	var b strings.Builder
	b.WriteString("Respond with exactly these sections, in this order, each starting with its heading on a line by itself:\n")
	for _, s := range sections {
		b.WriteString(heading(s))
		b.WriteString("\n")
	}
	b.WriteString("Write nothing before the first heading.")
	return b.String()
}

// flatPrompt builds the single-call system and user prompts.
func flatPrompt(in Input, maxItems int) (string, string) {
	system := systemPreamble + "\n\n" + delimiterContract(domain.NarrativeSections)
	return system, dataBlock(in, maxItems)
}

var findingSections = []domain.NarrativeSection{
	domain.SectionSummary, domain.SectionAnomalies, domain.SectionForecast,
}

// findingsPrompt is step one of the staged request: state what happened.
func findingsPrompt(in Input, maxItems int) (string, string) {
	system := systemPreamble + `

This is step 1 of 2. State the findings only: what was spent, what deviated from baseline and why it matters, and where the month is heading.
Do not make recommendations yet.

` + delimiterContract(findingSections)
	return system, dataBlock(in, maxItems)
}

// recommendationsPrompt is step two: act on the findings from step one.
func recommendationsPrompt(in Input, findings map[domain.NarrativeSection]string, maxItems int) (string, string) {
	system := systemPreamble + `

This is step 2 of 2. The findings below were already stated. Based on them and on the data, recommend concrete actions ordered by expected savings.
Reference the findings they address.

` + delimiterContract([]domain.NarrativeSection{domain.SectionRecommendations})

	var b strings.Builder
	b.WriteString("Findings:\n")
	for _, s := range findingSections {
		if text := findings[s]; text != "" {
			fmt.Fprintf(&b, "%s\n%s\n\n", heading(s), text)
		}
	}
	b.WriteString(dataBlock(in, maxItems))
	return system, b.String()
}

// dataBlock renders the report data as compact text lines.
func dataBlock(in Input, maxItems int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report week: %s (%s to %s)\n", in.WeekKey,
		in.Period.Start.Format(domain.DateLayout), in.Period.End.AddDate(0, 0, -1).Format(domain.DateLayout))
	fmt.Fprintf(&b, "Total spend: %s %s\n", money(in.TotalCost), in.Currency)
	fmt.Fprintf(&b, "Previous period: %s %s (%s)\n", money(in.PreviousTotalCost), in.Currency,
		change(in.TotalCost, in.PreviousTotalCost))

	b.WriteString("\nTop services:\n")
	if len(in.TopServices) == 0 {
		b.WriteString("none\n")
	}
	for i, s := range in.TopServices {
		if i >= maxItems {
			fmt.Fprintf(&b, "... %d more\n", len(in.TopServices)-maxItems)
			break
		}
		fmt.Fprintf(&b, "- %s | %s | %s\n", s.SubscriptionID, s.ServiceName, money(s.Cost))
	}

	b.WriteString("\nAnomalies:\n")
	if len(in.Anomalies) == 0 {
		b.WriteString("none\n")
	}
	for i, a := range in.Anomalies {
		if i >= maxItems {
			fmt.Fprintf(&b, "... %d more\n", len(in.Anomalies)-maxItems)
			break
		}
		fmt.Fprintf(&b, "- %s | %s | observed %.2f vs baseline %.2f ± %.2f | %+.1fσ | %s\n",
			a.SubscriptionID, a.ServiceName, a.ObservedCost, a.BaselineMean, a.BaselineStdDev,
			a.DeviationScore, a.Severity)
	}

	if len(in.Budgets) > 0 {
		b.WriteString("\nBudgets:\n")
		for i, bu := range in.Budgets {
			if i >= maxItems {
				fmt.Fprintf(&b, "... %d more\n", len(in.Budgets)-maxItems)
				break
			}
			fmt.Fprintf(&b, "- %s | %s | %s of %s (%.1f%%)\n", bu.SubscriptionID, bu.BudgetName,
				money(bu.CurrentSpend), money(bu.Amount), bu.ConsumedPercent())
		}
	}

	if f := in.Forecast; f != nil {
		fmt.Fprintf(&b, "\nForecast: month-to-date %s, daily run rate %s, %d days remaining, projected month-end %s %s\n",
			money(f.MonthToDate), money(f.DailyRunRate), f.RemainingDays, money(f.ProjectedTotal), f.Currency)
	}

	if c := in.Chargeback; c != nil {
		fmt.Fprintf(&b, "\nChargeback by %s (tag compliance %.1f%%, untagged %s):\n",
			strings.Join(c.TagKeys, "/"), c.CompliancePercent, money(c.UntaggedCost))
		for i, o := range c.ByOwner {
			if i >= maxItems {
				fmt.Fprintf(&b, "... %d more\n", len(c.ByOwner)-maxItems)
				break
			}
			fmt.Fprintf(&b, "- %s | %s\n", o.Owner, money(o.Cost))
		}
	}

	if len(in.Recommendations) > 0 {
		b.WriteString("\nOptimization opportunities:\n")
		for i, r := range in.Recommendations {
			if i >= maxItems {
				fmt.Fprintf(&b, "... %d more\n", len(in.Recommendations)-maxItems)
				break
			}
			fmt.Fprintf(&b, "- %s | %s | %s | saves %s %s\n", r.ResourceName, r.Category,
				truncate(r.Recommendation, 160), money(r.EstimatedSavings), r.Currency)
		}
	}
	return b.String()
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// change describes cur relative to prev as a signed percentage.
func change(cur, prev decimal.Decimal) string {
	if prev.IsZero() {
		return "no prior data"
	}
	pct := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
	sign := ""
	if pct.IsPositive() {
		sign = "+"
	}
	return sign + pct.StringFixed(1) + "%"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
