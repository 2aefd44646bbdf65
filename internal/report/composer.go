// Package report renders the weekly HTML report and dispatches it through the
// mail relay.
package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/analysis"
	"github.com/finops-claw-gang/costpipe/internal/domain"
)

//go:embed templates/report.html.tmpl
var reportTemplate string

// Rendered is a composed report ready to send.
type Rendered struct {
	Subject string
	HTML    []byte
}

// Composer renders AnalysisReports. It is safe for concurrent use.
type Composer struct {
	tmpl *template.Template
}

// NewComposer parses the embedded template.
func NewComposer() (*Composer, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("report: parse template: %w", err)
	}
	return &Composer{tmpl: tmpl}, nil
}

// Subject returns the email subject for r.
func Subject(r domain.AnalysisReport) string {
	return fmt.Sprintf("Weekly cloud cost report %s: %s %s", r.WeekKey, r.TotalCost.StringFixed(2), r.Currency)
}

// Compose renders r.
func (c *Composer) Compose(r domain.AnalysisReport) (Rendered, error) {
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, newView(r)); err != nil {
		return Rendered{}, fmt.Errorf("report: render %s: %w", r.WeekKey, err)
	}
	return Rendered{Subject: Subject(r), HTML: buf.Bytes()}, nil
}

var sectionTitles = map[domain.NarrativeSection]string{
	domain.SectionSummary:         "Summary",
	domain.SectionAnomalies:       "Anomaly analysis",
	domain.SectionRecommendations: "Recommendations",
	domain.SectionForecast:        "Outlook",
}

type view struct {
	Subject         string
	RunID           string
	WeekKey         string
	PeriodLabel     string
	Total           string
	Change          string
	Currency        string
	AIAvailable     bool
	Model           string
	GeneratedAt     string
	Sections        []sectionView
	TopServices     []serviceView
	Anomalies       []anomalyView
	Budgets         []budgetView
	Forecast        *forecastView
	Chargeback      *chargebackView
	Recommendations []recommendationView
}

type sectionView struct {
	Title      string
	Paragraphs []string
}

type serviceView struct {
	SubscriptionID, ServiceName, Cost, Currency string
}

type anomalyView struct {
	SubscriptionID, ServiceName, Observed, Baseline, Score string
	Severity                                                domain.Severity
}

type budgetView struct {
	SubscriptionID, Name, Spend, Amount, Consumed string
	State                                        analysis.BudgetState
}

type forecastView struct {
	MonthToDate, DailyRunRate, Projected string
	RemainingDays                        int
}

type chargebackView struct {
	Compliance, Untagged string
	Owners               []ownerView
	UntaggedResources    []string
}

type ownerView struct {
	Owner, Cost string
}

type recommendationView struct {
	ResourceName, Category, Recommendation, Savings string
}

func newView(r domain.AnalysisReport) view {
	v := view{
		Subject:     Subject(r),
		RunID:       r.RunID,
		WeekKey:     r.WeekKey,
		PeriodLabel: r.PeriodStart.Format(domain.DateLayout) + " to " + r.PeriodEnd.AddDate(0, 0, -1).Format(domain.DateLayout),
		Total:       r.TotalCost.StringFixed(2),
		Change:      percentChange(r.TotalCost, r.PreviousTotalCost),
		Currency:    r.Currency,
		AIAvailable: r.Narrative.AIAvailable,
		Model:       r.Narrative.Model,
		GeneratedAt: r.GeneratedAt.UTC().Format(time.RFC3339),
	}

	for _, s := range domain.NarrativeSections {
		text := strings.TrimSpace(r.Narrative.Section(s))
		if text == "" {
			continue
		}
		v.Sections = append(v.Sections, sectionView{Title: sectionTitles[s], Paragraphs: paragraphs(text)})
	}

	for _, s := range r.TopServices {
		v.TopServices = append(v.TopServices, serviceView{
			SubscriptionID: s.SubscriptionID, ServiceName: s.ServiceName,
			Cost: s.Cost.StringFixed(2), Currency: s.Currency,
		})
	}

	for _, a := range r.Anomalies {
		v.Anomalies = append(v.Anomalies, anomalyView{
			SubscriptionID: a.SubscriptionID,
			ServiceName:    a.ServiceName,
			Observed:       fmt.Sprintf("%.2f", a.ObservedCost),
			Baseline:       fmt.Sprintf("%.2f ± %.2f", a.BaselineMean, a.BaselineStdDev),
			Score:          fmt.Sprintf("%+.1fσ", a.DeviationScore),
			Severity:       a.Severity,
		})
	}

	for _, b := range r.Budgets {
		v.Budgets = append(v.Budgets, budgetView{
			SubscriptionID: b.SubscriptionID,
			Name:           b.BudgetName,
			Spend:          b.CurrentSpend.StringFixed(2) + " " + b.Currency,
			Amount:         b.Amount.StringFixed(2) + " " + b.Currency,
			Consumed:       fmt.Sprintf("%.1f%%", b.ConsumedPercent()),
			State:          analysis.BudgetStatus(b),
		})
	}

	if f := r.Forecast; f != nil {
		v.Forecast = &forecastView{
			MonthToDate:   f.MonthToDate.StringFixed(2) + " " + f.Currency,
			DailyRunRate:  f.DailyRunRate.StringFixed(2) + " " + f.Currency,
			Projected:     f.ProjectedTotal.StringFixed(2) + " " + f.Currency,
			RemainingDays: f.RemainingDays,
		}
	}

	if c := r.Chargeback; c != nil {
		cv := &chargebackView{
			Compliance:        fmt.Sprintf("%.1f%%", c.CompliancePercent),
			Untagged:          c.UntaggedCost.StringFixed(2) + " " + r.Currency,
			UntaggedResources: c.UntaggedResources,
		}
		for _, o := range c.ByOwner {
			cv.Owners = append(cv.Owners, ownerView{Owner: o.Owner, Cost: o.Cost.StringFixed(2) + " " + r.Currency})
		}
		v.Chargeback = cv
	}

	for _, rec := range r.Recommendations {
		v.Recommendations = append(v.Recommendations, recommendationView{
			ResourceName:   rec.ResourceName,
			Category:       rec.Category,
			Recommendation: rec.Recommendation,
			Savings:        rec.EstimatedSavings.StringFixed(2) + " " + rec.Currency,
		})
	}
	return v
}

// paragraphs splits text on blank lines.
func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func percentChange(cur, prev decimal.Decimal) string {
	if prev.IsZero() {
		return "no prior data"
	}
	pct := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
	if pct.IsPositive() {
		return "+" + pct.StringFixed(1) + "%"
	}
	return pct.StringFixed(1) + "%"
}
