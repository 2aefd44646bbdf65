package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used on the wire and in workflow IDs.
const DateLayout = "2006-01-02"

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekKey returns the ISO-8601 year-week of t, e.g. "2025-W30".
func WeekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// DateRange is a half-open [Start, End) range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// CostRecord is one billed resource line for one day.
// Unique per (SubscriptionID, ResourceName, CollectionDate, MeterCategory).
type CostRecord struct {
	SubscriptionID     string            `json:"subscription_id"`
	ResourceName       string            `json:"resource_name"`
	ResourceID         string            `json:"resource_id,omitempty"`
	ServiceName        string            `json:"service_name"`
	MeterCategory      string            `json:"meter_category"`
	Cost               decimal.Decimal   `json:"cost"`
	Currency           string            `json:"currency"`
	Location           string            `json:"location"`
	CollectionDate     time.Time         `json:"collection_date"`
	IsExcludedResource bool              `json:"is_excluded_resource"`
	Tags               map[string]string `json:"tags,omitempty"`
	RunID              string            `json:"run_id"`
	CollectedAt        time.Time         `json:"collected_at"`
}

// Key returns the natural uniqueness key used for upserts.
func (c CostRecord) Key() string {
	return c.SubscriptionID + "|" + c.ResourceName + "|" + c.CollectionDate.Format(DateLayout) + "|" + c.MeterCategory
}

// ReservationRecord is the utilization of one reservation for one day.
type ReservationRecord struct {
	SubscriptionID     string          `json:"subscription_id"`
	ReservationID      string          `json:"reservation_id"`
	ServiceName        string          `json:"service_name"`
	UtilizationPercent decimal.Decimal `json:"utilization_percent"`
	UnusedCost         decimal.Decimal `json:"unused_cost"`
	Currency           string          `json:"currency"`
	CollectionDate     time.Time       `json:"collection_date"`
	RunID              string          `json:"run_id"`
	CollectedAt        time.Time       `json:"collected_at"`
}

// BudgetRecord is the state of one budget as of the collection date.
type BudgetRecord struct {
	SubscriptionID string          `json:"subscription_id"`
	BudgetName     string          `json:"budget_name"`
	Amount         decimal.Decimal `json:"amount"`
	CurrentSpend   decimal.Decimal `json:"current_spend"`
	ForecastSpend  decimal.Decimal `json:"forecast_spend"`
	Currency       string          `json:"currency"`
	CollectionDate time.Time       `json:"collection_date"`
	RunID          string          `json:"run_id"`
	CollectedAt    time.Time       `json:"collected_at"`
}

// ConsumedPercent returns CurrentSpend as a percentage of Amount (0 when Amount is zero).
func (b BudgetRecord) ConsumedPercent() float64 {
	if b.Amount.IsZero() {
		return 0
	}
	pct, _ := b.CurrentSpend.Div(b.Amount).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// AdvisorRecord is one optimization recommendation reported by the billing source.
type AdvisorRecord struct {
	SubscriptionID   string          `json:"subscription_id"`
	ResourceName     string          `json:"resource_name"`
	Category         string          `json:"category"`
	Impact           string          `json:"impact"`
	Recommendation   string          `json:"recommendation"`
	EstimatedSavings decimal.Decimal `json:"estimated_savings"`
	Currency         string          `json:"currency"`
	CollectionDate   time.Time       `json:"collection_date"`
	RunID            string          `json:"run_id"`
	CollectedAt      time.Time       `json:"collected_at"`
}

// ServiceCost is the sink's read model: total in-scope cost of one service on one day.
type ServiceCost struct {
	SubscriptionID string          `json:"subscription_id"`
	ServiceName    string          `json:"service_name"`
	Day            time.Time       `json:"day"`
	Cost           decimal.Decimal `json:"cost"`
	Currency       string          `json:"currency"`
}

// BaselineRecord is the expected-cost distribution of one service over a historical window.
// Recomputed each weekly run; a later record for the same key supersedes the earlier one.
type BaselineRecord struct {
	SubscriptionID string    `json:"subscription_id"`
	ServiceName    string    `json:"service_name"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	MeanCost       float64   `json:"mean_cost"`
	StdDevCost     float64   `json:"std_dev_cost"`
	SampleCount    int       `json:"sample_count"`
	RunID          string    `json:"run_id"`
	ComputedAt     time.Time `json:"computed_at"`
}

// AnomalyFlag marks an observation whose deviation from baseline exceeds the threshold.
type AnomalyFlag struct {
	SubscriptionID string    `json:"subscription_id"`
	ServiceName    string    `json:"service_name"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	ObservedCost   float64   `json:"observed_cost"`
	BaselineMean   float64   `json:"baseline_mean"`
	BaselineStdDev float64   `json:"baseline_std_dev"`
	DeviationScore float64   `json:"deviation_score"`
	Severity       Severity  `json:"severity"`
	RunID          string    `json:"run_id"`
}

// Forecast is a month-end spend projection.
type Forecast struct {
	MonthStart       time.Time       `json:"month_start"`
	MonthToDate      decimal.Decimal `json:"month_to_date"`
	DailyRunRate     decimal.Decimal `json:"daily_run_rate"`
	ProjectedTotal   decimal.Decimal `json:"projected_total"`
	RemainingDays    int             `json:"remaining_days"`
	Currency         string          `json:"currency"`
	LastObservedDate time.Time       `json:"last_observed_date"`
}

// OwnerCost is the cost attributed to one tag value.
type OwnerCost struct {
	Owner string          `json:"owner"`
	Cost  decimal.Decimal `json:"cost"`
}

// ChargebackSummary attributes cost to organizational units via resource tags.
type ChargebackSummary struct {
	TagKeys           []string        `json:"tag_keys"`
	ByOwner           []OwnerCost     `json:"by_owner"`
	TaggedCost        decimal.Decimal `json:"tagged_cost"`
	UntaggedCost      decimal.Decimal `json:"untagged_cost"`
	UntaggedResources []string        `json:"untagged_resources,omitempty"`
	CompliancePercent float64         `json:"compliance_percent"`
}

// Narrative is the AI-generated (or fallback) report text partitioned into sections.
type Narrative struct {
	Sections    map[NarrativeSection]string `json:"sections"`
	AIAvailable bool                        `json:"ai_available"`
	Model       string                      `json:"model,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

// Section returns the text for s, or "" when absent.
func (n Narrative) Section(s NarrativeSection) string {
	if n.Sections == nil {
		return ""
	}
	return n.Sections[s]
}

// AnalysisReport is assembled transiently each weekly run and not mutated after composition.
type AnalysisReport struct {
	RunID             string             `json:"run_id"`
	WeekKey           string             `json:"week_key"`
	PeriodStart       time.Time          `json:"period_start"`
	PeriodEnd         time.Time          `json:"period_end"`
	TotalCost         decimal.Decimal    `json:"total_cost"`
	PreviousTotalCost decimal.Decimal    `json:"previous_total_cost"`
	Currency          string             `json:"currency"`
	TopServices       []ServiceCost      `json:"top_services"`
	Narrative         Narrative          `json:"narrative"`
	Anomalies         []AnomalyFlag      `json:"anomalies"`
	Budgets           []BudgetRecord     `json:"budgets,omitempty"`
	Recommendations   []AdvisorRecord    `json:"recommendations,omitempty"`
	Forecast          *Forecast          `json:"forecast,omitempty"`
	Chargeback        *ChargebackSummary `json:"chargeback,omitempty"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// ReportSummary is the optional persisted trace of a dispatched weekly report.
type ReportSummary struct {
	RunID          string          `json:"run_id"`
	WeekKey        string          `json:"week_key"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	Currency       string          `json:"currency"`
	AnomalyCount   int             `json:"anomaly_count"`
	AIAvailable    bool            `json:"ai_available"`
	RecipientCount int             `json:"recipient_count"`
	ArchiveKey     string          `json:"archive_key,omitempty"`
	SentAt         time.Time       `json:"sent_at"`
}

// DatasetResult is the outcome of one subscription×dataset pair.
type DatasetResult struct {
	Status   DatasetStatus `json:"status"`
	Fetched  int           `json:"fetched"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Excluded int           `json:"excluded"`
	Error    string        `json:"error,omitempty"`
}

// SubscriptionSummary holds per-dataset results for one subscription.
type SubscriptionSummary struct {
	Datasets map[Dataset]DatasetResult `json:"datasets"`
}

// Count returns how many datasets ended with status s.
func (s SubscriptionSummary) Count(status DatasetStatus) int {
	n := 0
	for _, r := range s.Datasets {
		if r.Status == status {
			n++
		}
	}
	return n
}

// CollectionSummary reports the outcome of one daily collection run.
type CollectionSummary struct {
	RunID         string                         `json:"run_id"`
	RunDate       time.Time                      `json:"run_date"`
	Status        RunStatus                      `json:"status"`
	Subscriptions map[string]SubscriptionSummary `json:"subscriptions"`
	Accepted      int64                          `json:"accepted"`
	Rejected      int64                          `json:"rejected"`
	Excluded      int64                          `json:"excluded"`
	Succeeded     int                            `json:"succeeded"`
	Skipped       int                            `json:"skipped"`
	Failed        int                            `json:"failed"`
	StartedAt     time.Time                      `json:"started_at"`
	FinishedAt    time.Time                      `json:"finished_at"`
}

// AnalysisRunResult reports the outcome of one weekly analysis run.
type AnalysisRunResult struct {
	RunID          string         `json:"run_id"`
	WeekKey        string         `json:"week_key"`
	PeriodStart    time.Time      `json:"period_start"`
	PeriodEnd      time.Time      `json:"period_end"`
	Status         AnalysisStatus `json:"status"`
	AnomalyCount   int            `json:"anomaly_count"`
	BaselineCount  int            `json:"baseline_count"`
	AIAvailable    bool           `json:"ai_available"`
	RecipientCount int            `json:"recipient_count"`
	ArchiveKey     string         `json:"archive_key,omitempty"`
	Error          string         `json:"error,omitempty"`
	// SettleError is set when the report went out but the ledger could not
	// record it; the week becomes resendable once the claim lease expires.
	SettleError string `json:"settle_error,omitempty"`
}
