// Package clickhouse is the time-series sink: typed record batches written to
// ReplacingMergeTree tables keyed by each record's natural key, and the range
// reads the weekly analysis needs.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Config holds ClickHouse connection settings.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Debug    bool
}

// Rows is the subset of driver.Rows the store reads through.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DB is the narrow connection surface the store needs.
type DB interface {
	Exec(ctx context.Context, query string, args ...any) error
	Insert(ctx context.Context, query string, rows [][]any) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Ping(ctx context.Context) error
	Close() error
}

// Store is the ClickHouse-backed sink.
type Store struct {
	db  DB
	now func() time.Time
}

// Open connects to ClickHouse with LZ4 compression and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	s := NewFromDB(&nativeDB{conn: conn})
	if err := s.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB creates a store over an existing connection (used in tests).
func NewFromDB(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Ping checks sink connectivity. An unreachable sink is fatal for the run.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse: ping: %w: %w", domain.ErrFatal, err)
	}
	return nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates every table that does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if err := s.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("clickhouse: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, table string, columns string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s)", table, columns)
	if err := s.db.Insert(ctx, query, rows); err != nil {
		return fmt.Errorf("clickhouse: insert %s: %w", table, err)
	}
	return nil
}

const costColumns = "subscription_id, resource_name, resource_id, service_name, meter_category, cost, currency, location, usage_date, is_excluded, tags, run_id, collected_at"

// WriteCost upserts cost records.
func (s *Store) WriteCost(ctx context.Context, records []domain.CostRecord) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		tags := r.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		rows = append(rows, []any{
			r.SubscriptionID, r.ResourceName, r.ResourceID, r.ServiceName, r.MeterCategory,
			r.Cost, r.Currency, r.Location, domain.Day(r.CollectionDate),
			boolToUInt8(r.IsExcludedResource), tags, r.RunID, r.CollectedAt.UTC(),
		})
	}
	return s.insert(ctx, TableCost, costColumns, rows)
}

// WriteReservations upserts reservation utilization records.
func (s *Store) WriteReservations(ctx context.Context, records []domain.ReservationRecord) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.SubscriptionID, r.ReservationID, r.ServiceName, r.UtilizationPercent, r.UnusedCost,
			r.Currency, domain.Day(r.CollectionDate), r.RunID, r.CollectedAt.UTC(),
		})
	}
	return s.insert(ctx, TableReservation,
		"subscription_id, reservation_id, service_name, utilization_percent, unused_cost, currency, usage_date, run_id, collected_at",
		rows)
}

// WriteBudgets upserts budget records.
func (s *Store) WriteBudgets(ctx context.Context, records []domain.BudgetRecord) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.SubscriptionID, r.BudgetName, r.Amount, r.CurrentSpend, r.ForecastSpend,
			r.Currency, domain.Day(r.CollectionDate), r.RunID, r.CollectedAt.UTC(),
		})
	}
	return s.insert(ctx, TableBudget,
		"subscription_id, budget_name, amount, current_spend, forecast_spend, currency, usage_date, run_id, collected_at",
		rows)
}

// WriteAdvisor upserts advisor recommendations.
func (s *Store) WriteAdvisor(ctx context.Context, records []domain.AdvisorRecord) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.SubscriptionID, r.ResourceName, r.Category, r.Impact, r.Recommendation,
			r.EstimatedSavings, r.Currency, domain.Day(r.CollectionDate), r.RunID, r.CollectedAt.UTC(),
		})
	}
	return s.insert(ctx, TableAdvisor,
		"subscription_id, resource_name, category, impact, recommendation, estimated_savings, currency, usage_date, run_id, collected_at",
		rows)
}

// WriteBaselines stores recomputed baselines. A row for an existing window key
// supersedes the earlier one on merge.
func (s *Store) WriteBaselines(ctx context.Context, baselines []domain.BaselineRecord) error {
	rows := make([][]any, 0, len(baselines))
	for _, b := range baselines {
		computed := b.ComputedAt
		if computed.IsZero() {
			computed = s.now()
		}
		rows = append(rows, []any{
			b.SubscriptionID, b.ServiceName, domain.Day(b.WindowStart), domain.Day(b.WindowEnd),
			b.MeanCost, b.StdDevCost, uint32(b.SampleCount), b.RunID, computed.UTC(),
		})
	}
	return s.insert(ctx, TableBaselines,
		"subscription_id, service_name, window_start, window_end, mean_cost, std_dev_cost, sample_count, run_id, computed_at",
		rows)
}

// WriteAnomalies stores the flags produced by one weekly run.
func (s *Store) WriteAnomalies(ctx context.Context, flags []domain.AnomalyFlag) error {
	detected := s.now().UTC()
	rows := make([][]any, 0, len(flags))
	for _, a := range flags {
		rows = append(rows, []any{
			a.SubscriptionID, a.ServiceName, domain.Day(a.PeriodStart), domain.Day(a.PeriodEnd),
			a.ObservedCost, a.BaselineMean, a.BaselineStdDev, a.DeviationScore,
			string(a.Severity), a.RunID, detected,
		})
	}
	return s.insert(ctx, TableAnomalies,
		"subscription_id, service_name, period_start, period_end, observed_cost, baseline_mean, baseline_std_dev, deviation_score, severity, run_id, detected_at",
		rows)
}

// WriteReportSummary records one dispatched weekly report.
func (s *Store) WriteReportSummary(ctx context.Context, r domain.ReportSummary) error {
	sent := r.SentAt
	if sent.IsZero() {
		sent = s.now()
	}
	row := []any{
		r.RunID, r.WeekKey, domain.Day(r.PeriodStart), domain.Day(r.PeriodEnd), r.TotalCost,
		r.Currency, uint32(r.AnomalyCount), boolToUInt8(r.AIAvailable), uint32(r.RecipientCount),
		r.ArchiveKey, sent.UTC(),
	}
	return s.insert(ctx, TableReportSummaries,
		"run_id, week_key, period_start, period_end, total_cost, currency, anomaly_count, ai_available, recipient_count, archive_key, sent_at",
		[][]any{row})
}

// DailyServiceCosts returns per-subscription, per-service daily totals of
// in-scope cost within r, one row per billing currency. Excluded resources are
// left out.
func (s *Store) DailyServiceCosts(ctx context.Context, r domain.DateRange) ([]domain.ServiceCost, error) {
	query := `
		SELECT subscription_id, service_name, usage_date, sum(cost), currency
		FROM cost_records FINAL
		WHERE usage_date >= toDate(?) AND usage_date < toDate(?) AND is_excluded = 0
		GROUP BY subscription_id, service_name, usage_date, currency
		ORDER BY subscription_id, service_name, usage_date, currency
	`
	rows, err := s.db.Query(ctx, query, dateArgs(r)...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: daily service costs: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceCost
	for rows.Next() {
		var c domain.ServiceCost
		if err := rows.Scan(&c.SubscriptionID, &c.ServiceName, &c.Day, &c.Cost, &c.Currency); err != nil {
			return nil, fmt.Errorf("clickhouse: scan service cost: %w", err)
		}
		c.Day = domain.Day(c.Day)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: daily service costs: %w", err)
	}
	return out, nil
}

// CostRecords returns every cost record within r, excluded ones included and tagged.
func (s *Store) CostRecords(ctx context.Context, r domain.DateRange) ([]domain.CostRecord, error) {
	query := `
		SELECT ` + costColumns + `
		FROM cost_records FINAL
		WHERE usage_date >= toDate(?) AND usage_date < toDate(?)
		ORDER BY subscription_id, usage_date, resource_name
	`
	rows, err := s.db.Query(ctx, query, dateArgs(r)...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: cost records: %w", err)
	}
	defer rows.Close()

	var out []domain.CostRecord
	for rows.Next() {
		var (
			c        domain.CostRecord
			excluded uint8
		)
		if err := rows.Scan(
			&c.SubscriptionID, &c.ResourceName, &c.ResourceID, &c.ServiceName, &c.MeterCategory,
			&c.Cost, &c.Currency, &c.Location, &c.CollectionDate, &excluded, &c.Tags,
			&c.RunID, &c.CollectedAt,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: scan cost record: %w", err)
		}
		c.IsExcludedResource = excluded == 1
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: cost records: %w", err)
	}
	return out, nil
}

// LatestBudgets returns the most recent state of each budget observed within r.
func (s *Store) LatestBudgets(ctx context.Context, r domain.DateRange) ([]domain.BudgetRecord, error) {
	query := `
		SELECT subscription_id, budget_name, amount, current_spend, forecast_spend, currency, usage_date, run_id
		FROM budget_records FINAL
		WHERE usage_date >= toDate(?) AND usage_date < toDate(?)
		ORDER BY usage_date DESC
		LIMIT 1 BY subscription_id, budget_name
	`
	rows, err := s.db.Query(ctx, query, dateArgs(r)...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: latest budgets: %w", err)
	}
	defer rows.Close()

	var out []domain.BudgetRecord
	for rows.Next() {
		var b domain.BudgetRecord
		if err := rows.Scan(
			&b.SubscriptionID, &b.BudgetName, &b.Amount, &b.CurrentSpend, &b.ForecastSpend,
			&b.Currency, &b.CollectionDate, &b.RunID,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: scan budget: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: latest budgets: %w", err)
	}
	return out, nil
}

// AdvisorRecords returns the most recent recommendation per resource and
// category within r, largest estimated savings first.
func (s *Store) AdvisorRecords(ctx context.Context, r domain.DateRange) ([]domain.AdvisorRecord, error) {
	query := `
		SELECT subscription_id, resource_name, category, impact, recommendation, estimated_savings, currency, usage_date, run_id
		FROM (
			SELECT *
			FROM advisor_records FINAL
			WHERE usage_date >= toDate(?) AND usage_date < toDate(?)
			ORDER BY usage_date DESC
			LIMIT 1 BY subscription_id, resource_name, category
		)
		ORDER BY estimated_savings DESC
	`
	rows, err := s.db.Query(ctx, query, dateArgs(r)...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: advisor records: %w", err)
	}
	defer rows.Close()

	var out []domain.AdvisorRecord
	for rows.Next() {
		var a domain.AdvisorRecord
		if err := rows.Scan(
			&a.SubscriptionID, &a.ResourceName, &a.Category, &a.Impact, &a.Recommendation,
			&a.EstimatedSavings, &a.Currency, &a.CollectionDate, &a.RunID,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: scan advisor record: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: advisor records: %w", err)
	}
	return out, nil
}

// ReportSummaries returns the summary rows recorded for weekKey, newest first.
func (s *Store) ReportSummaries(ctx context.Context, weekKey string) ([]domain.ReportSummary, error) {
	query := `
		SELECT run_id, week_key, period_start, period_end, total_cost, currency,
			anomaly_count, ai_available, recipient_count, archive_key, sent_at
		FROM report_summaries FINAL
		WHERE week_key = ?
		ORDER BY sent_at DESC
	`
	rows, err := s.db.Query(ctx, query, weekKey)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: report summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.ReportSummary
	for rows.Next() {
		var (
			r                 domain.ReportSummary
			anomalies, recips uint32
			ai                uint8
			total             decimal.Decimal
		)
		if err := rows.Scan(
			&r.RunID, &r.WeekKey, &r.PeriodStart, &r.PeriodEnd, &total, &r.Currency,
			&anomalies, &ai, &recips, &r.ArchiveKey, &r.SentAt,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: scan report summary: %w", err)
		}
		r.TotalCost = total
		r.AnomalyCount = int(anomalies)
		r.RecipientCount = int(recips)
		r.AIAvailable = ai == 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: report summaries: %w", err)
	}
	return out, nil
}

func dateArgs(r domain.DateRange) []any {
	return []any{r.Start.Format(domain.DateLayout), r.End.Format(domain.DateLayout)}
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// nativeDB adapts a clickhouse-go connection to DB.
type nativeDB struct {
	conn driver.Conn
}

func (n *nativeDB) Exec(ctx context.Context, query string, args ...any) error {
	return n.conn.Exec(ctx, query, args...)
}

func (n *nativeDB) Insert(ctx context.Context, query string, rows [][]any) error {
	batch, err := n.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	return batch.Send()
}

func (n *nativeDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return n.conn.Query(ctx, query, args...)
}

func (n *nativeDB) Ping(ctx context.Context) error {
	return n.conn.Ping(ctx)
}

func (n *nativeDB) Close() error {
	return n.conn.Close()
}
