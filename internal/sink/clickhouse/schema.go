package clickhouse

// Table names. Every dataset lands in its own table; the natural key of each
// record is the ReplacingMergeTree sort key, so re-collection upserts instead of
// duplicating and concurrent writers need no ordering.
const (
	TableCost            = "cost_records"
	TableReservation     = "reservation_records"
	TableBudget          = "budget_records"
	TableAdvisor         = "advisor_records"
	TableBaselines       = "baselines"
	TableAnomalies       = "anomalies"
	TableReportSummaries = "report_summaries"
)

// RetentionDays is the sink retention applied to every table.
const RetentionDays = 365

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cost_records (
		subscription_id String,
		resource_name   String,
		resource_id     String,
		service_name    LowCardinality(String),
		meter_category  LowCardinality(String),
		cost            Decimal(18, 6),
		currency        LowCardinality(String),
		location        LowCardinality(String),
		usage_date      Date,
		is_excluded     UInt8,
		tags            Map(String, String),
		run_id          String,
		collected_at    DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(collected_at)
	ORDER BY (subscription_id, resource_name, usage_date, meter_category)
	TTL usage_date + INTERVAL 365 DAY`,

	`CREATE TABLE IF NOT EXISTS reservation_records (
		subscription_id     String,
		reservation_id      String,
		service_name        LowCardinality(String),
		utilization_percent Decimal(9, 4),
		unused_cost         Decimal(18, 6),
		currency            LowCardinality(String),
		usage_date          Date,
		run_id              String,
		collected_at        DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(collected_at)
	ORDER BY (subscription_id, reservation_id, usage_date)
	TTL usage_date + INTERVAL 365 DAY`,

	`CREATE TABLE IF NOT EXISTS budget_records (
		subscription_id String,
		budget_name     String,
		amount          Decimal(18, 6),
		current_spend   Decimal(18, 6),
		forecast_spend  Decimal(18, 6),
		currency        LowCardinality(String),
		usage_date      Date,
		run_id          String,
		collected_at    DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(collected_at)
	ORDER BY (subscription_id, budget_name, usage_date)
	TTL usage_date + INTERVAL 365 DAY`,

	`CREATE TABLE IF NOT EXISTS advisor_records (
		subscription_id   String,
		resource_name     String,
		category          LowCardinality(String),
		impact            LowCardinality(String),
		recommendation    String,
		estimated_savings Decimal(18, 6),
		currency          LowCardinality(String),
		usage_date        Date,
		run_id            String,
		collected_at      DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(collected_at)
	ORDER BY (subscription_id, resource_name, category, usage_date)
	TTL usage_date + INTERVAL 365 DAY`,

	`CREATE TABLE IF NOT EXISTS baselines (
		subscription_id String,
		service_name    LowCardinality(String),
		window_start    Date,
		window_end      Date,
		mean_cost       Float64,
		std_dev_cost    Float64,
		sample_count    UInt32,
		run_id          String,
		computed_at     DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(computed_at)
	ORDER BY (subscription_id, service_name, window_start, window_end)
	TTL window_end + INTERVAL 365 DAY`,

	`CREATE TABLE IF NOT EXISTS anomalies (
		subscription_id  String,
		service_name     LowCardinality(String),
		period_start     Date,
		period_end       Date,
		observed_cost    Float64,
		baseline_mean    Float64,
		baseline_std_dev Float64,
		deviation_score  Float64,
		severity         LowCardinality(String),
		run_id           String,
		detected_at      DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(detected_at)
	ORDER BY (subscription_id, service_name, period_start, run_id)
	TTL period_end + INTERVAL 365 DAY`,

	`CREATE TABLE IF NOT EXISTS report_summaries (
		run_id          String,
		week_key        String,
		period_start    Date,
		period_end      Date,
		total_cost      Decimal(18, 6),
		currency        LowCardinality(String),
		anomaly_count   UInt32,
		ai_available    UInt8,
		recipient_count UInt32,
		archive_key     String,
		sent_at         DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(sent_at)
	ORDER BY (week_key, run_id)
	TTL period_end + INTERVAL 365 DAY`,
}
