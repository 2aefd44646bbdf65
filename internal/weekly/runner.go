// Package weekly runs the weekly analysis job: baselines and anomalies are
// recomputed from the sink, a narrative is written, and the report is sent at
// most once per week key.
package weekly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/finops-claw-gang/costpipe/internal/analysis"
	"github.com/finops-claw-gang/costpipe/internal/config"
	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/ledger"
	"github.com/finops-claw-gang/costpipe/internal/narrative"
	"github.com/finops-claw-gang/costpipe/internal/observability"
	"github.com/finops-claw-gang/costpipe/internal/report"
	"github.com/finops-claw-gang/costpipe/internal/retry"
)

// Store is the sink's read side plus the derived-record writes.
type Store interface {
	DailyServiceCosts(ctx context.Context, r domain.DateRange) ([]domain.ServiceCost, error)
	CostRecords(ctx context.Context, r domain.DateRange) ([]domain.CostRecord, error)
	LatestBudgets(ctx context.Context, r domain.DateRange) ([]domain.BudgetRecord, error)
	AdvisorRecords(ctx context.Context, r domain.DateRange) ([]domain.AdvisorRecord, error)
	WriteBaselines(ctx context.Context, baselines []domain.BaselineRecord) error
	WriteAnomalies(ctx context.Context, flags []domain.AnomalyFlag) error
	WriteReportSummary(ctx context.Context, s domain.ReportSummary) error
}

// Ledger records report dispatches so each week key is sent at most once.
type Ledger interface {
	Claim(ctx context.Context, weekKey, runID string) (ledger.Claim, error)
	MarkSent(ctx context.Context, weekKey, runID, messageID string) error
	MarkFailed(ctx context.Context, weekKey, runID, cause string) error
}

// Narrator writes the narrative sections.
type Narrator interface {
	Build(ctx context.Context, in narrative.Input) domain.Narrative
}

// Composer renders a report.
type Composer interface {
	Compose(r domain.AnalysisReport) (report.Rendered, error)
}

// Sender delivers a rendered report.
type Sender interface {
	Send(ctx context.Context, weekKey string, r report.Rendered) (string, error)
	Recipients() []string
}

// Archive stores rendered reports.
type Archive interface {
	PutReport(ctx context.Context, weekKey, runID string, html []byte) (string, error)
}

// Options configures a Runner.
type Options struct {
	Engine         *analysis.Engine
	Features       config.Features
	ChargebackTags []string
	// TopN bounds the top-services and recommendations tables.
	TopN           int
	MaxRunDuration time.Duration
	// Archive is optional.
	Archive Archive
	// SettleRetry retries recording a sent report in the ledger.
	SettleRetry *retry.Client
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Runner executes weekly analysis runs.
type Runner struct {
	store    Store
	ledger   Ledger
	narrator Narrator
	composer Composer
	sender   Sender
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Runner.
func New(store Store, l Ledger, narrator Narrator, composer Composer, sender Sender, opts Options) *Runner {
	if opts.Engine == nil {
		opts.Engine = analysis.NewEngine(0, 0, 0)
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SettleRetry == nil {
		opts.SettleRetry = retry.New(retry.Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5},
			retry.WithLogger(logger))
	}
	return &Runner{
		store: store, ledger: l, narrator: narrator, composer: composer, sender: sender,
		opts: opts, logger: logger, now: time.Now,
	}
}

// RunWeeklyAnalysis analyzes [periodStart, periodEnd) and sends its report
// unless the week was already sent. The error is non-nil only for a failed
// run and then wraps domain.ErrFatal; no email is sent in that case.
func (r *Runner) RunWeeklyAnalysis(ctx context.Context, periodStart, periodEnd time.Time) (domain.AnalysisRunResult, error) {
	started := r.now()
	period := domain.DateRange{Start: domain.Day(periodStart), End: domain.Day(periodEnd)}
	res := domain.AnalysisRunResult{
		RunID:       domain.NewRunID(),
		WeekKey:     domain.WeekKey(period.Start),
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}
	logger := r.logger.With("run_id", res.RunID, "week_key", res.WeekKey, "period", period.String())

	if r.opts.MaxRunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.MaxRunDuration)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "weekly.run",
		attribute.String("run_id", res.RunID), attribute.String("week_key", res.WeekKey))

	err := r.run(ctx, logger, period, &res)
	if err != nil {
		res.Status = domain.AnalysisFailed
		res.Error = err.Error()
		if !errors.Is(err, domain.ErrFatal) {
			err = fmt.Errorf("%w: %w", domain.ErrFatal, err)
		}
		logger.Error("weekly analysis failed", "error", err)
	}
	observability.EndSpan(span, err)
	r.opts.Metrics.RecordReport(ctx, string(res.Status))
	r.opts.Metrics.RecordRun(ctx, "weekly", string(res.Status), r.now().Sub(started).Seconds())
	return res, err
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, period domain.DateRange, res *domain.AnalysisRunResult) error {
	if !period.Start.Before(period.End) {
		return fmt.Errorf("weekly: empty period %s", period)
	}

	claim, err := r.ledger.Claim(ctx, res.WeekKey, res.RunID)
	if err != nil {
		return fmt.Errorf("weekly: claim %s: %w", res.WeekKey, err)
	}
	if !claim.Acquired {
		res.Status = domain.AnalysisAlreadySent
		logger.Info("report already dispatched for week",
			"holder_run_id", claim.Holder.RunID, "holder_status", claim.Holder.Status)
		return nil
	}

	if err := r.dispatch(ctx, logger, period, res); err != nil {
		// The claim is released so a later run may retry the week.
		if mErr := r.ledger.MarkFailed(context.WithoutCancel(ctx), res.WeekKey, res.RunID, err.Error()); mErr != nil {
			logger.Error("weekly: release claim", "error", mErr)
		}
		return err
	}
	return nil
}

// dispatch builds, sends and records the report. Everything after the send is
// best effort: the email already went out. Baselines and anomaly flags are
// persisted only for the run whose report was sent, so a retried week does not
// leave a second set of flags behind.
func (r *Runner) dispatch(ctx context.Context, logger *slog.Logger, period domain.DateRange, res *domain.AnalysisRunResult) error {
	rep, baselines, err := r.analyze(ctx, logger, period, res)
	if err != nil {
		return err
	}

	rep.Narrative = r.narrator.Build(ctx, r.narrativeInput(rep))
	res.AIAvailable = rep.Narrative.AIAvailable
	rep.GeneratedAt = r.now().UTC()

	rendered, err := r.composer.Compose(rep)
	if err != nil {
		return fmt.Errorf("weekly: %w", err)
	}
	messageID, err := r.sender.Send(ctx, res.WeekKey, rendered)
	if err != nil {
		return err
	}
	res.Status = domain.AnalysisSent
	res.RecipientCount = len(r.sender.Recipients())
	sentAt := r.now().UTC()

	// Settle with a context that survives run cancellation; the send happened.
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledger.SettleBudget)
	defer cancel()
	if err := r.markSent(settle, res.WeekKey, res.RunID, messageID); err != nil {
		res.SettleError = "settle_failed: " + err.Error()
		logger.Error("weekly: report sent but not recorded; the week is resendable after the claim lease",
			"message_id", messageID, "error", err)
	}
	r.writeDerived(settle, logger, baselines, rep.Anomalies)
	if r.opts.Archive != nil {
		key, err := r.opts.Archive.PutReport(settle, res.WeekKey, res.RunID, rendered.HTML)
		if err != nil {
			logger.Warn("weekly: archive report", "error", err)
		} else {
			res.ArchiveKey = key
		}
	}
	summary := domain.ReportSummary{
		RunID:          res.RunID,
		WeekKey:        res.WeekKey,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		TotalCost:      rep.TotalCost,
		Currency:       rep.Currency,
		AnomalyCount:   len(rep.Anomalies),
		AIAvailable:    rep.Narrative.AIAvailable,
		RecipientCount: res.RecipientCount,
		ArchiveKey:     res.ArchiveKey,
		SentAt:         sentAt,
	}
	if err := r.store.WriteReportSummary(settle, summary); err != nil {
		logger.Warn("weekly: write report summary", "error", err)
	}
	logger.Info("weekly report sent", "message_id", messageID, "anomalies", len(rep.Anomalies),
		"ai_available", res.AIAvailable, "archive_key", res.ArchiveKey)
	return nil
}

// markSent records the dispatch, retrying store errors. A lost claim is final.
func (r *Runner) markSent(ctx context.Context, weekKey, runID, messageID string) error {
	_, err := retry.Do(ctx, r.opts.SettleRetry, "ledger.mark_sent", 0, func(ctx context.Context) (struct{}, error) {
		err := r.ledger.MarkSent(ctx, weekKey, runID, messageID)
		if err != nil && !errors.Is(err, ledger.ErrLostClaim) {
			err = fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return struct{}{}, err
	})
	return err
}

// writeDerived persists the baselines and flags behind a sent report.
func (r *Runner) writeDerived(ctx context.Context, logger *slog.Logger, baselines []domain.BaselineRecord, flags []domain.AnomalyFlag) {
	if len(baselines) > 0 {
		if err := r.store.WriteBaselines(ctx, baselines); err != nil {
			logger.Warn("weekly: write baselines", "count", len(baselines), "error", err)
		}
	}
	if len(flags) > 0 {
		if err := r.store.WriteAnomalies(ctx, flags); err != nil {
			logger.Warn("weekly: write anomalies", "count", len(flags), "error", err)
		}
	}
	for _, a := range flags {
		r.opts.Metrics.RecordAnomaly(ctx, a.ServiceName, string(a.Severity))
	}
}

// analyze reads the sink and assembles everything but the narrative. The
// baselines are returned for writing once the report is sent.
func (r *Runner) analyze(ctx context.Context, logger *slog.Logger, period domain.DateRange, res *domain.AnalysisRunResult) (domain.AnalysisReport, []domain.BaselineRecord, error) {
	f := r.opts.Features
	engine := r.opts.Engine

	readRange := engine.HistoryWindow(period)
	if ms := monthStart(period); ms.Before(readRange.Start) {
		readRange.Start = ms
	}
	points, err := r.store.DailyServiceCosts(ctx, readRange)
	if err != nil {
		return domain.AnalysisReport{}, nil, fmt.Errorf("weekly: read costs %s: %w: %w", readRange, domain.ErrFatal, err)
	}

	currency := analysis.ReportCurrency(points, period)
	if currency == "" {
		return domain.AnalysisReport{}, nil, fmt.Errorf("weekly: no in-scope cost data for %s: %w", period, domain.ErrFatal)
	}
	if totals := analysis.CurrencyTotals(points, period); len(totals) > 1 {
		for cur, amount := range totals {
			if cur != currency {
				logger.Warn("weekly: cost in a second currency left out of the report",
					"report_currency", currency, "currency", cur, "amount", amount.StringFixed(2))
			}
		}
	}
	points = analysis.InCurrency(points, currency)
	total, _ := analysis.PeriodTotal(points, period)
	length := period.End.Sub(period.Start)
	previous, _ := analysis.PeriodTotal(points, domain.DateRange{Start: period.Start.Add(-length), End: period.Start})

	rep := domain.AnalysisReport{
		RunID:             res.RunID,
		WeekKey:           res.WeekKey,
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		TotalCost:         total,
		PreviousTotalCost: previous,
		Currency:          currency,
		TopServices:       analysis.TopServices(points, period, r.opts.TopN),
	}

	var baselines []domain.BaselineRecord
	if f.AnomalyDetection {
		result := engine.Analyze(points, period, res.RunID, r.now().UTC())
		res.BaselineCount = len(result.Baselines)
		res.AnomalyCount = len(result.Anomalies)
		rep.Anomalies = result.Anomalies
		baselines = result.Baselines
	}

	if f.Forecasting {
		rep.Forecast = analysis.ForecastMonth(points, period.End)
	}

	if f.IncludeBudgets {
		budgets, err := r.store.LatestBudgets(ctx, period)
		if err != nil {
			logger.Warn("weekly: read budgets", "error", err)
		}
		rep.Budgets = budgets
	}

	if f.ChargebackAnalysis {
		records, err := r.store.CostRecords(ctx, period)
		if err != nil {
			logger.Warn("weekly: read cost records for chargeback", "error", err)
		} else {
			rep.Chargeback = analysis.Chargeback(recordsIn(records, currency), r.opts.ChargebackTags)
		}
	}

	if f.OptimizationRecommendations && f.IncludeAdvisor {
		recs, err := r.store.AdvisorRecords(ctx, period)
		if err != nil {
			logger.Warn("weekly: read advisor records", "error", err)
		}
		rep.Recommendations = analysis.TopRecommendations(recs, r.opts.TopN)
	}
	return rep, baselines, nil
}

func (r *Runner) narrativeInput(rep domain.AnalysisReport) narrative.Input {
	return narrative.Input{
		WeekKey:           rep.WeekKey,
		Period:            domain.DateRange{Start: rep.PeriodStart, End: rep.PeriodEnd},
		TotalCost:         rep.TotalCost,
		PreviousTotalCost: rep.PreviousTotalCost,
		Currency:          rep.Currency,
		TopServices:       rep.TopServices,
		Anomalies:         rep.Anomalies,
		Budgets:           rep.Budgets,
		Forecast:          rep.Forecast,
		Chargeback:        rep.Chargeback,
		Recommendations:   rep.Recommendations,
		Advanced:          r.opts.Features.AdvancedPrompting,
	}
}

// recordsIn keeps the cost records billed in currency.
func recordsIn(records []domain.CostRecord, currency string) []domain.CostRecord {
	out := make([]domain.CostRecord, 0, len(records))
	for _, c := range records {
		if c.Currency == currency {
			out = append(out, c)
		}
	}
	return out
}

// monthStart is the first day of the month holding the period's last day.
func monthStart(period domain.DateRange) time.Time {
	last := period.End.AddDate(0, 0, -1)
	return time.Date(last.Year(), last.Month(), 1, 0, 0, 0, 0, time.UTC)
}
