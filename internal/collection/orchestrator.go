// Package collection runs the daily collection job: every subscription ×
// dataset pair is fetched through the retrying client, classified, validated
// and written to the sink. A failing pair never stops the others.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/finops-claw-gang/costpipe/internal/classifier"
	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/observability"
	"github.com/finops-claw-gang/costpipe/internal/retry"
	"github.com/finops-claw-gang/costpipe/internal/validator"
)

// Source is a billing/usage data source keyed by subscription and date range.
type Source interface {
	Fetch(ctx context.Context, ds domain.Dataset, subscriptionID string, window domain.DateRange) ([]map[string]any, error)
}

// Sink accepts typed record batches. Writes are upserts keyed by each record's
// natural key, so concurrent writers need no ordering.
type Sink interface {
	WriteCost(ctx context.Context, records []domain.CostRecord) error
	WriteReservations(ctx context.Context, records []domain.ReservationRecord) error
	WriteBudgets(ctx context.Context, records []domain.BudgetRecord) error
	WriteAdvisor(ctx context.Context, records []domain.AdvisorRecord) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	Datasets       []domain.Dataset
	Concurrency    int
	RequestTimeout time.Duration
	MaxRunDuration time.Duration
	Classifier     *classifier.Classifier
	Validator      *validator.Validator
	Retry          *retry.Client
	Metrics        *observability.Metrics
	Logger         *slog.Logger
}

// Orchestrator runs collection.
type Orchestrator struct {
	source Source
	sink   Sink
	opts   Options
	now    func() time.Time
}

// New creates an Orchestrator.
func New(source Source, sink Sink, opts Options) *Orchestrator {
	if len(opts.Datasets) == 0 {
		opts.Datasets = domain.AllDatasets
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New("", "")
	}
	if opts.Validator == nil {
		opts.Validator = validator.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry == nil {
		opts.Retry = retry.New(retry.DefaultPolicy(), retry.WithLogger(opts.Logger))
	}
	return &Orchestrator{source: source, sink: sink, opts: opts, now: time.Now}
}

// Window returns the collection window for runDate: the previous full day.
func Window(runDate time.Time) domain.DateRange {
	end := domain.Day(runDate)
	return domain.DateRange{Start: end.AddDate(0, 0, -1), End: end}
}

// run is the mutable state of one collection run.
type run struct {
	stamp
	window   domain.DateRange
	tally    validator.Tally
	excluded atomic.Int64

	mu      sync.Mutex
	summary map[string]domain.SubscriptionSummary
}

func (r *run) record(sub string, ds domain.Dataset, res domain.DatasetResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary[sub]
	if s.Datasets == nil {
		s.Datasets = make(map[domain.Dataset]domain.DatasetResult)
	}
	s.Datasets[ds] = res
	r.summary[sub] = s
}

// RunCollection collects every configured dataset for every subscription.
// The returned summary is always populated; the error is non-nil only when
// the run produced no useful output, and then wraps domain.ErrFatal.
func (o *Orchestrator) RunCollection(ctx context.Context, subscriptionIDs []string, runDate time.Time) (domain.CollectionSummary, error) {
	started := o.now()
	r := &run{
		stamp:   stamp{runID: domain.NewRunID(), collectedAt: started.UTC()},
		window:  Window(runDate),
		summary: make(map[string]domain.SubscriptionSummary, len(subscriptionIDs)),
	}
	summary := domain.CollectionSummary{RunID: r.runID, RunDate: domain.Day(runDate), StartedAt: started}
	logger := o.opts.Logger.With("run_id", r.runID, "run_date", summary.RunDate.Format(domain.DateLayout))

	ctx, span := observability.StartSpan(ctx, "collection.run",
		attribute.String("run_id", r.runID), attribute.Int("subscriptions", len(subscriptionIDs)))
	var runErr error
	defer func() { observability.EndSpan(span, runErr) }()

	if o.opts.MaxRunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.MaxRunDuration)
		defer cancel()
	}

	finish := func(status domain.RunStatus) domain.CollectionSummary {
		summary.Status = status
		summary.Subscriptions = r.summary
		summary.Accepted = r.tally.Accepted()
		summary.Rejected = r.tally.Rejected()
		summary.Excluded = r.excluded.Load()
		summary.FinishedAt = o.now()
		o.opts.Metrics.RecordRun(ctx, "collection", string(status), summary.FinishedAt.Sub(started).Seconds())
		return summary
	}

	if len(subscriptionIDs) == 0 {
		runErr = fmt.Errorf("collection: no subscriptions configured: %w", domain.ErrFatal)
		logger.Error("collection aborted", "error", runErr)
		return finish(domain.RunFailed), runErr
	}
	if p, ok := o.sink.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			runErr = fmt.Errorf("collection: sink unreachable: %w", err)
			if !errors.Is(err, domain.ErrFatal) {
				runErr = fmt.Errorf("%w: %w", runErr, domain.ErrFatal)
			}
			logger.Error("collection aborted", "error", runErr)
			return finish(domain.RunFailed), runErr
		}
	}

	logger.Info("collection started", "subscriptions", len(subscriptionIDs),
		"datasets", len(o.opts.Datasets), "window", r.window.String())

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, sub := range subscriptionIDs {
		for _, ds := range o.opts.Datasets {
			g.Go(func() error {
				res := o.collectPair(ctx, r, sub, ds, logger)
				r.record(sub, ds, res)
				o.opts.Metrics.RecordDataset(ctx, string(ds), string(res.Status), res.Accepted, res.Rejected, res.Excluded)
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, s := range r.summary {
		summary.Succeeded += s.Count(domain.DatasetSucceeded)
		summary.Skipped += s.Count(domain.DatasetSkipped)
		summary.Failed += s.Count(domain.DatasetFailed)
	}
	status := runStatus(summary.Succeeded, summary.Skipped, summary.Failed)
	out := finish(status)

	attrs := []any{
		"status", status, "succeeded", out.Succeeded, "skipped", out.Skipped, "failed", out.Failed,
		"accepted", out.Accepted, "rejected", out.Rejected, "excluded", out.Excluded,
	}
	if status == domain.RunFailed {
		runErr = fmt.Errorf("collection: run %s: no dataset collected: %w", r.runID, domain.ErrFatal)
		logger.Error("collection failed", attrs...)
		return out, runErr
	}
	logger.Info("collection finished", attrs...)
	return out, nil
}

// runStatus derives the run outcome. A skip is a source-side rejection and
// does not count against success; the run fails only when nothing succeeded.
func runStatus(succeeded, skipped, failed int) domain.RunStatus {
	switch {
	case failed == 0 && skipped == 0:
		return domain.RunCompleted
	case failed == 0:
		return domain.RunCompletedWithSkips
	case succeeded > 0:
		return domain.RunPartialFailure
	}
	return domain.RunFailed
}

func (o *Orchestrator) collectPair(ctx context.Context, r *run, sub string, ds domain.Dataset, logger *slog.Logger) domain.DatasetResult {
	logger = logger.With("subscription", sub, "dataset", ds)
	op := fmt.Sprintf("fetch %s/%s", sub, ds)

	raws, err := retry.Do(ctx, o.opts.Retry, op, o.opts.RequestTimeout,
		func(actx context.Context) ([]map[string]any, error) {
			return o.source.Fetch(actx, ds, sub, r.window)
		})
	if err != nil {
		if domain.KindOf(err) == domain.KindSourceRejection {
			logger.Warn("dataset skipped", "error", err)
			return domain.DatasetResult{Status: domain.DatasetSkipped, Error: err.Error()}
		}
		logger.Error("dataset failed", "error", err)
		return domain.DatasetResult{Status: domain.DatasetFailed, Error: err.Error()}
	}

	res, err := o.store(ctx, r, sub, ds, raws)
	res.Fetched = len(raws)
	if err != nil {
		logger.Error("sink write failed", "error", err)
		res.Status = domain.DatasetFailed
		res.Error = err.Error()
		return res
	}
	res.Status = domain.DatasetSucceeded
	logger.Debug("dataset collected", "fetched", res.Fetched, "accepted", res.Accepted,
		"rejected", res.Rejected, "excluded", res.Excluded)
	return res
}

// accept validates one raw record, filling in the subscription when the
// source omits it. Every outcome is counted on the run tally.
func (o *Orchestrator) accept(r *run, sub string, ds domain.Dataset, raw map[string]any) (map[string]any, bool) {
	id, _ := raw[validator.FieldSubscriptionID].(string)
	switch {
	case id == "":
		cp := make(map[string]any, len(raw)+1)
		for k, val := range raw {
			cp[k] = val
		}
		cp[validator.FieldSubscriptionID] = sub
		raw = cp
	case id != sub:
		r.tally.Observe(&validator.Rejection{
			Dataset: ds, Field: validator.FieldSubscriptionID, Reason: validator.ReasonInvalid,
			Detail: fmt.Sprintf("record for %q in %q collection", id, sub),
		})
		return nil, false
	}
	clean, err := o.opts.Validator.Validate(ds, raw)
	r.tally.Observe(err)
	return clean, err == nil
}

func (o *Orchestrator) store(ctx context.Context, r *run, sub string, ds domain.Dataset, raws []map[string]any) (domain.DatasetResult, error) {
	var res domain.DatasetResult
	count := func(ok bool) bool {
		if ok {
			res.Accepted++
		} else {
			res.Rejected++
		}
		return ok
	}

	switch ds {
	case domain.DatasetCost:
		records := make([]domain.CostRecord, 0, len(raws))
		for _, raw := range raws {
			clean, ok := o.accept(r, sub, ds, raw)
			if !count(ok) {
				continue
			}
			rec := decodeCost(clean, r.stamp)
			rec.IsExcludedResource = o.opts.Classifier.IsExcluded(rec.ResourceName)
			if rec.IsExcludedResource {
				res.Excluded++
				r.excluded.Add(1)
			}
			records = append(records, rec)
		}
		return res, o.sink.WriteCost(ctx, records)

	case domain.DatasetReservation:
		records := make([]domain.ReservationRecord, 0, len(raws))
		for _, raw := range raws {
			if clean, ok := o.accept(r, sub, ds, raw); count(ok) {
				records = append(records, decodeReservation(clean, r.stamp))
			}
		}
		return res, o.sink.WriteReservations(ctx, records)

	case domain.DatasetBudget:
		records := make([]domain.BudgetRecord, 0, len(raws))
		for _, raw := range raws {
			if clean, ok := o.accept(r, sub, ds, raw); count(ok) {
				records = append(records, decodeBudget(clean, r.stamp))
			}
		}
		return res, o.sink.WriteBudgets(ctx, records)

	case domain.DatasetAdvisor:
		records := make([]domain.AdvisorRecord, 0, len(raws))
		for _, raw := range raws {
			if clean, ok := o.accept(r, sub, ds, raw); count(ok) {
				records = append(records, decodeAdvisor(clean, r.stamp))
			}
		}
		return res, o.sink.WriteAdvisor(ctx, records)
	}
	return res, fmt.Errorf("collection: unknown dataset %q", ds)
}
