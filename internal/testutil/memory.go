package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/ledger"
)

// MemorySink is an in-memory sink with the same upsert-by-natural-key
// semantics as the ClickHouse store.
type MemorySink struct {
	mu           sync.Mutex
	costs        map[string]domain.CostRecord
	reservations map[string]domain.ReservationRecord
	budgets      map[string]domain.BudgetRecord
	advisor      map[string]domain.AdvisorRecord
	baselines    map[string]domain.BaselineRecord
	anomalies    []domain.AnomalyFlag
	summaries    []domain.ReportSummary

	// WriteErr, when set, fails every write.
	WriteErr error
	// PingErr, when set, makes the sink unreachable.
	PingErr error
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		costs:        map[string]domain.CostRecord{},
		reservations: map[string]domain.ReservationRecord{},
		budgets:      map[string]domain.BudgetRecord{},
		advisor:      map[string]domain.AdvisorRecord{},
		baselines:    map[string]domain.BaselineRecord{},
	}
}

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += "|"
		}
		k += p
	}
	return k
}

func dayKey(t time.Time) string { return t.Format(domain.DateLayout) }

func (s *MemorySink) Ping(context.Context) error { return s.PingErr }

func (s *MemorySink) WriteCost(_ context.Context, records []domain.CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	for _, r := range records {
		r.CollectionDate = domain.Day(r.CollectionDate)
		s.costs[r.Key()] = r
	}
	return nil
}

func (s *MemorySink) WriteReservations(_ context.Context, records []domain.ReservationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	for _, r := range records {
		s.reservations[key(r.SubscriptionID, r.ReservationID, dayKey(r.CollectionDate))] = r
	}
	return nil
}

func (s *MemorySink) WriteBudgets(_ context.Context, records []domain.BudgetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	for _, r := range records {
		s.budgets[key(r.SubscriptionID, r.BudgetName, dayKey(r.CollectionDate))] = r
	}
	return nil
}

func (s *MemorySink) WriteAdvisor(_ context.Context, records []domain.AdvisorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	for _, r := range records {
		s.advisor[key(r.SubscriptionID, r.ResourceName, r.Category, dayKey(r.CollectionDate))] = r
	}
	return nil
}

func (s *MemorySink) WriteBaselines(_ context.Context, baselines []domain.BaselineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	for _, b := range baselines {
		s.baselines[key(b.SubscriptionID, b.ServiceName, dayKey(b.WindowStart), dayKey(b.WindowEnd))] = b
	}
	return nil
}

func (s *MemorySink) WriteAnomalies(_ context.Context, flags []domain.AnomalyFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.anomalies = append(s.anomalies, flags...)
	return nil
}

func (s *MemorySink) WriteReportSummary(_ context.Context, r domain.ReportSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.summaries = append(s.summaries, r)
	return nil
}

// DailyServiceCosts sums in-scope cost per subscription, service and day.
func (s *MemorySink) DailyServiceCosts(_ context.Context, r domain.DateRange) ([]domain.ServiceCost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := map[string]*domain.ServiceCost{}
	for _, c := range s.costs {
		if c.IsExcludedResource || !r.Contains(c.CollectionDate) {
			continue
		}
		k := key(c.SubscriptionID, c.ServiceName, dayKey(c.CollectionDate), c.Currency)
		sc, ok := totals[k]
		if !ok {
			sc = &domain.ServiceCost{
				SubscriptionID: c.SubscriptionID, ServiceName: c.ServiceName,
				Day: c.CollectionDate, Cost: decimal.Zero, Currency: c.Currency,
			}
			totals[k] = sc
		}
		sc.Cost = sc.Cost.Add(c.Cost)
	}
	out := make([]domain.ServiceCost, 0, len(totals))
	for _, sc := range totals {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SubscriptionID != b.SubscriptionID {
			return a.SubscriptionID < b.SubscriptionID
		}
		if a.ServiceName != b.ServiceName {
			return a.ServiceName < b.ServiceName
		}
		if !a.Day.Equal(b.Day) {
			return a.Day.Before(b.Day)
		}
		return a.Currency < b.Currency
	})
	return out, nil
}

// CostRecords returns every stored cost record within r.
func (s *MemorySink) CostRecords(_ context.Context, r domain.DateRange) ([]domain.CostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CostRecord
	for _, c := range s.costs {
		if r.Contains(c.CollectionDate) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// LatestBudgets returns the newest row per budget within r.
func (s *MemorySink) LatestBudgets(_ context.Context, r domain.DateRange) ([]domain.BudgetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := map[string]domain.BudgetRecord{}
	for _, b := range s.budgets {
		if !r.Contains(b.CollectionDate) {
			continue
		}
		k := key(b.SubscriptionID, b.BudgetName)
		if cur, ok := latest[k]; !ok || b.CollectionDate.After(cur.CollectionDate) {
			latest[k] = b
		}
	}
	out := make([]domain.BudgetRecord, 0, len(latest))
	for _, b := range latest {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return key(out[i].SubscriptionID, out[i].BudgetName) < key(out[j].SubscriptionID, out[j].BudgetName)
	})
	return out, nil
}

// AdvisorRecords returns the newest recommendation per resource and category
// within r, largest savings first.
func (s *MemorySink) AdvisorRecords(_ context.Context, r domain.DateRange) ([]domain.AdvisorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := map[string]domain.AdvisorRecord{}
	for _, a := range s.advisor {
		if !r.Contains(a.CollectionDate) {
			continue
		}
		k := key(a.SubscriptionID, a.ResourceName, a.Category)
		if cur, ok := latest[k]; !ok || a.CollectionDate.After(cur.CollectionDate) {
			latest[k] = a
		}
	}
	out := make([]domain.AdvisorRecord, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EstimatedSavings.GreaterThan(out[j].EstimatedSavings) })
	return out, nil
}

// ReportSummaries returns the summaries written for weekKey.
func (s *MemorySink) ReportSummaries(_ context.Context, weekKey string) ([]domain.ReportSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ReportSummary
	for _, r := range s.summaries {
		if r.WeekKey == weekKey {
			out = append(out, r)
		}
	}
	return out, nil
}

// Costs returns a snapshot of every stored cost record.
func (s *MemorySink) Costs() []domain.CostRecord {
	recs, _ := s.CostRecords(context.Background(), domain.DateRange{End: time.Unix(1<<40, 0)})
	return recs
}

// Counts returns how many rows each dataset table holds.
func (s *MemorySink) Counts() map[domain.Dataset]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[domain.Dataset]int{
		domain.DatasetCost:        len(s.costs),
		domain.DatasetReservation: len(s.reservations),
		domain.DatasetBudget:      len(s.budgets),
		domain.DatasetAdvisor:     len(s.advisor),
	}
}

// Baselines returns the stored baselines.
func (s *MemorySink) Baselines() []domain.BaselineRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BaselineRecord, 0, len(s.baselines))
	for _, b := range s.baselines {
		out = append(out, b)
	}
	return out
}

// Anomalies returns every stored anomaly flag.
func (s *MemorySink) Anomalies() []domain.AnomalyFlag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AnomalyFlag(nil), s.anomalies...)
}

// MemoryLedger is an in-memory dispatch ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]ledger.Entry
	Lease   time.Duration
	Now     func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: map[string]ledger.Entry{}, Lease: ledger.DefaultLease, Now: time.Now}
}

// WithLease sets how long an unsettled claim blocks other runs.
func (l *MemoryLedger) WithLease(d time.Duration) *MemoryLedger {
	l.Lease = d
	return l
}

func (l *MemoryLedger) Claim(_ context.Context, weekKey, runID string) (ledger.Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now()
	if cur, ok := l.entries[weekKey]; ok && !ledger.Reclaimable(cur, now, l.Lease) {
		return ledger.Claim{Holder: cur}, nil
	}
	l.entries[weekKey] = ledger.Entry{
		WeekKey: weekKey, RunID: runID, Status: ledger.StatusSending, ClaimedAt: now, UpdatedAt: now,
	}
	return ledger.Claim{Acquired: true}, nil
}

func (l *MemoryLedger) settle(weekKey, runID string, apply func(*ledger.Entry)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.entries[weekKey]
	if !ok || cur.RunID != runID || cur.Status != ledger.StatusSending {
		return ledger.ErrLostClaim
	}
	apply(&cur)
	cur.UpdatedAt = l.Now()
	l.entries[weekKey] = cur
	return nil
}

func (l *MemoryLedger) MarkSent(_ context.Context, weekKey, runID, messageID string) error {
	return l.settle(weekKey, runID, func(e *ledger.Entry) {
		e.Status = ledger.StatusSent
		e.MessageID = messageID
	})
}

func (l *MemoryLedger) MarkFailed(_ context.Context, weekKey, runID, cause string) error {
	return l.settle(weekKey, runID, func(e *ledger.Entry) {
		e.Status = ledger.StatusFailed
		e.Error = cause
	})
}

func (l *MemoryLedger) Get(_ context.Context, weekKey string) (ledger.Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[weekKey]
	return e, ok, nil
}
