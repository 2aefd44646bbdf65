// Package app assembles the collection and weekly jobs from configuration.
// The worker and the CLI's direct mode share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finops-claw-gang/costpipe/internal/analysis"
	"github.com/finops-claw-gang/costpipe/internal/archive"
	"github.com/finops-claw-gang/costpipe/internal/classifier"
	"github.com/finops-claw-gang/costpipe/internal/collection"
	"github.com/finops-claw-gang/costpipe/internal/config"
	"github.com/finops-claw-gang/costpipe/internal/connectors"
	"github.com/finops-claw-gang/costpipe/internal/connectors/mailrelay"
	"github.com/finops-claw-gang/costpipe/internal/connectors/openai"
	"github.com/finops-claw-gang/costpipe/internal/ledger"
	"github.com/finops-claw-gang/costpipe/internal/ledger/postgres"
	"github.com/finops-claw-gang/costpipe/internal/narrative"
	"github.com/finops-claw-gang/costpipe/internal/observability"
	"github.com/finops-claw-gang/costpipe/internal/ratelimit"
	"github.com/finops-claw-gang/costpipe/internal/report"
	"github.com/finops-claw-gang/costpipe/internal/retry"
	"github.com/finops-claw-gang/costpipe/internal/sink/clickhouse"
	"github.com/finops-claw-gang/costpipe/internal/temporal/activities"
	"github.com/finops-claw-gang/costpipe/internal/testutil"
	"github.com/finops-claw-gang/costpipe/internal/validator"
	"github.com/finops-claw-gang/costpipe/internal/weekly"
)

// Store is everything both jobs need from the sink.
type Store interface {
	collection.Sink
	weekly.Store
	Ping(ctx context.Context) error
}

// Deps are the external collaborators. Build fills them from configuration;
// tests set them directly.
type Deps struct {
	Source    collection.Source
	Store     Store
	Ledger    weekly.Ledger
	Model     narrative.Model
	Mailer    report.Mailer
	Archive   weekly.Archive
	Publisher activities.Publisher
	closers   []func() error
}

// App holds the assembled jobs.
type App struct {
	Collector *collection.Orchestrator
	Weekly    *weekly.Runner
	Deps      Deps
	Config    config.Config
}

// Build connects to the configured collaborators. In stub mode every
// collaborator is an in-memory fake seeded from fixtures.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	var (
		deps Deps
		err  error
	)
	switch cfg.Mode {
	case config.ModeProduction:
		deps, err = productionDeps(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		deps = StubDeps(cfg)
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	return Assemble(cfg, deps, metrics, logger)
}

// StubDeps returns fixture-backed collaborators.
func StubDeps(cfg config.Config) Deps {
	dir := cfg.FixturesDir
	if dir == "" {
		dir = testutil.FixturesDir()
	}
	return Deps{
		Source:  &testutil.FixtureSource{Dir: dir},
		Store:   testutil.NewMemorySink(),
		Ledger:  testutil.NewMemoryLedger().WithLease(ledger.LeaseFor(cfg.MaxRunDuration)),
		Model:   testutil.NewScriptedModel(testutil.CannedNarrative),
		Mailer:  &testutil.RecordingMailer{},
		Archive: &testutil.MemoryArchive{},
	}
}

func productionDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (Deps, error) {
	var deps Deps

	prod, err := connectors.NewProduction(ctx, cfg, logger)
	if err != nil {
		return deps, fmt.Errorf("app: connectors: %w", err)
	}
	deps.Source = prod.Source
	deps.Publisher = prod.Publisher

	store, err := clickhouse.Open(ctx, clickhouse.Config{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDatabase,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
	})
	if err != nil {
		return deps, err
	}
	deps.closers = append(deps.closers, store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		deps.Close()
		return deps, err
	}
	deps.Store = store

	l, err := postgres.Open(ctx, cfg.LedgerDSN, ledger.LeaseFor(cfg.MaxRunDuration))
	if err != nil {
		deps.Close()
		return deps, err
	}
	if err := l.EnsureSchema(ctx); err != nil {
		deps.Close()
		return deps, err
	}
	deps.closers = append(deps.closers, l.Close)
	deps.Ledger = l

	if cfg.ArchiveEnabled() {
		a, err := archive.New(ctx, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			Bucket:    cfg.ArchiveBucket,
			Region:    cfg.AWSRegion,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			// The archive is best effort; reports still go out without it.
			logger.Warn("report archive disabled", "error", err)
		} else {
			deps.Archive = a
		}
	}
	if cfg.AIEnabled() {
		deps.Model = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.OpenAIMaxTokens)
	}
	deps.Mailer = mailrelay.New(cfg.MailRelayURL, cfg.MailAPIKey, cfg.MailFrom)
	return deps, nil
}

// Close releases connections opened by Build.
func (d Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// Assemble wires the jobs over deps.
func Assemble(cfg config.Config, deps Deps, metrics *observability.Metrics, logger *slog.Logger) (*App, error) {
	limiter := ratelimit.NewServiceLimiter(ratelimit.DefaultServiceRates())

	collector := collection.New(deps.Source, deps.Store, collection.Options{
		Datasets:       cfg.Datasets(),
		Concurrency:    cfg.CollectConcurrency,
		RequestTimeout: cfg.RequestTimeout,
		MaxRunDuration: cfg.MaxRunDuration,
		Classifier:     classifier.New(cfg.ExclusionToken, cfg.ExclusionMatch),
		Validator:      validator.New(),
		Retry: retry.New(cfg.RetryPolicy(),
			retry.WithLogger(logger),
			retry.WithLimiter(limiter, ratelimit.ServiceBillingAPI),
			retry.WithObserver(attemptObserver(metrics)),
		),
		Metrics: metrics,
		Logger:  observability.Component(logger, "collection"),
	})

	narrator := narrative.NewBuilder(deps.Model, narrative.Options{
		Budget: ratelimit.NewCallBudget(cfg.OpenAICallsPerWeek, 7*24*time.Hour),
		Retry: retry.New(retry.Policy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 3, Jitter: 0.2},
			retry.WithLogger(logger),
			retry.WithLimiter(limiter, ratelimit.ServiceLanguageModel),
			retry.WithObserver(attemptObserver(metrics)),
		),
		Logger: observability.Component(logger, "narrative"),
	})

	composer, err := report.NewComposer()
	if err != nil {
		return nil, err
	}
	dispatcher, err := report.NewDispatcher(deps.Mailer, report.DispatcherOptions{
		Recipients: cfg.MailRecipients,
		Attempts:   cfg.MailSendAttempts,
		Limiter:    limiter,
		Logger:     observability.Component(logger, "dispatch"),
	})
	if err != nil {
		return nil, err
	}

	settleRetry := retry.New(retry.Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5},
		retry.WithLogger(logger),
		retry.WithObserver(attemptObserver(metrics)),
	)
	runner := weekly.New(deps.Store, deps.Ledger, narrator, composer, dispatcher, weekly.Options{
		Engine:         analysis.NewEngine(cfg.BaselineWeeks, cfg.AnomalyThreshold, cfg.MinSamples),
		Features:       cfg.Features,
		ChargebackTags: cfg.ChargebackTags,
		MaxRunDuration: cfg.MaxRunDuration,
		Archive:        deps.Archive,
		SettleRetry:    settleRetry,
		Metrics:        metrics,
		Logger:         observability.Component(logger, "weekly"),
	})

	return &App{Collector: collector, Weekly: runner, Deps: deps, Config: cfg}, nil
}

// attemptObserver counts retry attempts per operation.
func attemptObserver(m *observability.Metrics) retry.Observer {
	return func(op string, _ int, err error) {
		m.RecordAttempt(context.Background(), op, err != nil)
	}
}

// Activities returns the Temporal activities over the assembled jobs.
func (a *App) Activities() *activities.Activities {
	acts := &activities.Activities{
		Collector:     a.Collector,
		Analyzer:      a.Weekly,
		Subscriptions: a.Config.Subscriptions,
	}
	if a.Deps.Publisher != nil {
		acts.Publisher = a.Deps.Publisher
	}
	return acts
}
