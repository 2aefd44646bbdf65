// Package config provides the run configuration, read once at job start from a
// key/value Store (environment, optionally layered over a YAML file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/retry"
)

// Mode determines whether the worker uses stub fixtures or real connectors.
type Mode string

const (
	ModeStub       Mode = "stub"
	ModeProduction Mode = "production"
)

// BillingSource selects the billing/usage connector.
type BillingSource string

const (
	SourceCostExplorer BillingSource = "costexplorer"
	SourceREST         BillingSource = "rest"
)

// MaxRecipients bounds the report recipient list.
const MaxRecipients = 50

// Features are the per-run feature flags.
type Features struct {
	AdvancedPrompting           bool
	AnomalyDetection            bool
	ChargebackAnalysis          bool
	Forecasting                 bool
	OptimizationRecommendations bool
	IncludeReservations         bool
	IncludeBudgets              bool
	IncludeAdvisor              bool
}

// Config holds all application configuration. It is built once per run and
// passed explicitly to every component.
type Config struct {
	Mode        Mode
	FixturesDir string
	LogLevel    string
	OTelEnabled bool

	AWSRegion           string
	AWSProfile          string
	CrossAccountRole    string
	CloudWatchNamespace string

	BillingSource   BillingSource
	BillingEndpoint string
	BillingAPIKey   string
	Subscriptions   []string

	ExclusionToken string
	ExclusionMatch domain.MatchStrategy

	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryMaxAttempts   int
	RequestTimeout     time.Duration
	MaxRunDuration     time.Duration
	CollectConcurrency int

	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	LedgerDSN          string

	ArchiveEndpoint  string
	ArchiveBucket    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveUseSSL    bool

	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	OpenAIMaxTokens    int
	OpenAICallsPerWeek int

	MailRelayURL     string
	MailAPIKey       string
	MailFrom         string
	MailRecipients   []string
	MailSendAttempts int

	BaselineWeeks    int
	AnomalyThreshold float64
	MinSamples       int
	ChargebackTags   []string

	Queues          string
	TemporalAddress string

	Features Features
}

// LoadFromEnv reads configuration from environment variables. When
// COSTPIPE_CONFIG_FILE is set, the YAML file supplies values the environment
// does not.
func LoadFromEnv() (Config, error) {
	var store Store = EnvStore{}
	if path := os.Getenv("COSTPIPE_CONFIG_FILE"); path != "" {
		file, err := LoadFileStore(path)
		if err != nil {
			return Config{}, err
		}
		store = Layered{EnvStore{}, file}
	}
	return Load(store)
}

// Load builds and validates a Config from store.
func Load(store Store) (Config, error) {
	l := &loader{store: store}

	cfg := Config{
		Mode:        Mode(l.str("COSTPIPE_MODE", "stub")),
		FixturesDir: l.str("COSTPIPE_FIXTURES_DIR", ""),
		LogLevel:    l.str("COSTPIPE_LOG_LEVEL", "info"),
		OTelEnabled: l.boolean("COSTPIPE_OTEL_ENABLED", false),

		AWSRegion:           l.str("AWS_REGION", "us-east-1"),
		AWSProfile:          l.str("AWS_PROFILE", ""),
		CrossAccountRole:    l.str("COSTPIPE_CROSS_ACCOUNT_ROLE", ""),
		CloudWatchNamespace: l.str("COSTPIPE_CLOUDWATCH_NAMESPACE", "Costpipe"),

		BillingSource:   BillingSource(l.str("COSTPIPE_BILLING_SOURCE", string(SourceCostExplorer))),
		BillingEndpoint: l.str("COSTPIPE_BILLING_ENDPOINT", ""),
		BillingAPIKey:   l.str("COSTPIPE_BILLING_API_KEY", ""),
		Subscriptions:   l.list("COSTPIPE_SUBSCRIPTIONS"),

		ExclusionToken: l.str("COSTPIPE_EXCLUSION_TOKEN", "VD"),

		RetryBaseDelay:     l.duration("COSTPIPE_RETRY_BASE_DELAY", 2*time.Second),
		RetryMaxDelay:      l.duration("COSTPIPE_RETRY_MAX_DELAY", 60*time.Second),
		RetryMaxAttempts:   l.integer("COSTPIPE_RETRY_MAX_ATTEMPTS", 5),
		RequestTimeout:     l.duration("COSTPIPE_REQUEST_TIMEOUT", 30*time.Second),
		MaxRunDuration:     l.duration("COSTPIPE_MAX_RUN_DURATION", 2*time.Hour),
		CollectConcurrency: l.integer("COSTPIPE_COLLECT_CONCURRENCY", 4),

		ClickHouseAddr:     l.str("COSTPIPE_CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: l.str("COSTPIPE_CLICKHOUSE_DATABASE", "costpipe"),
		ClickHouseUser:     l.str("COSTPIPE_CLICKHOUSE_USER", "default"),
		ClickHousePassword: l.str("COSTPIPE_CLICKHOUSE_PASSWORD", ""),
		LedgerDSN:          l.str("COSTPIPE_LEDGER_DSN", ""),

		ArchiveEndpoint:  l.str("COSTPIPE_ARCHIVE_ENDPOINT", ""),
		ArchiveBucket:    l.str("COSTPIPE_ARCHIVE_BUCKET", "costpipe-reports"),
		ArchiveAccessKey: l.str("COSTPIPE_ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: l.str("COSTPIPE_ARCHIVE_SECRET_KEY", ""),
		ArchiveUseSSL:    l.boolean("COSTPIPE_ARCHIVE_USE_SSL", true),

		OpenAIAPIKey:       l.str("COSTPIPE_OPENAI_API_KEY", ""),
		OpenAIModel:        l.str("COSTPIPE_OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:      l.str("COSTPIPE_OPENAI_BASE_URL", ""),
		OpenAIMaxTokens:    l.integer("COSTPIPE_OPENAI_MAX_TOKENS", 2048),
		OpenAICallsPerWeek: l.integer("COSTPIPE_OPENAI_CALLS_PER_WEEK", 4),

		MailRelayURL:     l.str("COSTPIPE_MAIL_RELAY_URL", ""),
		MailAPIKey:       l.str("COSTPIPE_MAIL_API_KEY", ""),
		MailFrom:         l.str("COSTPIPE_MAIL_FROM", ""),
		MailRecipients:   l.list("COSTPIPE_MAIL_RECIPIENTS"),
		MailSendAttempts: l.integer("COSTPIPE_MAIL_SEND_ATTEMPTS", 2),

		BaselineWeeks:    l.integer("COSTPIPE_BASELINE_WEEKS", 8),
		AnomalyThreshold: l.float("COSTPIPE_ANOMALY_THRESHOLD", 2.0),
		MinSamples:       l.integer("COSTPIPE_MIN_SAMPLES", 3),
		ChargebackTags:   l.listOr("COSTPIPE_CHARGEBACK_TAGS", []string{"CostCenter", "Owner"}),

		Queues:          l.str("COSTPIPE_QUEUES", ""),
		TemporalAddress: l.str("TEMPORAL_ADDRESS", "localhost:7233"),

		Features: Features{
			AdvancedPrompting:           l.boolean("COSTPIPE_FEATURE_ADVANCED_PROMPTING", false),
			AnomalyDetection:            l.boolean("COSTPIPE_FEATURE_ANOMALY_DETECTION", true),
			ChargebackAnalysis:          l.boolean("COSTPIPE_FEATURE_CHARGEBACK", false),
			Forecasting:                 l.boolean("COSTPIPE_FEATURE_FORECASTING", true),
			OptimizationRecommendations: l.boolean("COSTPIPE_FEATURE_OPTIMIZATION", true),
			IncludeReservations:         l.boolean("COSTPIPE_FEATURE_RESERVATIONS", true),
			IncludeBudgets:              l.boolean("COSTPIPE_FEATURE_BUDGETS", true),
			IncludeAdvisor:              l.boolean("COSTPIPE_FEATURE_ADVISOR", true),
		},
	}
	match, err := domain.ParseMatchStrategy(l.str("COSTPIPE_EXCLUSION_MATCH", ""))
	if err != nil {
		return Config{}, fmt.Errorf("config: COSTPIPE_EXCLUSION_MATCH: %w", err)
	}
	cfg.ExclusionMatch = match

	if l.err != nil {
		return Config{}, l.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and production requirements.
func (c Config) Validate() error {
	if c.Mode != ModeStub && c.Mode != ModeProduction {
		return fmt.Errorf("config: invalid COSTPIPE_MODE %q (must be stub or production)", c.Mode)
	}
	if c.BillingSource != SourceCostExplorer && c.BillingSource != SourceREST {
		return fmt.Errorf("config: invalid COSTPIPE_BILLING_SOURCE %q (must be costexplorer or rest)", c.BillingSource)
	}
	switch {
	case c.RetryBaseDelay <= 0:
		return fmt.Errorf("config: COSTPIPE_RETRY_BASE_DELAY must be positive")
	case c.RetryMaxDelay < c.RetryBaseDelay:
		return fmt.Errorf("config: COSTPIPE_RETRY_MAX_DELAY must be at least the base delay")
	case c.RetryMaxAttempts < 1:
		return fmt.Errorf("config: COSTPIPE_RETRY_MAX_ATTEMPTS must be at least 1")
	case c.RequestTimeout <= 0:
		return fmt.Errorf("config: COSTPIPE_REQUEST_TIMEOUT must be positive")
	case c.MaxRunDuration < c.RequestTimeout:
		return fmt.Errorf("config: COSTPIPE_MAX_RUN_DURATION must cover at least one request")
	case c.CollectConcurrency < 1:
		return fmt.Errorf("config: COSTPIPE_COLLECT_CONCURRENCY must be at least 1")
	case c.MailSendAttempts < 1 || c.MailSendAttempts > 3:
		return fmt.Errorf("config: COSTPIPE_MAIL_SEND_ATTEMPTS must be between 1 and 3")
	case c.BaselineWeeks < 1:
		return fmt.Errorf("config: COSTPIPE_BASELINE_WEEKS must be at least 1")
	case c.AnomalyThreshold <= 0:
		return fmt.Errorf("config: COSTPIPE_ANOMALY_THRESHOLD must be positive")
	case c.MinSamples < 2:
		return fmt.Errorf("config: COSTPIPE_MIN_SAMPLES must be at least 2")
	case c.OpenAIMaxTokens < 1:
		return fmt.Errorf("config: COSTPIPE_OPENAI_MAX_TOKENS must be positive")
	case len(c.MailRecipients) > MaxRecipients:
		return fmt.Errorf("config: COSTPIPE_MAIL_RECIPIENTS has %d entries (max %d)", len(c.MailRecipients), MaxRecipients)
	}
	if strings.TrimSpace(c.ExclusionToken) == "" {
		return fmt.Errorf("config: COSTPIPE_EXCLUSION_TOKEN must not be blank")
	}

	if c.Mode == ModeProduction {
		if c.ClickHouseAddr == "" {
			return fmt.Errorf("config: COSTPIPE_CLICKHOUSE_ADDR required in production mode")
		}
		if c.LedgerDSN == "" {
			return fmt.Errorf("config: COSTPIPE_LEDGER_DSN required in production mode")
		}
		if c.MailRelayURL == "" {
			return fmt.Errorf("config: COSTPIPE_MAIL_RELAY_URL required in production mode")
		}
		if c.MailFrom == "" {
			return fmt.Errorf("config: COSTPIPE_MAIL_FROM required in production mode")
		}
		if len(c.MailRecipients) == 0 {
			return fmt.Errorf("config: COSTPIPE_MAIL_RECIPIENTS required in production mode")
		}
		if c.BillingSource == SourceREST && c.BillingEndpoint == "" {
			return fmt.Errorf("config: COSTPIPE_BILLING_ENDPOINT required for the rest billing source")
		}
	}
	return nil
}

// RetryPolicy returns the backoff policy for outbound billing calls.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.BaseDelay = c.RetryBaseDelay
	p.MaxDelay = c.RetryMaxDelay
	p.MaxAttempts = c.RetryMaxAttempts
	return p
}

// Datasets returns the datasets collected each day. Cost is always collected.
func (c Config) Datasets() []domain.Dataset {
	out := []domain.Dataset{domain.DatasetCost}
	if c.Features.IncludeReservations {
		out = append(out, domain.DatasetReservation)
	}
	if c.Features.IncludeBudgets {
		out = append(out, domain.DatasetBudget)
	}
	if c.Features.IncludeAdvisor {
		out = append(out, domain.DatasetAdvisor)
	}
	return out
}

// ArchiveEnabled reports whether rendered reports are archived to object storage.
func (c Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != "" && c.ArchiveBucket != ""
}

// AIEnabled reports whether a language-model key is configured.
func (c Config) AIEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// loader parses typed values and keeps the first parse error.
type loader struct {
	store Store
	err   error
}

func (l *loader) str(key, fallback string) string {
	if v, ok := l.store.Lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (l *loader) fail(key, raw string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
}

func (l *loader) boolean(key string, fallback bool) bool {
	raw, ok := l.store.Lookup(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return v
}

func (l *loader) integer(key string, fallback int) int {
	raw, ok := l.store.Lookup(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return v
}

func (l *loader) float(key string, fallback float64) float64 {
	raw, ok := l.store.Lookup(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return v
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := l.store.Lookup(key)
	if !ok {
		return fallback
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return v
}

func (l *loader) list(key string) []string {
	return l.listOr(key, nil)
}

func (l *loader) listOr(key string, fallback []string) []string {
	raw, ok := l.store.Lookup(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(item); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
