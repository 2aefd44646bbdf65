package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finops-claw-gang/costpipe/internal/connectors/mailrelay"
	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/ratelimit"
	"github.com/finops-claw-gang/costpipe/internal/retry"
)

// MaxRecipients bounds one report's recipient list.
const MaxRecipients = 50

// MaxSendAttempts bounds delivery attempts of one report.
const MaxSendAttempts = 3

// Mailer delivers one HTML message.
type Mailer interface {
	Send(ctx context.Context, msg mailrelay.Message) (string, error)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Recipients []string
	// Attempts is clamped to [1, MaxSendAttempts].
	Attempts int
	// RetryDelay is the wait before the second attempt; it doubles afterwards.
	RetryDelay  time.Duration
	SendTimeout time.Duration
	Sleeper     retry.Sleeper
	Limiter     retry.Limiter
	Logger      *slog.Logger
}

// Dispatcher sends rendered reports. Only transient relay errors are retried,
// and every attempt for a week carries the same idempotency key.
type Dispatcher struct {
	mailer     Mailer
	recipients []string
	retry      *retry.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewDispatcher validates the recipient list and creates a Dispatcher.
func NewDispatcher(mailer Mailer, opts DispatcherOptions) (*Dispatcher, error) {
	recipients := normalizeRecipients(opts.Recipients)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("report: no recipients configured: %w", domain.ErrFatal)
	}
	if len(recipients) > MaxRecipients {
		return nil, fmt.Errorf("report: %d recipients exceeds limit of %d: %w", len(recipients), MaxRecipients, domain.ErrFatal)
	}

	attempts := min(max(opts.Attempts, 1), MaxSendAttempts)
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 10 * time.Second
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ropts := []retry.Option{retry.WithLogger(logger)}
	if opts.Sleeper != nil {
		ropts = append(ropts, retry.WithSleeper(opts.Sleeper))
	}
	if opts.Limiter != nil {
		ropts = append(ropts, retry.WithLimiter(opts.Limiter, ratelimit.ServiceMailRelay))
	}
	policy := retry.Policy{BaseDelay: delay, MaxDelay: 4 * delay, MaxAttempts: attempts}

	return &Dispatcher{
		mailer:     mailer,
		recipients: recipients,
		retry:      retry.New(policy, ropts...),
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Recipients returns the normalized recipient list.
func (d *Dispatcher) Recipients() []string {
	return append([]string(nil), d.recipients...)
}

// IdempotencyKey identifies the one report allowed per week.
func IdempotencyKey(weekKey string) string {
	return "costpipe-weekly-" + weekKey
}

// Send delivers r for weekKey and returns the relay message ID. A delivery
// failure after the bounded attempts is fatal; the report is never regenerated.
func (d *Dispatcher) Send(ctx context.Context, weekKey string, r Rendered) (string, error) {
	msg := mailrelay.Message{
		Subject:        r.Subject,
		HTMLBody:       string(r.HTML),
		Recipients:     d.recipients,
		IdempotencyKey: IdempotencyKey(weekKey),
	}
	id, err := retry.Do(ctx, d.retry, "mailrelay.send", d.timeout, func(ctx context.Context) (string, error) {
		return d.mailer.Send(ctx, msg)
	})
	if err != nil {
		d.logger.Error("report delivery failed", "week_key", weekKey, "recipients", len(d.recipients), "error", err)
		return "", fmt.Errorf("report: deliver %s: %w: %w", weekKey, domain.ErrFatal, err)
	}
	d.logger.Info("report delivered", "week_key", weekKey, "message_id", id, "recipients", len(d.recipients))
	return id, nil
}

// normalizeRecipients trims, drops blanks and removes case-insensitive duplicates.
func normalizeRecipients(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, r := range in {
		r = strings.TrimSpace(r)
		k := strings.ToLower(r)
		if r == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
