// Package narrative writes the weekly report's prose sections with a language
// model, falling back to template text whenever the model cannot be used.
package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/observability"
	"github.com/finops-claw-gang/costpipe/internal/ratelimit"
	"github.com/finops-claw-gang/costpipe/internal/retry"
)

// UnavailableNotice is appended to fallback text.
const UnavailableNotice = "AI analysis was unavailable for this report."

// budgetCall names language-model calls in the per-week call budget.
const budgetCall = "narrative"

// Model is a chat-completion language model.
type Model interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Options configures a Builder.
type Options struct {
	// Budget caps model calls per report week; nil means unbounded.
	Budget *ratelimit.CallBudget
	// Retry wraps each model call; transient errors (429, 5xx) are retried.
	Retry *retry.Client
	// CallTimeout bounds one model call.
	CallTimeout time.Duration
	// MaxItems truncates each list in the prompt.
	MaxItems int
	Logger   *slog.Logger
}

// Builder produces a Narrative. It never fails: any model problem yields
// template sections and AIAvailable=false.
type Builder struct {
	model  Model
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil model always produces the template.
func NewBuilder(model Model, opts Options) *Builder {
	if opts.Retry == nil {
		opts.Retry = retry.New(retry.Policy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 3})
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 90 * time.Second
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{model: model, opts: opts, logger: logger}
}

// Build writes the narrative for in.
func (b *Builder) Build(ctx context.Context, in Input) domain.Narrative {
	ctx, span := observability.StartSpan(ctx, "narrative.build",
		attribute.String("week_key", in.WeekKey), attribute.Bool("advanced", in.Advanced))

	if b.model == nil {
		observability.EndSpan(span, nil)
		return Fallback(in, "language model not configured")
	}

	var (
		sections map[domain.NarrativeSection]string
		err      error
	)
	if in.Advanced {
		sections, err = b.staged(ctx, in)
	} else {
		sections, err = b.flat(ctx, in)
	}
	observability.EndSpan(span, err)
	if err != nil {
		b.logger.Warn("narrative: falling back to template", "week_key", in.WeekKey, "error", err)
		return Fallback(in, err.Error())
	}

	n := domain.Narrative{Sections: sections, AIAvailable: true, Model: b.model.Model()}
	tmpl := templateSections(in)
	for _, s := range domain.NarrativeSections {
		if strings.TrimSpace(n.Sections[s]) == "" {
			n.Sections[s] = tmpl[s]
		}
	}
	return n
}

func (b *Builder) flat(ctx context.Context, in Input) (map[domain.NarrativeSection]string, error) {
	system, user := flatPrompt(in, b.opts.MaxItems)
	return b.call(ctx, in.WeekKey, "narrative.complete", system, user)
}

// staged asks for findings, then for recommendations given those findings.
// A failed second step keeps the findings; recommendations come from the template.
func (b *Builder) staged(ctx context.Context, in Input) (map[domain.NarrativeSection]string, error) {
	system, user := findingsPrompt(in, b.opts.MaxItems)
	findings, err := b.call(ctx, in.WeekKey, "narrative.findings", system, user)
	if err != nil {
		return nil, err
	}
	out := map[domain.NarrativeSection]string{}
	for _, s := range findingSections {
		if text, ok := findings[s]; ok {
			out[s] = text
		}
	}
	if len(out) == 0 {
		return nil, ErrNoSections
	}

	system, user = recommendationsPrompt(in, out, b.opts.MaxItems)
	recs, err := b.call(ctx, in.WeekKey, "narrative.recommendations", system, user)
	if err != nil {
		b.logger.Warn("narrative: recommendations step failed", "week_key", in.WeekKey, "error", err)
		return out, nil
	}
	if text, ok := recs[domain.SectionRecommendations]; ok {
		out[domain.SectionRecommendations] = text
	}
	return out, nil
}

// call makes one budgeted, retried model call and parses the sections.
func (b *Builder) call(ctx context.Context, weekKey, op, system, user string) (map[domain.NarrativeSection]string, error) {
	text, err := retry.Do(ctx, b.opts.Retry, op, b.opts.CallTimeout, func(ctx context.Context) (string, error) {
		// Every attempt spends budget; an exhausted budget stops the retries.
		if err := b.opts.Budget.Take(weekKey, budgetCall); err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrSourceRejection, err)
		}
		return b.model.Complete(ctx, system, user)
	})
	if err != nil {
		return nil, fmt.Errorf("narrative: %s: %w", op, err)
	}
	sections, err := Parse(text)
	if err != nil {
		return nil, fmt.Errorf("narrative: %s: %w", op, err)
	}
	return sections, nil
}

// Fallback returns the template narrative with the unavailability notice.
func Fallback(in Input, cause string) domain.Narrative {
	sections := templateSections(in)
	sections[domain.SectionSummary] += " " + UnavailableNotice
	return domain.Narrative{Sections: sections, AIAvailable: false, Error: cause}
}

func templateSections(in Input) map[domain.NarrativeSection]string {
	out := make(map[domain.NarrativeSection]string, len(domain.NarrativeSections))

	out[domain.SectionSummary] = fmt.Sprintf("Total in-scope spend for %s was %s %s (%s versus the previous period).",
		in.WeekKey, money(in.TotalCost), in.Currency, change(in.TotalCost, in.PreviousTotalCost))

	if len(in.Anomalies) == 0 {
		out[domain.SectionAnomalies] = "No service deviated significantly from its baseline."
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "%d service(s) deviated from baseline:", len(in.Anomalies))
		for i, a := range in.Anomalies {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, " %s/%s %.2f vs %.2f (%+.1fσ, %s);", a.SubscriptionID, a.ServiceName,
				a.ObservedCost, a.BaselineMean, a.DeviationScore, a.Severity)
		}
		out[domain.SectionAnomalies] = strings.TrimSuffix(b.String(), ";") + "."
	}

	if len(in.Recommendations) == 0 {
		out[domain.SectionRecommendations] = "No optimization recommendations were reported."
	} else {
		var b strings.Builder
		b.WriteString("Largest reported savings:")
		for i, r := range in.Recommendations {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, " %s (%s, %s %s);", r.ResourceName, r.Category, money(r.EstimatedSavings), r.Currency)
		}
		out[domain.SectionRecommendations] = strings.TrimSuffix(b.String(), ";") + "."
	}

	if f := in.Forecast; f != nil {
		out[domain.SectionForecast] = fmt.Sprintf("Month-end spend is projected at %s %s (%s to date, %s per day over %d remaining days).",
			money(f.ProjectedTotal), f.Currency, money(f.MonthToDate), money(f.DailyRunRate), f.RemainingDays)
	} else {
		out[domain.SectionForecast] = "No forecast is available for this period."
	}
	return out
}

