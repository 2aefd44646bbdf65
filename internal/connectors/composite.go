// Package connectors composes the individual billing connectors into the
// Source consumed by the collection orchestrator.
package connectors

import (
	"context"
	"log/slog"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/validator"
)

// Source is a read-only billing/usage source keyed by subscription and date range.
type Source interface {
	Fetch(ctx context.Context, ds domain.Dataset, subscriptionID string, window domain.DateRange) ([]map[string]any, error)
}

// TagResolver returns tags keyed by resource identifier.
type TagResolver interface {
	ResourceTags(ctx context.Context, resourceIDs []string) (map[string]map[string]string, error)
}

// TaggedSource attaches resource tags to cost records so chargeback can
// attribute them. Tag lookup is best effort: a failure is logged and the
// records pass through untagged.
type TaggedSource struct {
	Source
	tags   TagResolver
	logger *slog.Logger
}

// NewTaggedSource wraps src with tag enrichment.
func NewTaggedSource(src Source, tags TagResolver, logger *slog.Logger) *TaggedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaggedSource{Source: src, tags: tags, logger: logger}
}

// Fetch delegates to the wrapped source and enriches cost records.
func (s *TaggedSource) Fetch(ctx context.Context, ds domain.Dataset, subscriptionID string, window domain.DateRange) ([]map[string]any, error) {
	records, err := s.Source.Fetch(ctx, ds, subscriptionID, window)
	if err != nil || ds != domain.DatasetCost || len(records) == 0 {
		return records, err
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		if _, tagged := r[validator.FieldTags]; tagged {
			continue
		}
		if id, ok := r[validator.FieldResourceID].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return records, nil
	}

	byID, err := s.tags.ResourceTags(ctx, ids)
	if err != nil {
		s.logger.Warn("tag enrichment failed", "subscription", subscriptionID, "error", err)
		return records, nil
	}
	for _, r := range records {
		id, _ := r[validator.FieldResourceID].(string)
		if tags, ok := byID[id]; ok {
			if _, tagged := r[validator.FieldTags]; !tagged {
				r[validator.FieldTags] = tags
			}
		}
	}
	return records, nil
}
