// Package costexplorer serves the daily billing datasets from the AWS Cost
// Explorer API. Subscriptions are linked account IDs.
package costexplorer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	awsconn "github.com/finops-claw-gang/costpipe/internal/connectors/aws"
	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// API is the subset of the Cost Explorer client used by this package.
type API interface {
	GetCostAndUsageWithResources(ctx context.Context, params *ce.GetCostAndUsageWithResourcesInput, optFns ...func(*ce.Options)) (*ce.GetCostAndUsageWithResourcesOutput, error)
	GetReservationUtilization(ctx context.Context, params *ce.GetReservationUtilizationInput, optFns ...func(*ce.Options)) (*ce.GetReservationUtilizationOutput, error)
	GetRightsizingRecommendation(ctx context.Context, params *ce.GetRightsizingRecommendationInput, optFns ...func(*ce.Options)) (*ce.GetRightsizingRecommendationOutput, error)
}

// Source fetches billing datasets from Cost Explorer.
type Source struct {
	resolve func(ctx context.Context, subscriptionID string) (API, error)
}

// New creates a Source from an AWS config.
func New(cfg aws.Config) *Source {
	api := ce.NewFromConfig(cfg)
	return NewFromAPI(api)
}

// NewPerSubscription creates a Source that assumes each subscription's role.
func NewPerSubscription(provider *awsconn.SubscriptionConfigProvider) *Source {
	return &Source{resolve: func(ctx context.Context, sub string) (API, error) {
		cfg, err := provider.ForSubscription(ctx, sub)
		if err != nil {
			return nil, err
		}
		return ce.NewFromConfig(cfg), nil
	}}
}

// NewFromAPI creates a Source from an explicit API implementation (for testing).
func NewFromAPI(api API) *Source {
	return &Source{resolve: func(context.Context, string) (API, error) { return api, nil }}
}

// Fetch returns the raw records of dataset ds for one subscription over window.
// Budgets are served by the AWS Budgets API, not Cost Explorer, and are
// reported as a source rejection.
func (s *Source) Fetch(ctx context.Context, ds domain.Dataset, subscriptionID string, window domain.DateRange) ([]map[string]any, error) {
	if ds == domain.DatasetBudget {
		return nil, domain.NewSourceError("costexplorer: budget", 0, "UnsupportedDataset",
			fmt.Errorf("budgets are not available from cost explorer"))
	}
	api, err := s.resolve(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("costexplorer: resolve %s: %w", subscriptionID, err)
	}

	switch ds {
	case domain.DatasetCost:
		return s.costByResource(ctx, api, subscriptionID, window)
	case domain.DatasetReservation:
		return s.reservationUtilization(ctx, api, subscriptionID, window)
	case domain.DatasetAdvisor:
		return s.rightsizing(ctx, api, subscriptionID, window)
	}
	return nil, fmt.Errorf("costexplorer: unknown dataset %q", ds)
}

func linkedAccount(subscriptionID string) *cetypes.Expression {
	return &cetypes.Expression{
		Dimensions: &cetypes.DimensionValues{
			Key:    cetypes.DimensionLinkedAccount,
			Values: []string{subscriptionID},
		},
	}
}

func interval(w domain.DateRange) *cetypes.DateInterval {
	return &cetypes.DateInterval{
		Start: aws.String(w.Start.Format(domain.DateLayout)),
		End:   aws.String(w.End.Format(domain.DateLayout)),
	}
}

func (s *Source) costByResource(ctx context.Context, api API, sub string, w domain.DateRange) ([]map[string]any, error) {
	input := &ce.GetCostAndUsageWithResourcesInput{
		TimePeriod:  interval(w),
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{costMetric},
		Filter:      linkedAccount(sub),
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("RESOURCE_ID")},
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	}

	var records []map[string]any
	for {
		out, err := api.GetCostAndUsageWithResources(ctx, input)
		if err != nil {
			return nil, awsconn.ClassifyError("costexplorer: cost", err)
		}
		records = append(records, transformCostByResource(sub, out.ResultsByTime)...)
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			return records, nil
		}
		input.NextPageToken = out.NextPageToken
	}
}

func (s *Source) reservationUtilization(ctx context.Context, api API, sub string, w domain.DateRange) ([]map[string]any, error) {
	input := &ce.GetReservationUtilizationInput{
		TimePeriod:  interval(w),
		Granularity: cetypes.GranularityDaily,
		Filter:      linkedAccount(sub),
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SUBSCRIPTION_ID")},
		},
	}

	var records []map[string]any
	for {
		out, err := api.GetReservationUtilization(ctx, input)
		if err != nil {
			return nil, awsconn.ClassifyError("costexplorer: reservation", err)
		}
		records = append(records, transformReservationUtilization(sub, out.UtilizationsByTime)...)
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			return records, nil
		}
		input.NextPageToken = out.NextPageToken
	}
}

func (s *Source) rightsizing(ctx context.Context, api API, sub string, w domain.DateRange) ([]map[string]any, error) {
	input := &ce.GetRightsizingRecommendationInput{
		Service: aws.String("AmazonEC2"),
		Filter:  linkedAccount(sub),
	}

	// Recommendations are a point-in-time snapshot; they are stamped with the
	// last day of the window.
	asOf := w.End.AddDate(0, 0, -1)
	var records []map[string]any
	for {
		out, err := api.GetRightsizingRecommendation(ctx, input)
		if err != nil {
			return nil, awsconn.ClassifyError("costexplorer: advisor", err)
		}
		records = append(records, transformRightsizing(sub, asOf, out.RightsizingRecommendations)...)
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			return records, nil
		}
		input.NextPageToken = out.NextPageToken
	}
}
