package connectors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finops-claw-gang/costpipe/internal/config"
	awsconn "github.com/finops-claw-gang/costpipe/internal/connectors/aws"
	"github.com/finops-claw-gang/costpipe/internal/connectors/aws/cloudwatch"
	"github.com/finops-claw-gang/costpipe/internal/connectors/aws/costexplorer"
	"github.com/finops-claw-gang/costpipe/internal/connectors/aws/tagging"
	"github.com/finops-claw-gang/costpipe/internal/connectors/billingapi"
)

// Production holds the production connectors built from configuration.
type Production struct {
	Source    Source
	Publisher *cloudwatch.Publisher
}

// NewProduction builds the configured billing source and the CloudWatch
// publisher. When chargeback analysis is enabled on the Cost Explorer source,
// cost records are enriched with resource tags.
func NewProduction(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Production, error) {
	awsCfg, err := awsconn.NewAWSConfig(ctx, cfg.AWSRegion, cfg.AWSProfile, cfg.CrossAccountRole)
	if err != nil {
		return nil, err
	}
	p := &Production{Publisher: cloudwatch.New(awsCfg, cfg.CloudWatchNamespace)}

	switch cfg.BillingSource {
	case config.SourceREST:
		p.Source = billingapi.New(cfg.BillingEndpoint, cfg.BillingAPIKey)
	case config.SourceCostExplorer:
		var src Source
		if awsconn.IsRoleTemplate(cfg.CrossAccountRole) {
			src = costexplorer.NewPerSubscription(awsconn.NewSubscriptionConfigProvider(awsCfg, cfg.CrossAccountRole))
		} else {
			src = costexplorer.New(awsCfg)
		}
		if cfg.Features.ChargebackAnalysis {
			src = NewTaggedSource(src, tagging.New(awsCfg), logger)
		}
		p.Source = src
	default:
		return nil, fmt.Errorf("connectors: unknown billing source %q", cfg.BillingSource)
	}
	return p, nil
}
