// Package aws provides shared AWS configuration, per-subscription role
// assumption and error classification for the AWS connectors.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// NewAWSConfig creates an aws.Config with the given region, optional profile,
// and optional cross-account role ARN. SDK-level retries are disabled; the
// pipeline's own retry client owns backoff so attempts are counted once.
func NewAWSConfig(ctx context.Context, region, profile, roleARN string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws auth: load config: %w", err)
	}

	if roleARN != "" && !IsRoleTemplate(roleARN) {
		cfg.Credentials = assumeRole(cfg, roleARN)
	}

	return cfg, nil
}

// RoleSessionName identifies pipeline sessions in CloudTrail.
const RoleSessionName = "costpipe-collector"

// assumeRole returns cached credentials for roleARN obtained with base's
// credentials.
func assumeRole(base aws.Config, roleARN string) aws.CredentialsProvider {
	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = RoleSessionName
	})
	return aws.NewCredentialsCache(provider)
}
