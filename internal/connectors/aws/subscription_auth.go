package aws

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SubscriptionPlaceholder is replaced by the subscription (linked account) ID
// in a role template such as "arn:aws:iam::{subscription}:role/CostpipeReader".
const SubscriptionPlaceholder = "{subscription}"

var roleARNRe = regexp.MustCompile(`^arn:aws:iam::\d{12}:role/.+$`)

// ValidateRoleARN checks that the ARN looks like a valid IAM role ARN.
func ValidateRoleARN(arn string) error {
	if !roleARNRe.MatchString(arn) {
		return fmt.Errorf("invalid IAM role ARN: %q", arn)
	}
	return nil
}

// IsRoleTemplate reports whether role contains the subscription placeholder.
func IsRoleTemplate(role string) bool {
	return strings.Contains(role, SubscriptionPlaceholder)
}

// RoleForSubscription expands a role template for one subscription.
func RoleForSubscription(template, subscriptionID string) (string, error) {
	arn := strings.ReplaceAll(template, SubscriptionPlaceholder, subscriptionID)
	if err := ValidateRoleARN(arn); err != nil {
		return "", err
	}
	return arn, nil
}

type cachedConfig struct {
	cfg       aws.Config
	expiresAt time.Time
}

// SubscriptionConfigProvider caches per-subscription assumed-role configs so
// the four dataset fetches of one subscription share an STS session.
// Sessions are refreshed 5 minutes before expiry.
type SubscriptionConfigProvider struct {
	base         aws.Config
	roleTemplate string

	mu    sync.RWMutex
	cache map[string]*cachedConfig

	sessionDuration time.Duration
	refreshBefore   time.Duration

	// now is injectable for testing.
	now func() time.Time
}

// NewSubscriptionConfigProvider creates a provider assuming roleTemplate
// (expanded per subscription) from the base config's credentials.
func NewSubscriptionConfigProvider(base aws.Config, roleTemplate string) *SubscriptionConfigProvider {
	return &SubscriptionConfigProvider{
		base:            base,
		roleTemplate:    roleTemplate,
		cache:           make(map[string]*cachedConfig),
		sessionDuration: time.Hour,
		refreshBefore:   5 * time.Minute,
		now:             time.Now,
	}
}

// ForSubscription returns a config whose credentials are assumed from the
// subscription's role. Results are cached and refreshed before expiry.
func (p *SubscriptionConfigProvider) ForSubscription(ctx context.Context, subscriptionID string) (aws.Config, error) {
	if !IsRoleTemplate(p.roleTemplate) {
		return p.base, nil
	}
	roleARN, err := RoleForSubscription(p.roleTemplate, subscriptionID)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws auth: subscription %s: %w", subscriptionID, err)
	}

	p.mu.RLock()
	if cached, ok := p.cache[roleARN]; ok && p.now().Before(cached.expiresAt.Add(-p.refreshBefore)) {
		cfg := cached.cfg
		p.mu.RUnlock()
		return cfg, nil
	}
	p.mu.RUnlock()

	cfg := p.base.Copy()
	stsClient := sts.NewFromConfig(p.base)
	cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, roleARN,
		func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "costpipe-" + subscriptionID
			o.Duration = p.sessionDuration
		},
	))

	p.mu.Lock()
	p.cache[roleARN] = &cachedConfig{cfg: cfg, expiresAt: p.now().Add(p.sessionDuration)}
	p.mu.Unlock()

	return cfg, nil
}
