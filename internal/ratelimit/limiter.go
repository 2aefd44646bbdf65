// Package ratelimit provides token-bucket limiters for the shared external APIs
// and a windowed call budget for expensive calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Service names accepted by ServiceLimiter.Wait.
const (
	ServiceBillingAPI    = "BillingAPI"
	ServiceTagging       = "Tagging"
	ServiceLanguageModel = "LanguageModel"
	ServiceMailRelay     = "MailRelay"
	ServiceCloudWatch    = "CloudWatch"
)

// ServiceRates configures per-service request rates (requests per second).
type ServiceRates struct {
	BillingAPI    float64
	Tagging       float64
	LanguageModel float64
	MailRelay     float64
	CloudWatch    float64
}

// DefaultServiceRates returns conservative rates. Cost Explorer allows roughly
// five requests per second per account; the others are shared SaaS quotas.
func DefaultServiceRates() ServiceRates {
	return ServiceRates{
		BillingAPI:    5,
		Tagging:       5,
		LanguageModel: 1,
		MailRelay:     1,
		CloudWatch:    20,
	}
}

// ServiceLimiter rate-limits outbound calls per service using token buckets.
// It is shared by every worker of a collection run.
type ServiceLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewServiceLimiter creates a limiter with the given per-service rates.
// A zero or negative rate leaves that service unlimited.
func NewServiceLimiter(rates ServiceRates) *ServiceLimiter {
	sl := &ServiceLimiter{limiters: make(map[string]*rate.Limiter)}
	sl.set(ServiceBillingAPI, rates.BillingAPI)
	sl.set(ServiceTagging, rates.Tagging)
	sl.set(ServiceLanguageModel, rates.LanguageModel)
	sl.set(ServiceMailRelay, rates.MailRelay)
	sl.set(ServiceCloudWatch, rates.CloudWatch)
	return sl
}

func (sl *ServiceLimiter) set(service string, rps float64) {
	if rps <= 0 {
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	sl.limiters[service] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until a token is available for the named service, or ctx is cancelled.
func (sl *ServiceLimiter) Wait(ctx context.Context, service string) error {
	sl.mu.RLock()
	limiter, ok := sl.limiters[service]
	sl.mu.RUnlock()
	if !ok {
		return nil // unknown service = no limit
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", service, err)
	}
	return nil
}
