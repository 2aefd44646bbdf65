// Package cloudwatch publishes job outcomes to CloudWatch, the operator
// monitoring channel alarms are built on.
package cloudwatch

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	awsconn "github.com/finops-claw-gang/costpipe/internal/connectors/aws"
)

// API is the subset of the CloudWatch client used by this package.
type API interface {
	PutMetricData(ctx context.Context, params *cw.PutMetricDataInput, optFns ...func(*cw.Options)) (*cw.PutMetricDataOutput, error)
}

// RunMetrics is the outcome of one job run.
type RunMetrics struct {
	Job       string // "collect" or "weekly"
	Status    string
	Counts    map[string]float64
	Timestamp time.Time
}

// Publisher writes run metrics to one namespace.
type Publisher struct {
	api       API
	namespace string
}

// New creates a Publisher from an AWS config.
func New(cfg aws.Config, namespace string) *Publisher {
	return NewFromAPI(cw.NewFromConfig(cfg), namespace)
}

// NewFromAPI creates a Publisher from an explicit API implementation (for testing).
func NewFromAPI(api API, namespace string) *Publisher {
	return &Publisher{api: api, namespace: namespace}
}

// PublishRun emits a Runs datum dimensioned by job and status, plus one datum
// per count dimensioned by job.
func (p *Publisher) PublishRun(ctx context.Context, m RunMetrics) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	job := cwtypes.Dimension{Name: aws.String("Job"), Value: aws.String(m.Job)}

	data := []cwtypes.MetricDatum{{
		MetricName: aws.String("Runs"),
		Dimensions: []cwtypes.Dimension{job, {Name: aws.String("Status"), Value: aws.String(m.Status)}},
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(ts),
	}}

	names := make([]string, 0, len(m.Counts))
	for name := range m.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: []cwtypes.Dimension{job},
			Value:      aws.Float64(m.Counts[name]),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(ts),
		})
	}

	_, err := p.api.PutMetricData(ctx, &cw.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	})
	if err != nil {
		return awsconn.ClassifyError("cloudwatch: put metric data", err)
	}
	return nil
}
