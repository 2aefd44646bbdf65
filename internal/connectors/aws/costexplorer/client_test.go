package costexplorer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/validator"
)

type mockCEAPI struct {
	costPages  []*ce.GetCostAndUsageWithResourcesOutput
	costInputs []*ce.GetCostAndUsageWithResourcesInput
	riOut      *ce.GetReservationUtilizationOutput
	rightsOut  *ce.GetRightsizingRecommendationOutput
	costErr    error
	riErr      error
	rightsErr  error
}

func (m *mockCEAPI) GetCostAndUsageWithResources(_ context.Context, in *ce.GetCostAndUsageWithResourcesInput, _ ...func(*ce.Options)) (*ce.GetCostAndUsageWithResourcesOutput, error) {
	if m.costErr != nil {
		return nil, m.costErr
	}
	cp := *in
	m.costInputs = append(m.costInputs, &cp)
	page := m.costPages[0]
	m.costPages = m.costPages[1:]
	return page, nil
}

func (m *mockCEAPI) GetReservationUtilization(_ context.Context, _ *ce.GetReservationUtilizationInput, _ ...func(*ce.Options)) (*ce.GetReservationUtilizationOutput, error) {
	return m.riOut, m.riErr
}

func (m *mockCEAPI) GetRightsizingRecommendation(_ context.Context, _ *ce.GetRightsizingRecommendationInput, _ ...func(*ce.Options)) (*ce.GetRightsizingRecommendationOutput, error) {
	return m.rightsOut, m.rightsErr
}

var window = domain.DateRange{
	Start: time.Date(2025, 7, 23, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 7, 24, 0, 0, 0, 0, time.UTC),
}

func costGroup(resource, service, amount string) cetypes.Group {
	return cetypes.Group{
		Keys: []string{resource, service},
		Metrics: map[string]cetypes.MetricValue{
			"UnblendedCost": {Amount: aws.String(amount), Unit: aws.String("USD")},
		},
	}
}

func TestFetch_CostPaginates(t *testing.T) {
	mock := &mockCEAPI{costPages: []*ce.GetCostAndUsageWithResourcesOutput{
		{
			ResultsByTime: []cetypes.ResultByTime{{
				TimePeriod: &cetypes.DateInterval{Start: aws.String("2025-07-23"), End: aws.String("2025-07-24")},
				Groups: []cetypes.Group{
					costGroup("arn:aws:ec2:us-east-1:123456789012:instance/i-0abc", "Amazon Elastic Compute Cloud - Compute", "12.50"),
				},
			}},
			NextPageToken: aws.String("page-2"),
		},
		{
			ResultsByTime: []cetypes.ResultByTime{{
				TimePeriod: &cetypes.DateInterval{Start: aws.String("2025-07-23"), End: aws.String("2025-07-24")},
				Groups: []cetypes.Group{
					costGroup("NoResourceId", "AWS Support (Business)", "3.10"),
				},
			}},
		},
	}}

	recs, err := NewFromAPI(mock).Fetch(context.Background(), domain.DatasetCost, "123456789012", window)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Len(t, mock.costInputs, 2)
	assert.Equal(t, "page-2", aws.ToString(mock.costInputs[1].NextPageToken))

	assert.Equal(t, "i-0abc", recs[0][validator.FieldResourceName])
	assert.Equal(t, "us-east-1", recs[0][validator.FieldLocation])
	assert.Equal(t, "12.50", recs[0][validator.FieldCost])
	assert.Equal(t, "2025-07-23", recs[0][validator.FieldDate])
	assert.Equal(t, "AWS Support (Business)", recs[1][validator.FieldResourceName])
	assert.Equal(t, "", recs[1][validator.FieldResourceID])

	// Raw records pass the validator unchanged in meaning.
	_, err = validator.New().Validate(domain.DatasetCost, recs[0])
	assert.NoError(t, err)
}

func TestFetch_BudgetIsSourceRejection(t *testing.T) {
	_, err := NewFromAPI(&mockCEAPI{}).Fetch(context.Background(), domain.DatasetBudget, "123456789012", window)
	require.Error(t, err)
	assert.Equal(t, domain.KindSourceRejection, domain.KindOf(err))
}

func TestFetch_ErrorsClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"throttled", &smithy.GenericAPIError{Code: "LimitExceededException"}, domain.KindTransient},
		{"resource data disabled", &smithy.GenericAPIError{Code: "DataUnavailableException"}, domain.KindSourceRejection},
		{"denied", &smithy.GenericAPIError{Code: "AccessDeniedException"}, domain.KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromAPI(&mockCEAPI{costErr: tt.err}).Fetch(context.Background(), domain.DatasetCost, "123456789012", window)
			assert.Equal(t, tt.want, domain.KindOf(err))
		})
	}
}

func TestFetch_Reservation(t *testing.T) {
	mock := &mockCEAPI{riOut: &ce.GetReservationUtilizationOutput{
		UtilizationsByTime: []cetypes.UtilizationByTime{{
			TimePeriod: &cetypes.DateInterval{Start: aws.String("2025-07-23"), End: aws.String("2025-07-24")},
			Groups: []cetypes.ReservationUtilizationGroup{{
				Key:        aws.String("SUBSCRIPTION_ID"),
				Value:      aws.String("ri-123"),
				Attributes: map[string]string{"service": "Amazon RDS"},
				Utilization: &cetypes.ReservationAggregates{
					UtilizationPercentage: aws.String("87.5"),
					RICostForUnusedHours:  aws.String("4.20"),
				},
			}},
		}},
	}}

	recs, err := NewFromAPI(mock).Fetch(context.Background(), domain.DatasetReservation, "123456789012", window)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ri-123", recs[0][validator.FieldReservationID])
	assert.Equal(t, "Amazon RDS", recs[0][validator.FieldServiceName])
	assert.Equal(t, "87.5", recs[0][validator.FieldUtilizationPercent])
}

func TestFetch_AdvisorPicksBestTarget(t *testing.T) {
	mock := &mockCEAPI{rightsOut: &ce.GetRightsizingRecommendationOutput{
		RightsizingRecommendations: []cetypes.RightsizingRecommendation{
			{
				RightsizingType: cetypes.RightsizingTypeModify,
				CurrentInstance: &cetypes.CurrentInstance{
					ResourceId:   aws.String("i-0abc"),
					InstanceName: aws.String("api-server"),
					CurrencyCode: aws.String("USD"),
				},
				ModifyRecommendationDetail: &cetypes.ModifyRecommendationDetail{
					TargetInstances: []cetypes.TargetInstance{
						{EstimatedMonthlySavings: aws.String("10"), ResourceDetails: ec2Type("m5.large")},
						{EstimatedMonthlySavings: aws.String("25"), ResourceDetails: ec2Type("m5.medium")},
					},
				},
			},
			{
				RightsizingType: cetypes.RightsizingTypeTerminate,
				CurrentInstance: &cetypes.CurrentInstance{ResourceId: aws.String("i-0def")},
				TerminateRecommendationDetail: &cetypes.TerminateRecommendationDetail{
					EstimatedMonthlySavings: aws.String("80"),
					CurrencyCode:            aws.String("USD"),
				},
			},
		},
	}}

	recs, err := NewFromAPI(mock).Fetch(context.Background(), domain.DatasetAdvisor, "123456789012", window)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "25", recs[0][validator.FieldEstimatedSavings])
	assert.Equal(t, "Downsize instance api-server to m5.medium", recs[0][validator.FieldRecommendation])
	assert.Equal(t, "2025-07-23", recs[0][validator.FieldDate])
	assert.Equal(t, "High", recs[1][validator.FieldImpact])
	assert.Equal(t, "i-0def", recs[1][validator.FieldResourceName])
}

func TestFetch_ResolveError(t *testing.T) {
	s := &Source{resolve: func(context.Context, string) (API, error) { return nil, errors.New("sts denied") }}
	_, err := s.Fetch(context.Background(), domain.DatasetCost, "123456789012", window)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sts denied")
}

func ec2Type(instanceType string) *cetypes.ResourceDetails {
	return &cetypes.ResourceDetails{EC2ResourceDetails: &cetypes.EC2ResourceDetails{InstanceType: aws.String(instanceType)}}
}

func TestResourceName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "i-0abc", resourceName("arn:aws:ec2:us-east-1:123456789012:instance/i-0abc"))
	assert.Equal(t, "my-bucket", resourceName("arn:aws:s3:::my-bucket"))
	assert.Equal(t, "vm-AVD-01", resourceName("vm-AVD-01"))
	assert.Equal(t, "", regionOf("vm-AVD-01"))
}
