package workflows_test

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/finops-claw-gang/costpipe/internal/temporal/activities"
	"github.com/finops-claw-gang/costpipe/internal/temporal/workflows"
)

// Matchers for activity mocks -- match any context and any input.
var (
	testAnyCtx   = mock.Anything
	testAnyInput = mock.Anything
)

// workflowSuite is the shared environment for workflow tests.
type workflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *workflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivity(&activities.Activities{})
	s.env.RegisterWorkflow(workflows.DailyCollectionWorkflow)
}

func (s *workflowSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

// capturePublish records PublishRunMetrics inputs.
func (s *workflowSuite) capturePublish() *[]activities.RunMetricsInput {
	var got []activities.RunMetricsInput
	s.env.OnActivity("PublishRunMetrics", testAnyCtx, testAnyInput).Return(
		func(_ context.Context, in activities.RunMetricsInput) error {
			got = append(got, in)
			return nil
		})
	return &got
}
