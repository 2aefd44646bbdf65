package workflows_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/temporal/workflows"
)

type BackfillSuite struct {
	workflowSuite
}

func TestBackfillSuite(t *testing.T) {
	suite.Run(t, new(BackfillSuite))
}

func (s *BackfillSuite) TestRunsEachDayAndContinuesPastFailures() {
	s.env.OnWorkflow(workflows.DailyCollectionWorkflow, testAnyCtx,
		workflows.DailyCollectionInput{RunDate: "2025-07-22"}).
		Return(workflows.DailyCollectionResult{}, errors.New("no dataset collected"))
	s.env.OnWorkflow(workflows.DailyCollectionWorkflow, testAnyCtx, testAnyInput).
		Return(workflows.DailyCollectionResult{Summary: domain.CollectionSummary{Status: domain.RunCompleted}}, nil)

	s.env.ExecuteWorkflow(workflows.CollectionBackfillWorkflow, workflows.BackfillInput{From: "2025-07-21", To: "2025-07-23"})
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result workflows.BackfillResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal([]string{"2025-07-21", "2025-07-23"}, result.Completed)
	s.Equal([]string{"2025-07-22"}, result.Failed)
}

func (s *BackfillSuite) TestRejectsInvertedRange() {
	s.env.ExecuteWorkflow(workflows.CollectionBackfillWorkflow, workflows.BackfillInput{From: "2025-07-23", To: "2025-07-21"})
	s.True(s.env.IsWorkflowCompleted())
	s.ErrorContains(s.env.GetWorkflowError(), "must cover 1 to")
}

func (s *BackfillSuite) TestRejectsBadDate() {
	s.env.ExecuteWorkflow(workflows.CollectionBackfillWorkflow, workflows.BackfillInput{From: "July 21", To: "2025-07-21"})
	s.True(s.env.IsWorkflowCompleted())
	s.ErrorContains(s.env.GetWorkflowError(), "invalid from")
}
