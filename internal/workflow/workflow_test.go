package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/sells-group/campaign-cli/internal/flow"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/orchestrator"
	"github.com/sells-group/campaign-cli/internal/stage"
)

var testEvent = model.CampaignStarted{CampaignID: "c1", RunID: "r1", AgentIDs: []string{"agent-1"}}

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	acts := NewActivities(nil, nil)
	acts.RegisterPipeline(env)
	acts.RegisterFanOut(env)
	return env
}

func loaded() *orchestrator.LoadResult {
	return &orchestrator.LoadResult{Campaign: model.Campaign{ID: "c1", Name: "Fintech CFOs"}}
}

func TestCampaignRunWorkflow_Completes(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(orchestrator.StepLoad, mock.Anything, testEvent).Return(loaded(), nil)
	env.OnActivity(orchestrator.StepDiscover, mock.Anything, mock.Anything).
		Return(&stage.DiscoveryResult{LeadIDs: []string{"l1", "l2"}}, nil)
	withLeads := mock.MatchedBy(func(in StageInput) bool { return len(in.LeadIDs) == 2 && in.Campaign.ID == "c1" })
	env.OnActivity(orchestrator.StepEnrich, mock.Anything, withLeads).Return(&stage.EnrichmentResult{Enriched: 2}, nil)
	env.OnActivity(orchestrator.StepQualify, mock.Anything, withLeads).Return(&stage.QualificationResult{Qualified: 1}, nil)
	env.OnActivity(orchestrator.StepFinalize, mock.Anything, mock.MatchedBy(func(in FinalizeInput) bool {
		return in.RunID == "r1" && in.Enrichment.Enriched == 2 && in.Qualification.Qualified == 1
	})).Return(&orchestrator.Summary{CampaignID: "c1", RunID: "r1", LeadsFound: 2, Enriched: 2, Qualified: 1, Finalized: true}, nil)

	env.ExecuteWorkflow(CampaignRunWorkflow, RunInput{Event: testEvent})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var sum orchestrator.Summary
	require.NoError(t, env.GetWorkflowResult(&sum))
	assert.True(t, sum.Finalized)
	assert.Equal(t, 2, sum.LeadsFound)
	env.AssertExpectations(t)
}

func TestCampaignRunWorkflow_CancelledAtLoad(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(orchestrator.StepLoad, mock.Anything, mock.Anything).
		Return(&orchestrator.LoadResult{Cancelled: true}, nil)

	env.ExecuteWorkflow(CampaignRunWorkflow, RunInput{Event: testEvent})

	require.NoError(t, env.GetWorkflowError())
	var sum orchestrator.Summary
	require.NoError(t, env.GetWorkflowResult(&sum))
	assert.True(t, sum.Cancelled)
	assert.False(t, sum.Finalized)
}

func TestCampaignRunWorkflow_StoppedMidRun(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(orchestrator.StepLoad, mock.Anything, mock.Anything).Return(loaded(), nil)
	env.OnActivity(orchestrator.StepDiscover, mock.Anything, mock.Anything).
		Return(&stage.DiscoveryResult{LeadIDs: []string{"l1"}}, nil)
	env.OnActivity(orchestrator.StepEnrich, mock.Anything, mock.Anything).
		Return(nil, temporal.NewNonRetryableApplicationError("run is not running", ErrTypeRunNotActive, nil))
	failed := 0
	env.OnActivity(ActivityFailRun, mock.Anything, mock.Anything).Return(func(context.Context, FailInput) error {
		failed++
		return nil
	})

	env.ExecuteWorkflow(CampaignRunWorkflow, RunInput{Event: testEvent})

	require.NoError(t, env.GetWorkflowError())
	var sum orchestrator.Summary
	require.NoError(t, env.GetWorkflowResult(&sum))
	assert.True(t, sum.Cancelled)
	assert.Zero(t, failed)
}

func TestCampaignRunWorkflow_FatalDiscoveryFailsRun(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(orchestrator.StepLoad, mock.Anything, mock.Anything).Return(loaded(), nil)
	env.OnActivity(orchestrator.StepDiscover, mock.Anything, mock.Anything).
		Return(nil, temporal.NewNonRetryableApplicationError("anthropic: invalid api key", ErrTypePermanent, nil)).Once()
	env.OnActivity(ActivityFailRun, mock.Anything, mock.MatchedBy(func(in FailInput) bool {
		return in.RunID == "r1" && in.CampaignID == "c1" && strings.Contains(in.Message, "invalid api key")
	})).Return(nil).Once()

	env.ExecuteWorkflow(CampaignRunWorkflow, RunInput{Event: testEvent})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypePermanent, appErr.Type())
	env.AssertExpectations(t)
}

func TestCampaignRunWorkflow_RetriesTransientStep(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(orchestrator.StepLoad, mock.Anything, mock.Anything).Return(loaded(), nil)
	env.OnActivity(orchestrator.StepDiscover, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset by peer")).Once()
	env.OnActivity(orchestrator.StepDiscover, mock.Anything, mock.Anything).
		Return(&stage.DiscoveryResult{LeadIDs: []string{}}, nil).Once()
	env.OnActivity(orchestrator.StepEnrich, mock.Anything, mock.Anything).Return(&stage.EnrichmentResult{}, nil)
	env.OnActivity(orchestrator.StepQualify, mock.Anything, mock.Anything).Return(&stage.QualificationResult{}, nil)
	env.OnActivity(orchestrator.StepFinalize, mock.Anything, mock.Anything).
		Return(&orchestrator.Summary{CampaignID: "c1", RunID: "r1", Finalized: true}, nil)

	env.ExecuteWorkflow(CampaignRunWorkflow, RunInput{Event: testEvent, MaxAttempts: 3})

	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestFlowFanOutWorkflow(t *testing.T) {
	env := newEnv(t)
	rec := model.RecordCreated{Event: model.EventLeadCreated, Name: "Ada"}
	env.OnActivity(ActivityFanOut, mock.Anything, mock.MatchedBy(func(in FanOutInput) bool {
		return in.Record != nil && in.Record.Name == "Ada"
	})).Return(&flow.Result{Triggered: 2}, nil)

	env.ExecuteWorkflow(FlowFanOutWorkflow, FanOutInput{Record: &rec})

	require.NoError(t, env.GetWorkflowError())
	var res flow.Result
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, 2, res.Triggered)
}
