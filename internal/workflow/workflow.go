// Package workflow runs campaign pipelines and flow fan-outs durably, either
// on Temporal or in-process with a checkpoint journal.
package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/campaign-cli/internal/flow"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/orchestrator"
	"github.com/sells-group/campaign-cli/internal/stage"
)

// Application error types crossing the activity boundary.
const (
	ErrTypeRunNotActive = "RunNotActive"
	ErrTypePermanent    = "Permanent"
)

// Activity names not shared with the orchestrator step names.
const (
	ActivityFailRun = "fail-run"
	ActivityFanOut  = "flow-fanout"
)

const (
	defaultStepTimeout = 10 * time.Minute
	defaultAttempts    = 3
)

// RunInput starts a CampaignRunWorkflow.
type RunInput struct {
	Event       model.CampaignStarted `json:"event"`
	StepTimeout time.Duration         `json:"step_timeout"`
	MaxAttempts int                   `json:"max_attempts"`
}

// StageInput is passed to the stage activities.
type StageInput struct {
	Campaign model.Campaign `json:"campaign"`
	RunID    string         `json:"run_id"`
	LeadIDs  []string       `json:"lead_ids,omitempty"`
}

// FinalizeInput is passed to the finalize activity.
type FinalizeInput struct {
	Campaign      model.Campaign             `json:"campaign"`
	RunID         string                     `json:"run_id"`
	Discovery     *stage.DiscoveryResult     `json:"discovery"`
	Enrichment    *stage.EnrichmentResult    `json:"enrichment"`
	Qualification *stage.QualificationResult `json:"qualification"`
}

// FailInput is passed to the fail-run activity.
type FailInput struct {
	CampaignID string `json:"campaign_id"`
	RunID      string `json:"run_id"`
	Message    string `json:"message"`
}

// FanOutInput carries exactly one of the three fan-out events.
type FanOutInput struct {
	Record  *model.RecordCreated   `json:"record,omitempty"`
	Webhook *model.WebhookReceived `json:"webhook,omitempty"`
	Tick    *model.ScheduledTick   `json:"tick,omitempty"`
}

// CampaignRunWorkflow executes the five pipeline steps as activities. The
// workflow history replaces the checkpoint journal on resume.
func CampaignRunWorkflow(ctx workflow.Context, in RunInput) (*orchestrator.Summary, error) {
	timeout := in.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	attempts := in.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    int32(attempts),
		},
	})
	ev := in.Event
	log := workflow.GetLogger(ctx)

	var load orchestrator.LoadResult
	if err := workflow.ExecuteActivity(ctx, orchestrator.StepLoad, ev).Get(ctx, &load); err != nil {
		return failRun(ctx, ev, err)
	}
	if load.Cancelled {
		log.Info("run cancelled before start", "run_id", ev.RunID)
		return cancelledSummary(ev), nil
	}

	var disc stage.DiscoveryResult
	err := workflow.ExecuteActivity(ctx, orchestrator.StepDiscover, StageInput{Campaign: load.Campaign, RunID: ev.RunID}).Get(ctx, &disc)
	if err != nil {
		return failRun(ctx, ev, err)
	}

	next := StageInput{Campaign: load.Campaign, RunID: ev.RunID, LeadIDs: disc.LeadIDs}
	var enr stage.EnrichmentResult
	if err := workflow.ExecuteActivity(ctx, orchestrator.StepEnrich, next).Get(ctx, &enr); err != nil {
		return failRun(ctx, ev, err)
	}
	var qual stage.QualificationResult
	if err := workflow.ExecuteActivity(ctx, orchestrator.StepQualify, next).Get(ctx, &qual); err != nil {
		return failRun(ctx, ev, err)
	}

	var sum orchestrator.Summary
	err = workflow.ExecuteActivity(ctx, orchestrator.StepFinalize, FinalizeInput{
		Campaign:      load.Campaign,
		RunID:         ev.RunID,
		Discovery:     &disc,
		Enrichment:    &enr,
		Qualification: &qual,
	}).Get(ctx, &sum)
	if err != nil {
		return failRun(ctx, ev, err)
	}
	return &sum, nil
}

// failRun ends the workflow for a step error. A stopped run ends quietly;
// anything else is recorded on the run before the workflow fails.
func failRun(ctx workflow.Context, ev model.CampaignStarted, err error) (*orchestrator.Summary, error) {
	if isRunNotActive(err) {
		return cancelledSummary(ev), nil
	}
	fctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 5},
	})
	in := FailInput{CampaignID: ev.CampaignID, RunID: ev.RunID, Message: rootMessage(err)}
	if fErr := workflow.ExecuteActivity(fctx, ActivityFailRun, in).Get(fctx, nil); fErr != nil {
		workflow.GetLogger(ctx).Error("record run failure", "run_id", ev.RunID, "error", fErr)
	}
	return nil, err
}

// FlowFanOutWorkflow runs one fan-out activity.
func FlowFanOutWorkflow(ctx workflow.Context, in FanOutInput) (*flow.Result, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: defaultAttempts},
	})
	var res flow.Result
	if err := workflow.ExecuteActivity(ctx, ActivityFanOut, in).Get(ctx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func cancelledSummary(ev model.CampaignStarted) *orchestrator.Summary {
	return &orchestrator.Summary{CampaignID: ev.CampaignID, RunID: ev.RunID, Cancelled: true}
}

func isRunNotActive(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == ErrTypeRunNotActive
}

// rootMessage prefers the application error message over Temporal's
// activity wrapper text.
func rootMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}
