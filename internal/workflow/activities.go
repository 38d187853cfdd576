package workflow

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/sells-group/campaign-cli/internal/flow"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/orchestrator"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/internal/stage"
)

// Pipeline is the set of orchestrator steps the activities call.
// *orchestrator.Pipeline implements it.
type Pipeline interface {
	Run(ctx context.Context, ev model.CampaignStarted) (*orchestrator.Summary, error)
	Load(ctx context.Context, ev model.CampaignStarted) (*orchestrator.LoadResult, error)
	Discover(ctx context.Context, c *model.Campaign, runID string) (*stage.DiscoveryResult, error)
	Enrich(ctx context.Context, c *model.Campaign, runID string, leadIDs []string) (*stage.EnrichmentResult, error)
	Qualify(ctx context.Context, c *model.Campaign, runID string, leadIDs []string) (*stage.QualificationResult, error)
	Finalize(ctx context.Context, c *model.Campaign, runID string, disc *stage.DiscoveryResult, enr *stage.EnrichmentResult, qual *stage.QualificationResult) (*orchestrator.Summary, error)
	Fail(ctx context.Context, campaignID, runID string, cause error) error
}

// FanOut is the flow engine surface used by the fan-out paths.
// *flow.Engine implements it.
type FanOut interface {
	RecordCreated(ctx context.Context, ev model.RecordCreated) (*flow.Result, error)
	Webhook(ctx context.Context, ev model.WebhookReceived) (*flow.Result, error)
	Scheduled(ctx context.Context, tick model.ScheduledTick) (*flow.Result, error)
}

// Registry is the registration surface shared by worker.Worker and the
// Temporal test environment.
type Registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Activities adapts the orchestrator and flow engine to Temporal.
type Activities struct {
	pipeline Pipeline
	flows    FanOut
}

// NewActivities creates Activities.
func NewActivities(p Pipeline, flows FanOut) *Activities {
	return &Activities{pipeline: p, flows: flows}
}

// RegisterPipeline registers the campaign run workflow and its activities.
func (a *Activities) RegisterPipeline(r Registry) {
	r.RegisterWorkflow(CampaignRunWorkflow)
	r.RegisterActivityWithOptions(a.LoadCampaign, activity.RegisterOptions{Name: orchestrator.StepLoad})
	r.RegisterActivityWithOptions(a.RunDiscovery, activity.RegisterOptions{Name: orchestrator.StepDiscover})
	r.RegisterActivityWithOptions(a.RunEnrichment, activity.RegisterOptions{Name: orchestrator.StepEnrich})
	r.RegisterActivityWithOptions(a.RunQualification, activity.RegisterOptions{Name: orchestrator.StepQualify})
	r.RegisterActivityWithOptions(a.Finalize, activity.RegisterOptions{Name: orchestrator.StepFinalize})
	r.RegisterActivityWithOptions(a.FailRun, activity.RegisterOptions{Name: ActivityFailRun})
}

// RegisterFanOut registers the flow fan-out workflow and its activity.
func (a *Activities) RegisterFanOut(r Registry) {
	r.RegisterWorkflow(FlowFanOutWorkflow)
	r.RegisterActivityWithOptions(a.FanOut, activity.RegisterOptions{Name: ActivityFanOut})
}

func (a *Activities) LoadCampaign(ctx context.Context, ev model.CampaignStarted) (*orchestrator.LoadResult, error) {
	res, err := a.pipeline.Load(ctx, ev)
	return res, activityError(err)
}

func (a *Activities) RunDiscovery(ctx context.Context, in StageInput) (*stage.DiscoveryResult, error) {
	res, err := a.pipeline.Discover(ctx, &in.Campaign, in.RunID)
	return res, activityError(err)
}

func (a *Activities) RunEnrichment(ctx context.Context, in StageInput) (*stage.EnrichmentResult, error) {
	res, err := a.pipeline.Enrich(ctx, &in.Campaign, in.RunID, in.LeadIDs)
	return res, activityError(err)
}

func (a *Activities) RunQualification(ctx context.Context, in StageInput) (*stage.QualificationResult, error) {
	res, err := a.pipeline.Qualify(ctx, &in.Campaign, in.RunID, in.LeadIDs)
	return res, activityError(err)
}

func (a *Activities) Finalize(ctx context.Context, in FinalizeInput) (*orchestrator.Summary, error) {
	res, err := a.pipeline.Finalize(ctx, &in.Campaign, in.RunID, in.Discovery, in.Enrichment, in.Qualification)
	return res, activityError(err)
}

func (a *Activities) FailRun(ctx context.Context, in FailInput) error {
	return a.pipeline.Fail(ctx, in.CampaignID, in.RunID, errors.New(in.Message))
}

// FanOut dispatches in to the matching flow engine entry point.
func (a *Activities) FanOut(ctx context.Context, in FanOutInput) (*flow.Result, error) {
	res, err := fanOut(ctx, a.flows, in)
	return res, activityError(err)
}

func fanOut(ctx context.Context, flows FanOut, in FanOutInput) (*flow.Result, error) {
	switch {
	case in.Record != nil:
		return flows.RecordCreated(ctx, *in.Record)
	case in.Webhook != nil:
		return flows.Webhook(ctx, *in.Webhook)
	case in.Tick != nil:
		return flows.Scheduled(ctx, *in.Tick)
	default:
		return nil, resilience.Permanent(eris.New("workflow: empty fan-out input"))
	}
}

// activityError marks errors Temporal must not retry. Only transient
// failures go back through the retry policy.
func activityError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stage.ErrRunNotActive):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeRunNotActive, err)
	case !resilience.IsTransient(err):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanent, err)
	default:
		return err
	}
}
