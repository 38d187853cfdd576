// Package trigger maps external events onto pipeline runs and flow fan-outs.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/flow"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/progress"
	"github.com/sells-group/campaign-cli/internal/store"
)

var (
	// ErrCampaignNotFound is returned when the campaign does not exist.
	ErrCampaignNotFound = eris.New("trigger: campaign not found")
	// ErrAlreadyRunning is returned when a start is requested for a campaign
	// that is running or has an active run.
	ErrAlreadyRunning = eris.New("trigger: campaign is already running")
	// ErrLeadNotFound is returned when a review targets an unknown lead.
	ErrLeadNotFound = eris.New("trigger: lead not found")
)

// Dispatcher hands work to the durable execution engine.
type Dispatcher interface {
	DispatchRun(ctx context.Context, ev model.CampaignStarted) error
	DispatchRecordCreated(ctx context.Context, ev model.RecordCreated) error
	DispatchWebhook(ctx context.Context, ev model.WebhookReceived) error
	DispatchScheduled(ctx context.Context, tick model.ScheduledTick) error
}

// StartRequest is the optional body of a manual start.
type StartRequest struct {
	AgentIDs []string `json:"agent_ids,omitempty"`
	AgentID  string   `json:"agent_id,omitempty"`
}

// Agents resolves agent_ids, then the single agent_id.
func (r StartRequest) Agents() []string {
	if len(r.AgentIDs) > 0 {
		return r.AgentIDs
	}
	if r.AgentID != "" {
		return []string{r.AgentID}
	}
	return []string{}
}

// Status is the live view of a campaign's latest run.
type Status struct {
	CampaignID string     `json:"campaignId"`
	LatestRun  *model.Run `json:"latestRun"`
	TotalSteps int        `json:"totalSteps"`
}

// Router is the single entry point for triggers.
type Router struct {
	store    store.Store
	dispatch Dispatcher
	flows    *flow.Engine
	pub      progress.Publisher
	now      func() time.Time
}

// NewRouter creates a Router. A nil publisher discards progress events.
func NewRouter(st store.Store, d Dispatcher, flows *flow.Engine, pub progress.Publisher) *Router {
	if pub == nil {
		pub = progress.Nop{}
	}
	return &Router{store: st, dispatch: d, flows: flows, pub: pub, now: time.Now}
}

// Start creates a pending run and dispatches the pipeline for it.
func (r *Router) Start(ctx context.Context, campaignID string, req StartRequest) (*model.Run, error) {
	c, err := r.campaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignStatusRunning {
		return nil, eris.Wrapf(ErrAlreadyRunning, "campaign %s", campaignID)
	}

	run, err := r.store.CreateRun(ctx, campaignID)
	if errors.Is(err, store.ErrRunActive) {
		return nil, eris.Wrapf(ErrAlreadyRunning, "campaign %s", campaignID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "trigger: create run")
	}

	agents := req.Agents()
	if len(agents) == 0 && len(c.AgentIDs) > 0 {
		agents = c.AgentIDs
	}
	ev := model.CampaignStarted{CampaignID: campaignID, RunID: run.ID, AgentIDs: agents}
	if err := r.dispatch.DispatchRun(ctx, ev); err != nil {
		now := r.now().UTC()
		msg := "dispatch failed: " + err.Error()
		if tErr := r.store.TransitionRun(ctx, run.ID, model.RunStatusError, model.RunUpdate{CompletedAt: &now, ErrorMessage: msg}); tErr != nil {
			zap.L().Error("trigger: mark undispatched run", zap.String("run_id", run.ID), zap.Error(tErr))
		}
		return nil, eris.Wrap(err, "trigger: dispatch run")
	}

	zap.L().Info("trigger: campaign started",
		zap.String("campaign_id", campaignID),
		zap.String("run_id", run.ID),
		zap.Strings("agent_ids", agents),
	)
	r.publish(ctx, progress.NewEvent(progress.KindRunStatus, campaignID, run.ID, run))
	return run, nil
}

// Stop pauses the campaign and cancels its active runs. In-flight stages
// notice the cancellation at their next write. Stopping an idle campaign
// changes nothing.
func (r *Router) Stop(ctx context.Context, campaignID string) error {
	c, err := r.campaign(ctx, campaignID)
	if err != nil {
		return err
	}

	active, err := r.store.ListRuns(ctx, store.RunFilter{CampaignID: campaignID, Statuses: model.ActiveRunStatuses})
	if err != nil {
		return eris.Wrap(err, "trigger: list active runs")
	}
	n, err := r.store.CancelActiveRuns(ctx, campaignID, r.now().UTC())
	if err != nil {
		return eris.Wrap(err, "trigger: cancel runs")
	}

	if n == 0 && c.Status != model.CampaignStatusRunning {
		return nil
	}
	// Pending runs count: the campaign is paused even if the orchestrator
	// never picked the run up.
	if c.Status != model.CampaignStatusPaused {
		err := r.store.TransitionCampaign(ctx, campaignID, model.CampaignStatusPaused)
		if err != nil && !errors.Is(err, store.ErrIllegalTransition) {
			return eris.Wrap(err, "trigger: pause campaign")
		}
	}

	for _, run := range active {
		if got, err := r.store.GetRun(ctx, run.ID); err == nil {
			r.publish(ctx, progress.NewEvent(progress.KindRunStatus, campaignID, run.ID, got))
		}
	}
	r.activity(ctx, campaignID, model.AgentCampaignRunner, model.ActionCampaignStopped, "Campaign stopped by user", model.ActivityInfo)
	zap.L().Info("trigger: campaign stopped", zap.String("campaign_id", campaignID), zap.Int("cancelled_runs", n))
	return nil
}

// Status returns the campaign's newest run and its step count.
func (r *Router) Status(ctx context.Context, campaignID string) (*Status, error) {
	if _, err := r.campaign(ctx, campaignID); err != nil {
		return nil, err
	}
	runs, err := r.store.ListRuns(ctx, store.RunFilter{CampaignID: campaignID, Limit: 1})
	if err != nil {
		return nil, eris.Wrap(err, "trigger: latest run")
	}
	st := &Status{CampaignID: campaignID}
	if len(runs) == 0 {
		return st, nil
	}
	st.LatestRun = &runs[0]
	st.TotalSteps, err = r.store.CountSteps(ctx, runs[0].ID)
	if err != nil {
		return nil, eris.Wrap(err, "trigger: count steps")
	}
	return st, nil
}

// Runs lists the campaign's runs, newest first.
func (r *Router) Runs(ctx context.Context, campaignID string) ([]model.Run, error) {
	if _, err := r.campaign(ctx, campaignID); err != nil {
		return nil, err
	}
	runs, err := r.store.ListRuns(ctx, store.RunFilter{CampaignID: campaignID})
	if err != nil {
		return nil, eris.Wrap(err, "trigger: list runs")
	}
	if runs == nil {
		runs = []model.Run{}
	}
	return runs, nil
}

// RecordCreated dispatches the fan-out for a new lead or contact.
func (r *Router) RecordCreated(ctx context.Context, ev model.RecordCreated) error {
	if _, ok := ev.TriggerType(); !ok {
		return eris.Wrapf(flow.ErrUnsupportedEvent, "%q (allowed: %s, %s)", ev.Event, model.EventLeadCreated, model.EventContactAdded)
	}
	return eris.Wrap(r.dispatch.DispatchRecordCreated(ctx, ev), "trigger: dispatch record event")
}

// Webhook dispatches the fan-out for an inbound webhook.
func (r *Router) Webhook(ctx context.Context, ev model.WebhookReceived) error {
	return eris.Wrap(r.dispatch.DispatchWebhook(ctx, ev), "trigger: dispatch webhook")
}

// Scheduled dispatches the scheduled-flow fan-out for a cron tick.
func (r *Router) Scheduled(ctx context.Context, at time.Time) error {
	return eris.Wrap(r.dispatch.DispatchScheduled(ctx, model.ScheduledTick{At: at}), "trigger: dispatch scheduled")
}

// TriggerFlow runs a flow on demand and returns its execution plan.
func (r *Router) TriggerFlow(ctx context.Context, flowID string, req flow.TriggerRequest) (*flow.Triggered, error) {
	return r.flows.Trigger(ctx, flowID, req)
}

// Review records a human approve or reject decision. Only the first
// decision on a pending lead counts; repeats report false.
func (r *Router) Review(ctx context.Context, leadID string, decision model.LeadStatus) (bool, error) {
	applied, err := r.store.ReviewLead(ctx, leadID, decision, r.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return false, eris.Wrapf(ErrLeadNotFound, "%s", leadID)
	}
	if err != nil {
		return false, eris.Wrap(err, "trigger: review lead")
	}
	if !applied {
		return false, nil
	}

	leads, err := r.store.GetLeads(ctx, []string{leadID})
	if err != nil || len(leads) == 0 {
		return true, nil
	}
	l := leads[0]
	action, verb := model.ActionLeadApproved, "Approved"
	if decision == model.LeadStatusRejected {
		action, verb = model.ActionLeadRejected, "Rejected"
	}
	r.publish(ctx, progress.NewEvent(progress.KindLeadUpdated, l.CampaignID, l.RunID, l))
	r.activity(ctx, l.CampaignID, "Reviewer", action, fmt.Sprintf("%s lead %s at %s", verb, l.Name, l.Company), model.ActivitySuccess)
	return true, nil
}

func (r *Router) campaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := r.store.GetCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrCampaignNotFound, "%s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "trigger: load campaign")
	}
	return c, nil
}

func (r *Router) activity(ctx context.Context, campaignID, agent, action, detail string, status model.ActivityStatus) {
	a := &model.Activity{AgentName: agent, CampaignID: campaignID, Action: action, Detail: detail, Status: status}
	if err := r.store.InsertActivity(ctx, a); err != nil {
		zap.L().Warn("trigger: write activity", zap.String("action", action), zap.Error(err))
		return
	}
	r.publish(ctx, progress.NewEvent(progress.KindActivity, campaignID, "", a))
}

func (r *Router) publish(ctx context.Context, ev progress.Event) {
	if err := r.pub.Publish(ctx, ev); err != nil {
		zap.L().Debug("trigger: publish progress", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
