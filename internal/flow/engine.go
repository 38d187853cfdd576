// Package flow runs the notification-only fan-out for user-defined flows.
// A fan-out finds the active flows listening to a trigger, counts their
// nodes and records an activity per flow; it never runs the campaign
// pipeline.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

var (
	// ErrFlowNotFound is returned when a flow ID does not exist.
	ErrFlowNotFound = eris.New("flow: not found")
	// ErrFlowInactive is returned when a manual trigger targets a flow that
	// is not active.
	ErrFlowInactive = eris.New("flow: not active")
	// ErrFlowEmpty is returned when a manual trigger targets a flow with no nodes.
	ErrFlowEmpty = eris.New("flow: has no nodes")
	// ErrUnsupportedEvent is returned for record events with no flow trigger.
	ErrUnsupportedEvent = eris.New("flow: unsupported event")
)

// Result summarizes one fan-out.
type Result struct {
	Triggered  int                   `json:"triggered"`
	Failed     int                   `json:"failed"`
	Executions []model.FlowExecution `json:"executions"`
}

// Engine executes fan-outs against the flow store.
type Engine struct {
	store store.Store
	now   func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st, now: time.Now}
}

// RecordCreated fans a new lead or contact out to the flows listening for it.
func (e *Engine) RecordCreated(ctx context.Context, ev model.RecordCreated) (*Result, error) {
	trigger, ok := ev.TriggerType()
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedEvent, "%q", ev.Event)
	}
	flows, err := e.store.ListActiveFlows(ctx, trigger)
	if err != nil {
		return nil, eris.Wrap(err, "flow: list record flows")
	}

	return e.fanOut(ctx, flows, string(trigger), func(f model.Flow, _ int) (string, string) {
		if trigger == model.TriggerContactAdded {
			return model.ActionFlowAutoTriggered,
				fmt.Sprintf("Flow %q auto-triggered by new contact: %s", f.Name, ev.Name)
		}
		company := ev.Company
		if company == "" {
			company = "Unknown Company"
		}
		return model.ActionFlowAutoTriggered,
			fmt.Sprintf("Flow %q auto-triggered by new lead: %s (%s)", f.Name, ev.Name, company)
	}), nil
}

// Webhook fans an inbound webhook out to one named webhook flow, or to all
// of them when FlowID is empty. A named flow that is missing, inactive or not
// a webhook flow matches nothing.
func (e *Engine) Webhook(ctx context.Context, ev model.WebhookReceived) (*Result, error) {
	var flows []model.Flow
	if ev.FlowID != "" {
		f, err := e.store.GetFlow(ctx, ev.FlowID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, eris.Wrap(err, "flow: get webhook flow")
		case f.Status == model.FlowStatusActive && f.TriggerType == model.TriggerWebhook:
			flows = []model.Flow{*f}
		}
	} else {
		var err error
		flows, err = e.store.ListActiveFlows(ctx, model.TriggerWebhook)
		if err != nil {
			return nil, eris.Wrap(err, "flow: list webhook flows")
		}
	}

	name := ev.Event
	if name == "" {
		name = "unknown"
	}
	return e.fanOut(ctx, flows, string(model.TriggerWebhook), func(f model.Flow, _ int) (string, string) {
		return model.ActionWebhookReceived, fmt.Sprintf("Webhook triggered flow %q with event: %s", f.Name, name)
	}), nil
}

// Scheduled fans a cron tick out to the scheduled flows that are due. A flow
// without its own schedule_cron runs on every tick.
func (e *Engine) Scheduled(ctx context.Context, tick model.ScheduledTick) (*Result, error) {
	flows, err := e.store.ListActiveFlows(ctx, model.TriggerScheduled)
	if err != nil {
		return nil, eris.Wrap(err, "flow: list scheduled flows")
	}

	due := flows[:0:0]
	for _, f := range flows {
		ok, err := IsDue(f.ScheduleCron, f.LastRunAt, tick.At)
		if err != nil {
			zap.L().Warn("flow: invalid schedule, skipping", zap.String("flow_id", f.ID), zap.String("cron", f.ScheduleCron), zap.Error(err))
			continue
		}
		if ok {
			due = append(due, f)
		}
	}

	return e.fanOut(ctx, due, string(model.TriggerScheduled), func(f model.Flow, nodes int) (string, string) {
		return model.ActionFlowScheduledRun, fmt.Sprintf("Scheduled flow %q executed with %d nodes", f.Name, nodes)
	}), nil
}

// IsDue reports whether a flow with the given cron spec should run at now.
// An empty spec is always due, as is a flow that has never run.
func IsDue(spec string, last *time.Time, now time.Time) (bool, error) {
	if spec == "" || last == nil {
		return true, nil
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return false, eris.Wrapf(err, "flow: parse cron %q", spec)
	}
	return !expr.Next(*last).After(now), nil
}

func (e *Engine) fanOut(ctx context.Context, flows []model.Flow, trigger string, describe func(model.Flow, int) (string, string)) *Result {
	res := &Result{Executions: []model.FlowExecution{}}
	for _, f := range flows {
		exec, err := e.execute(ctx, f, trigger, describe)
		if err != nil {
			res.Failed++
			zap.L().Error("flow: execute failed", zap.String("flow_id", f.ID), zap.Error(err))
			continue
		}
		res.Triggered++
		res.Executions = append(res.Executions, *exec)
	}
	return res
}

func (e *Engine) execute(ctx context.Context, f model.Flow, trigger string, describe func(model.Flow, int) (string, string)) (*model.FlowExecution, error) {
	nodes, err := e.store.ListFlowNodes(ctx, f.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "flow: list nodes %s", f.ID)
	}
	action, detail := describe(f, len(nodes))
	if err := e.record(ctx, action, detail); err != nil {
		return nil, err
	}
	if err := e.store.MarkFlowRun(ctx, f.ID, e.now().UTC()); err != nil {
		return nil, eris.Wrapf(err, "flow: mark run %s", f.ID)
	}
	return &model.FlowExecution{FlowID: f.ID, FlowName: f.Name, NodeCount: len(nodes), Trigger: trigger}, nil
}

func (e *Engine) record(ctx context.Context, action, detail string) error {
	err := e.store.InsertActivity(ctx, &model.Activity{
		AgentName: model.AgentFlowEngine,
		Action:    action,
		Detail:    detail,
		Status:    model.ActivitySuccess,
	})
	return eris.Wrapf(err, "flow: record %s", action)
}

// TriggerRequest is the optional body of a manual trigger.
type TriggerRequest struct {
	Source  string          `json:"trigger_source,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

// PlanStep is one node of an execution plan.
type PlanStep struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Label  string          `json:"label"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Execution is the plan returned by a manual trigger.
type Execution struct {
	TriggeredAt     time.Time       `json:"triggered_at"`
	TriggerSource   string          `json:"trigger_source"`
	Context         json.RawMessage `json:"context"`
	NodeCount       int             `json:"node_count"`
	ConnectionCount int             `json:"connection_count"`
	Plan            []PlanStep      `json:"plan"`
}

// Triggered is the outcome of a manual trigger.
type Triggered struct {
	Flow      model.Flow `json:"flow"`
	Execution Execution  `json:"execution"`
}

// Trigger runs a flow on demand and returns its execution plan. The flow
// must be active and have at least one node.
func (e *Engine) Trigger(ctx context.Context, flowID string, req TriggerRequest) (*Triggered, error) {
	f, err := e.store.GetFlow(ctx, flowID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrFlowNotFound, "%s", flowID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "flow: get flow")
	}
	if f.Status != model.FlowStatusActive {
		return nil, eris.Wrapf(ErrFlowInactive, "%s", flowID)
	}

	nodes, err := e.store.ListFlowNodes(ctx, flowID)
	if err != nil {
		return nil, eris.Wrapf(err, "flow: list nodes %s", flowID)
	}
	if len(nodes) == 0 {
		return nil, eris.Wrapf(ErrFlowEmpty, "%s", flowID)
	}
	conns, err := e.store.ListFlowConnections(ctx, flowID)
	if err != nil {
		return nil, eris.Wrapf(err, "flow: list connections %s", flowID)
	}

	source := req.Source
	if source == "" {
		source = string(f.TriggerType)
	}
	if source == "" {
		source = string(model.TriggerManual)
	}
	reqCtx := req.Context
	if len(reqCtx) == 0 {
		reqCtx = json.RawMessage(`{}`)
	}

	if err := e.record(ctx, model.ActionFlowManualTrigger, fmt.Sprintf("Flow %q triggered via %s", f.Name, source)); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	if err := e.store.MarkFlowRun(ctx, flowID, now); err != nil {
		return nil, eris.Wrapf(err, "flow: mark run %s", flowID)
	}
	f.LastRunAt = &now

	plan := make([]PlanStep, len(nodes))
	for i, n := range nodes {
		plan[i] = PlanStep{ID: n.ID, Type: n.NodeType, Label: n.Label, Config: n.Config}
	}
	return &Triggered{
		Flow: *f,
		Execution: Execution{
			TriggeredAt:     now,
			TriggerSource:   source,
			Context:         reqCtx,
			NodeCount:       len(nodes),
			ConnectionCount: len(conns),
			Plan:            plan,
		},
	}, nil
}
