package trigger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/flow"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	runs     []model.CampaignStarted
	records  []model.RecordCreated
	webhooks []model.WebhookReceived
	ticks    []model.ScheduledTick
	runErr   error
	schedErr error
}

func (d *fakeDispatcher) DispatchRun(_ context.Context, ev model.CampaignStarted) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runErr != nil {
		return d.runErr
	}
	d.runs = append(d.runs, ev)
	return nil
}

func (d *fakeDispatcher) DispatchRecordCreated(_ context.Context, ev model.RecordCreated) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, ev)
	return nil
}

func (d *fakeDispatcher) DispatchWebhook(_ context.Context, ev model.WebhookReceived) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.webhooks = append(d.webhooks, ev)
	return nil
}

func (d *fakeDispatcher) DispatchScheduled(_ context.Context, tick model.ScheduledTick) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.schedErr != nil {
		return d.schedErr
	}
	d.ticks = append(d.ticks, tick)
	return nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "trigger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newRouter(t *testing.T) (*Router, *store.SQLiteStore, *fakeDispatcher) {
	t.Helper()
	st := newTestStore(t)
	d := &fakeDispatcher{}
	return NewRouter(st, d, flow.NewEngine(st), nil), st, d
}

func seedCampaign(t *testing.T, st store.Store, agents ...string) *model.Campaign {
	t.Helper()
	c := &model.Campaign{Name: "Fintech CFOs", TargetIndustry: "Fintech", AgentIDs: agents}
	require.NoError(t, st.CreateCampaign(context.Background(), c))
	return c
}

func actionsFor(t *testing.T, st store.Store, campaignID string) []string {
	t.Helper()
	acts, err := st.ListActivities(context.Background(), campaignID, 50)
	require.NoError(t, err)
	out := make([]string, 0, len(acts))
	for i := len(acts) - 1; i >= 0; i-- {
		out = append(out, acts[i].Action)
	}
	return out
}

func TestStart(t *testing.T) {
	r, st, d := newRouter(t)
	ctx := context.Background()
	c := seedCampaign(t, st, "agent-default")

	run, err := r.Start(ctx, c.ID, StartRequest{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.Equal(t, model.AgentTypeFullPipeline, run.AgentType)

	require.Len(t, d.runs, 1)
	assert.Equal(t, model.CampaignStarted{CampaignID: c.ID, RunID: run.ID, AgentIDs: []string{"agent-1"}}, d.runs[0])
}

func TestStart_FallsBackToCampaignAgents(t *testing.T) {
	r, st, d := newRouter(t)
	c := seedCampaign(t, st, "agent-a", "agent-b")

	_, err := r.Start(context.Background(), c.ID, StartRequest{})
	require.NoError(t, err)
	require.Len(t, d.runs, 1)
	assert.Equal(t, []string{"agent-a", "agent-b"}, d.runs[0].AgentIDs)
}

func TestStart_Rejections(t *testing.T) {
	r, st, d := newRouter(t)
	ctx := context.Background()

	_, err := r.Start(ctx, "missing", StartRequest{})
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	c := seedCampaign(t, st)
	_, err = r.Start(ctx, c.ID, StartRequest{})
	require.NoError(t, err)

	// Pending run still blocks a second start.
	_, err = r.Start(ctx, c.ID, StartRequest{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	running := seedCampaign(t, st)
	require.NoError(t, st.TransitionCampaign(ctx, running.ID, model.CampaignStatusRunning))
	_, err = r.Start(ctx, running.ID, StartRequest{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	assert.Len(t, d.runs, 1)
}

func TestStart_DispatchFailureMarksRunError(t *testing.T) {
	r, st, d := newRouter(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	d.runErr = errors.New("temporal unavailable")

	_, err := r.Start(ctx, c.ID, StartRequest{})
	require.Error(t, err)

	runs, err := st.ListRuns(ctx, store.RunFilter{CampaignID: c.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusError, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "temporal unavailable")

	// The failed run does not block a retry.
	d.runErr = nil
	_, err = r.Start(ctx, c.ID, StartRequest{})
	require.NoError(t, err)
}

func TestStop(t *testing.T) {
	r, st, _ := newRouter(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	run, err := r.Start(ctx, c.ID, StartRequest{})
	require.NoError(t, err)
	now := time.Now().UTC()
	total := model.RunStepsTotal
	require.NoError(t, st.TransitionRun(ctx, run.ID, model.RunStatusRunning, model.RunUpdate{StartedAt: &now, StepsTotal: &total}))
	require.NoError(t, st.TransitionCampaign(ctx, c.ID, model.CampaignStatusRunning))

	require.NoError(t, r.Stop(ctx, c.ID))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	camp, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusPaused, camp.Status)
	assert.Equal(t, []string{model.ActionCampaignStopped}, actionsFor(t, st, c.ID))

	// A second stop changes nothing.
	require.NoError(t, r.Stop(ctx, c.ID))
	assert.Len(t, actionsFor(t, st, c.ID), 1)
}

func TestStop_PendingRunPausesCampaign(t *testing.T) {
	r, st, _ := newRouter(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	run, err := r.Start(ctx, c.ID, StartRequest{})
	require.NoError(t, err)
	camp, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.CampaignStatusDraft, camp.Status)

	require.NoError(t, r.Stop(ctx, c.ID))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, got.Status)

	camp, err = st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusPaused, camp.Status)
	assert.Equal(t, []string{model.ActionCampaignStopped}, actionsFor(t, st, c.ID))
}

func TestStop_IdleCampaign(t *testing.T) {
	r, st, _ := newRouter(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	require.NoError(t, r.Stop(ctx, c.ID))
	camp, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusDraft, camp.Status)
	assert.Empty(t, actionsFor(t, st, c.ID))

	assert.ErrorIs(t, r.Stop(ctx, "missing"), ErrCampaignNotFound)
}

func TestStatusAndRuns(t *testing.T) {
	r, st, _ := newRouter(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	status, err := r.Status(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, status.LatestRun)
	assert.Equal(t, 0, status.TotalSteps)

	runs, err := r.Runs(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NotNil(t, runs)

	run, err := r.Start(ctx, c.ID, StartRequest{})
	require.NoError(t, err)
	for i := 1; i <= 2; i++ {
		require.NoError(t, st.InsertStep(ctx, &model.Step{
			RunID: run.ID, CampaignID: c.ID, StepNumber: i, Stage: "discovery",
			ToolName: "searchCompanies", Status: model.StepStatusCompleted,
		}))
	}

	status, err = r.Status(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, status.LatestRun)
	assert.Equal(t, run.ID, status.LatestRun.ID)
	assert.Equal(t, 2, status.TotalSteps)

	runs, err = r.Runs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = r.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
	_, err = r.Runs(ctx, "missing")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestRecordCreated(t *testing.T) {
	r, _, d := newRouter(t)
	ctx := context.Background()

	require.NoError(t, r.RecordCreated(ctx, model.RecordCreated{Event: model.EventLeadCreated, Name: "Ada"}))
	require.NoError(t, r.RecordCreated(ctx, model.RecordCreated{Event: model.EventContactAdded, Name: "Grace"}))
	assert.Len(t, d.records, 2)

	err := r.RecordCreated(ctx, model.RecordCreated{Event: "deal/closed"})
	assert.ErrorIs(t, err, flow.ErrUnsupportedEvent)
	assert.Len(t, d.records, 2)
}

func TestWebhookAndScheduled(t *testing.T) {
	r, _, d := newRouter(t)
	ctx := context.Background()

	require.NoError(t, r.Webhook(ctx, model.WebhookReceived{FlowID: "f1", Event: "form.submitted"}))
	require.Len(t, d.webhooks, 1)
	assert.Equal(t, "f1", d.webhooks[0].FlowID)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Scheduled(ctx, at))
	require.Len(t, d.ticks, 1)
	assert.Equal(t, at, d.ticks[0].At)
}

func TestTriggerFlow(t *testing.T) {
	r, st, _ := newRouter(t)
	ctx := context.Background()
	f := &model.Flow{Name: "Nurture", Status: model.FlowStatusActive, TriggerType: model.TriggerManual}
	require.NoError(t, st.CreateFlow(ctx, f, []model.FlowNode{{NodeType: "send_email", Label: "Intro"}}, nil))

	got, err := r.TriggerFlow(ctx, f.ID, flow.TriggerRequest{})
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.Flow.ID)
	assert.Equal(t, 1, got.Execution.NodeCount)

	_, err = r.TriggerFlow(ctx, "missing", flow.TriggerRequest{})
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
}

func TestReview(t *testing.T) {
	r, st, _ := newRouter(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	run, err := st.CreateRun(ctx, c.ID)
	require.NoError(t, err)

	lead := &model.DiscoveredLead{
		CampaignID: c.ID, RunID: run.ID, Name: "Ada Lovelace", Company: "Acme",
		Position: "CFO", Status: model.LeadStatusPendingReview,
	}
	require.NoError(t, st.InsertLead(ctx, lead))

	applied, err := r.Review(ctx, lead.ID, model.LeadStatusApproved)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = r.Review(ctx, lead.ID, model.LeadStatusRejected)
	require.NoError(t, err)
	assert.False(t, applied)

	camp, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, camp.LeadsApproved)
	assert.Equal(t, 0, camp.LeadsRejected)
	assert.Equal(t, []string{model.ActionLeadApproved}, actionsFor(t, st, c.ID))

	_, err = r.Review(ctx, "missing", model.LeadStatusApproved)
	assert.ErrorIs(t, err, ErrLeadNotFound)
}
