package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedCampaign(t *testing.T, st Store) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		Name:                "Fintech CFOs",
		TargetIndustry:      "Fintech",
		TargetRoles:         []string{"CFO", "VP Finance"},
		ConfidenceThreshold: 70,
		MaxLeadsPerRun:      10,
	}
	require.NoError(t, st.CreateCampaign(context.Background(), c))
	return c
}

func seedRunningRun(t *testing.T, st Store, campaignID string) *model.Run {
	t.Helper()
	ctx := context.Background()
	run, err := st.CreateRun(ctx, campaignID)
	require.NoError(t, err)
	now := time.Now().UTC()
	total := model.RunStepsTotal
	require.NoError(t, st.TransitionRun(ctx, run.ID, model.RunStatusRunning, model.RunUpdate{StartedAt: &now, StepsTotal: &total}))
	return run
}

// --- Campaigns ---

func TestSQLite_Campaign_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	c := seedCampaign(t, st)

	got, err := st.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fintech CFOs", got.Name)
	assert.Equal(t, model.CampaignStatusDraft, got.Status)
	assert.Equal(t, []string{"CFO", "VP Finance"}, got.TargetRoles)
	assert.Equal(t, []string{}, got.AgentIDs)
	assert.Nil(t, got.LastRunAt)

	list, err := st.ListCampaigns(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLite_Campaign_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetCampaign(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = st.TransitionCampaign(context.Background(), "missing", model.CampaignStatusRunning)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Campaign_Transitions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	require.NoError(t, st.TransitionCampaign(ctx, c.ID, model.CampaignStatusRunning))

	err := st.TransitionCampaign(ctx, c.ID, model.CampaignStatusRunning)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	require.NoError(t, st.TransitionCampaign(ctx, c.ID, model.CampaignStatusPaused))
	require.NoError(t, st.TransitionCampaign(ctx, c.ID, model.CampaignStatusRunning))

	got, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusRunning, got.Status)
}

// --- Runs ---

func TestSQLite_Run_CreateRejectsSecondActive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	run, err := st.CreateRun(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.Equal(t, model.AgentTypeFullPipeline, run.AgentType)

	_, err = st.CreateRun(ctx, c.ID)
	assert.True(t, errors.Is(err, ErrRunActive))

	require.NoError(t, st.TransitionRun(ctx, run.ID, model.RunStatusCancelled, model.RunUpdate{}))

	_, err = st.CreateRun(ctx, c.ID)
	assert.NoError(t, err)
}

func TestSQLite_Run_TransitionsAreOneWay(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	run := seedRunningRun(t, st, c.ID)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, model.RunStepsTotal, got.StepsTotal)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, st.TransitionRun(ctx, run.ID, model.RunStatusError, model.RunUpdate{ErrorMessage: "boom"}))

	err = st.TransitionRun(ctx, run.ID, model.RunStatusRunning, model.RunUpdate{})
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	err = st.TransitionRun(ctx, run.ID, model.RunStatusCompleted, model.RunUpdate{})
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)

	err = st.TransitionRun(ctx, "missing", model.RunStatusRunning, model.RunUpdate{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Run_ProgressRequiresRunning(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	run := seedRunningRun(t, st, c.ID)

	require.NoError(t, st.UpdateRunProgress(ctx, run.ID, model.RunProgress{StepsCompleted: 4, LeadsFound: 2, TokensUsed: 900, APICalls: 3}))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.StepsCompleted)
	assert.Equal(t, 2, got.LeadsFound)
	assert.Equal(t, 900, got.LLMTokensUsed)
	assert.Equal(t, 3, got.APICallsMade)

	n, err := st.CancelActiveRuns(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = st.UpdateRunProgress(ctx, run.ID, model.RunProgress{StepsCompleted: 5})
	assert.True(t, errors.Is(err, ErrRunInactive))

	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, got.Status)
	assert.Equal(t, 4, got.StepsCompleted)
	assert.NotNil(t, got.CompletedAt)
}

func TestSQLite_Run_CancelActiveIncludesPending(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	run, err := st.CreateRun(ctx, c.ID)
	require.NoError(t, err)

	n, err := st.CancelActiveRuns(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, got.Status)

	n, err = st.CancelActiveRuns(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLite_Run_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	first, err := st.CreateRun(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, st.TransitionRun(ctx, first.ID, model.RunStatusCancelled, model.RunUpdate{}))
	second, err := st.CreateRun(ctx, c.ID)
	require.NoError(t, err)

	all, err := st.ListRuns(ctx, RunFilter{CampaignID: c.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	active, err := st.ListRuns(ctx, RunFilter{CampaignID: c.ID, Statuses: model.ActiveRunStatuses})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, first.ID, limited[0].ID)

	recent, err := st.ListRuns(ctx, RunFilter{CampaignID: c.ID, CreatedAfter: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	future, err := st.ListRuns(ctx, RunFilter{CampaignID: c.ID, CreatedAfter: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

func TestSQLite_FinalizeRun_AppliesOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	require.NoError(t, st.TransitionCampaign(ctx, c.ID, model.CampaignStatusRunning))
	run := seedRunningRun(t, st, c.ID)

	at := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	f := Finalization{
		RunID:      run.ID,
		CampaignID: c.ID,
		LeadsFound: 3,
		TokensUsed: 1200,
		APICalls:   7,
		CostUSD:    0.42,
		At:         at,
		Metrics: model.DailyMetrics{
			CampaignID: c.ID, Date: model.MetricsDate(at),
			LeadsDiscovered: 3, LeadsEnriched: 2, LeadsQualified: 3,
			APICalls: 7, LLMTokens: 1200, CostCents: 42,
		},
	}

	applied, err := st.FinalizeRun(ctx, f)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = st.FinalizeRun(ctx, f)
	require.NoError(t, err)
	assert.False(t, applied)

	gotRun, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, gotRun.Status)
	assert.Equal(t, 3, gotRun.LeadsFound)
	assert.InDelta(t, 0.42, gotRun.CostUSD, 0.0001)

	gotCampaign, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCompleted, gotCampaign.Status)
	assert.Equal(t, 3, gotCampaign.LeadsFound)
	assert.Equal(t, 1, gotCampaign.TotalRuns)
	require.NotNil(t, gotCampaign.LastRunAt)

	metrics, err := st.ListDailyMetrics(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 3, metrics[0].LeadsDiscovered)
	assert.Equal(t, 42, metrics[0].CostCents)
}

func TestSQLite_FinalizeRun_KeepsPausedCampaign(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	require.NoError(t, st.TransitionCampaign(ctx, c.ID, model.CampaignStatusRunning))
	run := seedRunningRun(t, st, c.ID)
	require.NoError(t, st.TransitionCampaign(ctx, c.ID, model.CampaignStatusPaused))

	applied, err := st.FinalizeRun(ctx, Finalization{
		RunID: run.ID, CampaignID: c.ID, LeadsFound: 1, At: time.Now().UTC(),
		Metrics: model.DailyMetrics{CampaignID: c.ID, Date: model.MetricsDate(time.Now())},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusPaused, got.Status)
	assert.Equal(t, 1, got.LeadsFound)
}

func TestSQLite_FinalizeRun_CancelledRunRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	run := seedRunningRun(t, st, c.ID)
	_, err := st.CancelActiveRuns(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)

	applied, err := st.FinalizeRun(ctx, Finalization{RunID: run.ID, CampaignID: c.ID, At: time.Now().UTC()})
	assert.False(t, applied)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	got, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalRuns)
}

// --- Steps ---

func TestSQLite_Steps_NumberingAndUniqueness(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	run := seedRunningRun(t, st, c.ID)

	n, err := st.MaxStepNumber(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for i := 1; i <= 3; i++ {
		require.NoError(t, st.InsertStep(ctx, &model.Step{
			RunID: run.ID, CampaignID: c.ID, StepNumber: i, Stage: "discovery",
			ToolName: "search_companies", ToolInput: json.RawMessage(`{"industry":"Fintech"}`),
			Status: model.StepStatusCompleted, DurationMS: 12,
		}))
	}

	err = st.InsertStep(ctx, &model.Step{RunID: run.ID, CampaignID: c.ID, StepNumber: 2, ToolName: "dup", Status: model.StepStatusCompleted})
	assert.Error(t, err)

	n, err = st.MaxStepNumber(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := st.CountSteps(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	steps, err := st.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 1, steps[0].StepNumber)
	assert.JSONEq(t, `{"industry":"Fintech"}`, string(steps[0].ToolInput))
	assert.Equal(t, "null", string(steps[0].ToolOutput))
}

// --- Leads ---

func TestSQLite_Leads_EnrichUnionsSignals(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	lead := &model.DiscoveredLead{CampaignID: c.ID, Name: "Ada", Company: "Acme", Signals: []string{"A", "B"}}
	require.NoError(t, st.InsertLead(ctx, lead))
	assert.Equal(t, model.LeadStatusPendingReview, lead.Status)

	email := "ada@acme.io"
	got, err := st.EnrichLead(ctx, lead.ID, model.LeadEnrichment{Email: &email, Signals: []string{"B", "C"}})
	require.NoError(t, err)
	assert.Equal(t, email, got.Email)
	assert.Equal(t, []string{"A", "B", "C"}, got.Signals)

	leads, err := st.GetLeads(ctx, []string{lead.ID})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, []string{"A", "B", "C"}, leads[0].Signals)
	assert.Equal(t, "", leads[0].LinkedInURL)

	_, err = st.EnrichLead(ctx, "missing", model.LeadEnrichment{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_RunLeadIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)
	run, err := st.CreateRun(ctx, c.ID)
	require.NoError(t, err)

	none, err := st.RunLeadIDs(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	var want []string
	for _, name := range []string{"Ada", "Grace", "Linus"} {
		l := &model.DiscoveredLead{CampaignID: c.ID, RunID: run.ID, Name: name}
		require.NoError(t, st.InsertLead(ctx, l))
		want = append(want, l.ID)
	}
	require.NoError(t, st.InsertLead(ctx, &model.DiscoveredLead{CampaignID: c.ID, Name: "Imported"}))

	got, err := st.RunLeadIDs(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLite_Leads_ScoreReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	lead := &model.DiscoveredLead{CampaignID: c.ID, Name: "Ada", Signals: []string{"A"}}
	require.NoError(t, st.InsertLead(ctx, lead))

	require.NoError(t, st.ScoreLead(ctx, lead.ID, model.LeadScore{ConfidenceScore: 130, AISummary: "strong fit", Signals: []string{"Z"}}))

	leads, err := st.ListLeads(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, 100, leads[0].ConfidenceScore)
	assert.Equal(t, "strong fit", leads[0].AISummary)
	assert.Equal(t, []string{"Z"}, leads[0].Signals)

	assert.True(t, errors.Is(st.ScoreLead(ctx, "missing", model.LeadScore{}), ErrNotFound))
}

func TestSQLite_Leads_ReviewCountsOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st)

	a := &model.DiscoveredLead{CampaignID: c.ID, Name: "Ada"}
	b := &model.DiscoveredLead{CampaignID: c.ID, Name: "Bob"}
	require.NoError(t, st.InsertLead(ctx, a))
	require.NoError(t, st.InsertLead(ctx, b))

	now := time.Now().UTC()
	ok, err := st.ReviewLead(ctx, a.ID, model.LeadStatusApproved, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ReviewLead(ctx, a.ID, model.LeadStatusApproved, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.ReviewLead(ctx, a.ID, model.LeadStatusRejected, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.ReviewLead(ctx, b.ID, model.LeadStatusRejected, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.LeadsApproved)
	assert.Equal(t, 1, got.LeadsRejected)

	metrics, err := st.ListDailyMetrics(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 1, metrics[0].LeadsApproved)
	assert.Equal(t, 1, metrics[0].LeadsRejected)

	_, err = st.ReviewLead(ctx, "missing", model.LeadStatusApproved, now)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = st.ReviewLead(ctx, b.ID, model.LeadStatusImported, now)
	assert.Error(t, err)
}

// --- Activities & metrics ---

func TestSQLite_Activities_NewestFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	for i, action := range []string{model.ActionCampaignStarted, model.ActionDiscoveryStarted, model.ActionDiscoveryCompleted} {
		require.NoError(t, st.InsertActivity(ctx, &model.Activity{
			AgentName: model.AgentLeadScout, CampaignID: "c1", Action: action,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	acts, err := st.ListActivities(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, model.ActionDiscoveryCompleted, acts[0].Action)
	assert.Equal(t, model.ActivityInfo, acts[0].Status)
}

func TestSQLite_Metrics_Accumulate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m := model.DailyMetrics{CampaignID: "c1", Date: "2026-03-05", LeadsDiscovered: 2, APICalls: 5, CostCents: 10}
	require.NoError(t, st.UpsertDailyMetrics(ctx, m))
	require.NoError(t, st.UpsertDailyMetrics(ctx, m))
	require.NoError(t, st.UpsertDailyMetrics(ctx, model.DailyMetrics{CampaignID: "c1", Date: "2026-03-06", LeadsDiscovered: 1}))

	rows, err := st.ListDailyMetrics(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-03-06", rows[0].Date)
	assert.Equal(t, 4, rows[1].LeadsDiscovered)
	assert.Equal(t, 10, rows[1].APICalls)
	assert.Equal(t, 20, rows[1].CostCents)
}

// --- Flows ---

func TestSQLite_Flows_CreateAndQuery(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	f := &model.Flow{Name: "Welcome", Status: model.FlowStatusActive, TriggerType: model.TriggerLeadCreated}
	nodes := []model.FlowNode{
		{ID: "n1", NodeType: "trigger", Label: "Lead created", PositionY: 0},
		{ID: "n2", NodeType: "email", Label: "Send welcome", Config: json.RawMessage(`{"template":"hi"}`), PositionY: 100},
	}
	conns := []model.FlowConnection{{SourceNodeID: "n1", TargetNodeID: "n2"}}
	require.NoError(t, st.CreateFlow(ctx, f, nodes, conns))

	inactive := &model.Flow{Name: "Old", Status: model.FlowStatusInactive, TriggerType: model.TriggerLeadCreated}
	require.NoError(t, st.CreateFlow(ctx, inactive, nil, nil))

	flows, err := st.ListActiveFlows(ctx, model.TriggerLeadCreated)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, f.ID, flows[0].ID)

	none, err := st.ListActiveFlows(ctx, model.TriggerWebhook)
	require.NoError(t, err)
	assert.Empty(t, none)

	gotNodes, err := st.ListFlowNodes(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, gotNodes, 2)
	assert.Equal(t, "n1", gotNodes[0].ID)
	assert.JSONEq(t, `{"template":"hi"}`, string(gotNodes[1].Config))

	gotConns, err := st.ListFlowConnections(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, gotConns, 1)
	assert.Equal(t, "n2", gotConns[0].TargetNodeID)

	at := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkFlowRun(ctx, f.ID, at))
	got, err := st.GetFlow(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, at.Equal(*got.LastRunAt))

	assert.True(t, errors.Is(st.MarkFlowRun(ctx, "missing", at), ErrNotFound))
	_, err = st.GetFlow(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// --- Checkpoints ---

func TestSQLite_Checkpoints(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cp, err := st.GetCheckpoint(ctx, "r1", "discover")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, st.SaveCheckpoint(ctx, "r1", "discover", []byte(`{"lead_ids":["a"]}`)))
	require.NoError(t, st.SaveCheckpoint(ctx, "r1", "discover", []byte(`{"lead_ids":["a","b"]}`)))

	cp, err = st.GetCheckpoint(ctx, "r1", "discover")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.JSONEq(t, `{"lead_ids":["a","b"]}`, string(cp.Data))

	require.NoError(t, st.DeleteCheckpoints(ctx, "r1"))
	cp, err = st.GetCheckpoint(ctx, "r1", "discover")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
