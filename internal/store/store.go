package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/db"
	"github.com/sells-group/campaign-cli/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrIllegalTransition is returned when a status write is not allowed
	// from the row's current status.
	ErrIllegalTransition = eris.New("store: illegal status transition")
	// ErrRunActive is returned when a campaign already has a pending or
	// running run.
	ErrRunActive = eris.New("store: campaign has an active run")
	// ErrRunInactive is returned when a mid-flight write targets a run that
	// is no longer running, e.g. after an external stop.
	ErrRunInactive = eris.New("store: run is not running")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	CampaignID string            `json:"campaign_id,omitempty"`
	Statuses   []model.RunStatus `json:"statuses,omitempty"`
	// CreatedAfter, when set, excludes runs created before it.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Finalization is applied atomically when a run completes: the run moves to
// completed, the campaign counters advance, and the day's metrics row
// accumulates. It applies at most once per run.
type Finalization struct {
	RunID      string
	CampaignID string
	LeadsFound int
	TokensUsed int
	APICalls   int
	CostUSD    float64
	Metrics    model.DailyMetrics
	At         time.Time
}

// CampaignStore persists campaigns.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	TransitionCampaign(ctx context.Context, id string, to model.CampaignStatus) error
}

// RunStore is the run ledger.
type RunStore interface {
	CreateRun(ctx context.Context, campaignID string) (*model.Run, error)
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	TransitionRun(ctx context.Context, id string, to model.RunStatus, upd model.RunUpdate) error
	UpdateRunProgress(ctx context.Context, id string, p model.RunProgress) error
	CancelActiveRuns(ctx context.Context, campaignID string, at time.Time) (int, error)
	FinalizeRun(ctx context.Context, f Finalization) (bool, error)
}

// StepStore persists the per-tool-call step log.
type StepStore interface {
	InsertStep(ctx context.Context, step *model.Step) error
	MaxStepNumber(ctx context.Context, runID string) (int, error)
	CountSteps(ctx context.Context, runID string) (int, error)
	ListSteps(ctx context.Context, runID string) ([]model.Step, error)
}

// LeadStore persists discovered leads.
type LeadStore interface {
	InsertLead(ctx context.Context, lead *model.DiscoveredLead) error
	GetLeads(ctx context.Context, ids []string) ([]model.DiscoveredLead, error)
	ListLeads(ctx context.Context, campaignID string, limit int) ([]model.DiscoveredLead, error)
	// RunLeadIDs returns the ids of every lead committed by a run, oldest first.
	RunLeadIDs(ctx context.Context, runID string) ([]string, error)
	EnrichLead(ctx context.Context, id string, e model.LeadEnrichment) (*model.DiscoveredLead, error)
	ScoreLead(ctx context.Context, id string, s model.LeadScore) error
	ReviewLead(ctx context.Context, id string, decision model.LeadStatus, at time.Time) (bool, error)
}

// ActivityStore persists the activity log.
type ActivityStore interface {
	InsertActivity(ctx context.Context, a *model.Activity) error
	ListActivities(ctx context.Context, campaignID string, limit int) ([]model.Activity, error)
}

// MetricsStore persists per-day campaign aggregates.
type MetricsStore interface {
	UpsertDailyMetrics(ctx context.Context, m model.DailyMetrics) error
	ListDailyMetrics(ctx context.Context, campaignID string) ([]model.DailyMetrics, error)
}

// FlowStore persists flows and their graphs.
type FlowStore interface {
	CreateFlow(ctx context.Context, f *model.Flow, nodes []model.FlowNode, conns []model.FlowConnection) error
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	ListActiveFlows(ctx context.Context, trigger model.TriggerType) ([]model.Flow, error)
	ListFlowNodes(ctx context.Context, flowID string) ([]model.FlowNode, error)
	ListFlowConnections(ctx context.Context, flowID string) ([]model.FlowConnection, error)
	MarkFlowRun(ctx context.Context, flowID string, at time.Time) error
}

// CheckpointStore is the durable step journal.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, runID, step string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, runID, step string, data []byte) error
	DeleteCheckpoints(ctx context.Context, runID string) error
}

// Store defines the persistence interface for campaign orchestration.
type Store interface {
	CampaignStore
	RunStore
	StepStore
	LeadStore
	ActivityStore
	MetricsStore
	FlowStore
	CheckpointStore

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// metricsUpsertColumns is shared by both backends.
var metricsUpsertColumns = []string{
	"campaign_id", "metric_date",
	"leads_discovered", "leads_enriched", "leads_qualified",
	"leads_approved", "leads_rejected",
	"api_calls", "llm_tokens", "cost_cents",
}

func metricsArgs(m model.DailyMetrics) []any {
	return []any{
		m.CampaignID, m.Date,
		m.LeadsDiscovered, m.LeadsEnriched, m.LeadsQualified,
		m.LeadsApproved, m.LeadsRejected,
		m.APICalls, m.LLMTokens, m.CostCents,
	}
}

func transitionError(entity, id string, from, to any) error {
	return eris.Wrapf(ErrIllegalTransition, "%s %s: %v -> %v", entity, id, from, to)
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

func mustMetricsUpsertSQL(ph db.Placeholder) string {
	q, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "campaign_metrics",
		Columns:      metricsUpsertColumns,
		ConflictKeys: metricsUpsertColumns[:2],
		AddCols:      metricsUpsertColumns[2:],
	}, ph)
	if err != nil {
		panic(err)
	}
	return q
}

// inClause renders n placeholders starting at bind position start.
func inClause(ph db.Placeholder, start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = ph(start + i)
	}
	return strings.Join(parts, ", ")
}

func runStatusArgs(statuses []model.RunStatus) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func campaignStatusArgs(statuses []model.CampaignStatus) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func reviewColumn(decision model.LeadStatus) (string, error) {
	switch decision {
	case model.LeadStatusApproved:
		return "leads_approved", nil
	case model.LeadStatusRejected:
		return "leads_rejected", nil
	default:
		return "", eris.Errorf("store: unsupported review decision %q", decision)
	}
}

func reviewMetrics(campaignID string, decision model.LeadStatus, at time.Time) model.DailyMetrics {
	m := model.DailyMetrics{CampaignID: campaignID, Date: model.MetricsDate(at)}
	if decision == model.LeadStatusApproved {
		m.LeadsApproved = 1
	} else {
		m.LeadsRejected = 1
	}
	return m
}

func applyEnrichment(l *model.DiscoveredLead, e model.LeadEnrichment) {
	if e.Email != nil {
		l.Email = *e.Email
	}
	if e.LinkedInURL != nil {
		l.LinkedInURL = *e.LinkedInURL
	}
	if e.AISummary != nil {
		l.AISummary = *e.AISummary
	}
	l.Signals = model.MergeSignals(l.Signals, e.Signals)
}

func marshalStrings(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}

func unmarshalStrings(b []byte) ([]string, error) {
	if len(b) == 0 {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}
