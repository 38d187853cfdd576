package model

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// CanTransitionTo reports whether a campaign in status s may move to target.
func (s CampaignStatus) CanTransitionTo(target CampaignStatus) bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusCompleted:
		// A stop that cancels a run still pending pauses a campaign the
		// orchestrator has not marked running yet.
		return target == CampaignStatusRunning || target == CampaignStatusPaused
	case CampaignStatusPaused:
		return target == CampaignStatusRunning
	case CampaignStatusRunning:
		return target == CampaignStatusCompleted || target == CampaignStatusPaused
	default:
		return false
	}
}

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusRunning, CampaignStatusPaused, CampaignStatusCompleted:
		return true
	default:
		return false
	}
}

// CampaignSourcesFor lists the statuses from which target is reachable.
func CampaignSourcesFor(target CampaignStatus) []CampaignStatus {
	var out []CampaignStatus
	for _, from := range []CampaignStatus{CampaignStatusDraft, CampaignStatusRunning, CampaignStatusPaused, CampaignStatusCompleted} {
		if from.CanTransitionTo(target) {
			out = append(out, from)
		}
	}
	return out
}

// Campaign is a configured lead-discovery objective.
type Campaign struct {
	ID                  string         `json:"id" yaml:"id"`
	Name                string         `json:"name" yaml:"name"`
	Status              CampaignStatus `json:"status" yaml:"status"`
	TargetIndustry      string         `json:"target_industry,omitempty" yaml:"target_industry"`
	TargetRoles         []string       `json:"target_roles,omitempty" yaml:"target_roles"`
	TargetCompanySize   string         `json:"target_company_size,omitempty" yaml:"target_company_size"`
	TargetRegion        string         `json:"target_region,omitempty" yaml:"target_region"`
	SearchCriteria      string         `json:"search_criteria,omitempty" yaml:"search_criteria"`
	ConfidenceThreshold int            `json:"confidence_threshold" yaml:"confidence_threshold"`
	MaxLeadsPerRun      int            `json:"max_leads_per_run" yaml:"max_leads_per_run"`
	ScheduleCron        string         `json:"schedule_cron,omitempty" yaml:"schedule_cron"`
	AgentIDs            []string       `json:"agent_ids,omitempty" yaml:"agent_ids"`
	LeadsFound          int            `json:"leads_found" yaml:"-"`
	LeadsApproved       int            `json:"leads_approved" yaml:"-"`
	LeadsRejected       int            `json:"leads_rejected" yaml:"-"`
	TotalRuns           int            `json:"total_runs" yaml:"-"`
	LastRunAt           *time.Time     `json:"last_run_at,omitempty" yaml:"-"`
	CreatedAt           time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time      `json:"updated_at" yaml:"-"`
}

// CampaignCompletion is applied to a campaign when a run finalizes.
type CampaignCompletion struct {
	LeadsFound int
	At         time.Time
}

// DailyMetrics is the per-campaign, per-day aggregate row. Upserts add
// every counter to the existing row for the same (CampaignID, Date).
type DailyMetrics struct {
	CampaignID      string `json:"campaign_id"`
	Date            string `json:"date"`
	LeadsDiscovered int    `json:"leads_discovered"`
	LeadsEnriched   int    `json:"leads_enriched"`
	LeadsQualified  int    `json:"leads_qualified"`
	LeadsApproved   int    `json:"leads_approved"`
	LeadsRejected   int    `json:"leads_rejected"`
	APICalls        int    `json:"api_calls"`
	LLMTokens       int    `json:"llm_tokens"`
	CostCents       int    `json:"cost_cents"`
}

// MetricsDate formats t as the day key used by DailyMetrics.
func MetricsDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
