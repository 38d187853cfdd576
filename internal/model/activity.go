package model

import "time"

// ActivityStatus classifies an activity log entry.
type ActivityStatus string

const (
	ActivityInfo    ActivityStatus = "info"
	ActivitySuccess ActivityStatus = "success"
	ActivityError   ActivityStatus = "error"
)

// Agent names written to the activity log.
const (
	AgentCampaignRunner = "Campaign Runner"
	AgentLeadScout      = "Lead Scout"
	AgentLeadEnricher   = "Lead Enricher"
	AgentLeadQualifier  = "Lead Qualifier"
	AgentFlowEngine     = "Flow Engine"
)

// Activity actions.
const (
	ActionCampaignStarted    = "campaign_started"
	ActionCampaignCompleted  = "campaign_completed"
	ActionCampaignStopped    = "campaign_stopped"
	ActionCampaignFailed     = "campaign_failed"
	ActionDiscoveryStarted   = "discovery_started"
	ActionDiscoveryCompleted = "discovery_completed"
	ActionDiscoveryError     = "discovery_error"
	ActionLeadDiscovered     = "lead_discovered"
	ActionEnrichmentStarted  = "enrichment_started"
	ActionEnrichmentComplete = "enrichment_completed"
	ActionEnrichmentError    = "enrichment_error"
	ActionLeadEnriched       = "lead_enriched"
	ActionQualificationStart = "qualification_started"
	ActionQualificationDone  = "qualification_completed"
	ActionQualificationError = "qualification_error"
	ActionLeadQualified      = "lead_qualified"
	ActionLeadApproved       = "lead_approved"
	ActionLeadRejected       = "lead_rejected"
	ActionFlowAutoTriggered  = "flow_auto_triggered"
	ActionFlowScheduledRun   = "flow_scheduled_run"
	ActionFlowManualTrigger  = "flow_manual_trigger"
	ActionWebhookReceived    = "webhook_received"
)

// Activity is an append-only observability entry.
type Activity struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id,omitempty"`
	AgentName  string         `json:"agent_name"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Action     string         `json:"action"`
	Detail     string         `json:"detail"`
	Status     ActivityStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}
