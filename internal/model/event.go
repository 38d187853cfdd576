package model

import (
	"encoding/json"
	"time"
)

// Event names accepted on the intake surface.
const (
	EventCampaignStarted = "campaign/started"
	EventLeadCreated     = "lead/created"
	EventContactAdded    = "contact/added"
)

// CampaignStarted is the sole trigger for a pipeline run.
type CampaignStarted struct {
	CampaignID string   `json:"campaignId"`
	RunID      string   `json:"runId"`
	AgentIDs   []string `json:"agentIds,omitempty"`
}

// RecordCreated is emitted when a lead or contact is created.
type RecordCreated struct {
	Event    string          `json:"event"`
	RecordID string          `json:"recordId,omitempty"`
	Name     string          `json:"name,omitempty"`
	Email    string          `json:"email,omitempty"`
	Company  string          `json:"company,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// TriggerType maps the event name to the flows it should reach.
func (e RecordCreated) TriggerType() (TriggerType, bool) {
	switch e.Event {
	case EventLeadCreated:
		return TriggerLeadCreated, true
	case EventContactAdded:
		return TriggerContactAdded, true
	default:
		return "", false
	}
}

// WebhookReceived is an inbound webhook addressed to one or all webhook flows.
type WebhookReceived struct {
	FlowID  string          `json:"flowId,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ScheduledTick is emitted by the cron scanner.
type ScheduledTick struct {
	At time.Time `json:"at"`
}

// FlowExecution reports what a fan-out did for a single flow.
type FlowExecution struct {
	FlowID    string `json:"flowId"`
	FlowName  string `json:"flowName"`
	NodeCount int    `json:"nodeCount"`
	Trigger   string `json:"trigger"`
}
