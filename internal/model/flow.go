package model

import (
	"encoding/json"
	"time"
)

// FlowStatus represents whether a flow reacts to triggers.
type FlowStatus string

const (
	FlowStatusDraft    FlowStatus = "draft"
	FlowStatusActive   FlowStatus = "active"
	FlowStatusInactive FlowStatus = "inactive"
)

// TriggerType names the event family a flow listens to.
type TriggerType string

const (
	TriggerManual       TriggerType = "manual"
	TriggerLeadCreated  TriggerType = "lead_created"
	TriggerContactAdded TriggerType = "contact_added"
	TriggerWebhook      TriggerType = "webhook"
	TriggerScheduled    TriggerType = "scheduled"
)

// Flow is a user-defined automation that fans out on events.
type Flow struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Description  string      `json:"description,omitempty" yaml:"description"`
	Status       FlowStatus  `json:"status" yaml:"status"`
	TriggerType  TriggerType `json:"trigger_type" yaml:"trigger_type"`
	ScheduleCron string      `json:"schedule_cron,omitempty" yaml:"schedule_cron"`
	LastRunAt    *time.Time  `json:"last_run_at,omitempty" yaml:"-"`
	CreatedAt    time.Time   `json:"created_at" yaml:"-"`
}

// FlowNode is one step in a flow graph.
type FlowNode struct {
	ID        string          `json:"id" yaml:"id"`
	FlowID    string          `json:"flow_id" yaml:"-"`
	NodeType  string          `json:"node_type" yaml:"node_type"`
	Label     string          `json:"label" yaml:"label"`
	Config    json.RawMessage `json:"config,omitempty" yaml:"-"`
	PositionX float64         `json:"position_x" yaml:"position_x"`
	PositionY float64         `json:"position_y" yaml:"position_y"`
}

// FlowConnection is a directed edge between two flow nodes.
type FlowConnection struct {
	ID           string `json:"id" yaml:"id"`
	FlowID       string `json:"flow_id" yaml:"-"`
	SourceNodeID string `json:"source_node_id" yaml:"source"`
	TargetNodeID string `json:"target_node_id" yaml:"target"`
	Label        string `json:"label,omitempty" yaml:"label"`
}
