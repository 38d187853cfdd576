package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of a campaign run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusError     RunStatus = "error"
)

// AgentTypeFullPipeline marks runs that execute discover, enrich and qualify.
const AgentTypeFullPipeline = "full_pipeline"

// RunStepsTotal is the number of stages a full pipeline run attempts.
const RunStepsTotal = 3

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending: {RunStatusRunning, RunStatusCancelled, RunStatusError},
	RunStatusRunning: {RunStatusCompleted, RunStatusCancelled, RunStatusError},
}

// CanTransitionTo reports whether a run in status s may move to target.
func (s RunStatus) CanTransitionTo(target RunStatus) bool {
	for _, t := range runTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCancelled, RunStatusError:
		return true
	default:
		return false
	}
}

// IsActive reports whether the run blocks a new start for its campaign.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusCancelled, RunStatusError:
		return true
	default:
		return false
	}
}

// RunSourcesFor lists the statuses from which target is reachable.
func RunSourcesFor(target RunStatus) []RunStatus {
	var out []RunStatus
	for _, from := range []RunStatus{RunStatusPending, RunStatusRunning} {
		if from.CanTransitionTo(target) {
			out = append(out, from)
		}
	}
	return out
}

// ActiveRunStatuses are the statuses treated as "already active" by start.
var ActiveRunStatuses = []RunStatus{RunStatusPending, RunStatusRunning}

// Run is one execution attempt of a campaign pipeline.
type Run struct {
	ID             string     `json:"id"`
	CampaignID     string     `json:"campaign_id"`
	AgentType      string     `json:"agent_type"`
	Status         RunStatus  `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	StepsCompleted int        `json:"steps_completed"`
	StepsTotal     int        `json:"steps_total"`
	LeadsFound     int        `json:"leads_found"`
	LLMTokensUsed  int        `json:"llm_tokens_used"`
	APICallsMade   int        `json:"api_calls_made"`
	CostUSD        float64    `json:"cost_usd"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RunUpdate carries the optional fields written alongside a status transition.
type RunUpdate struct {
	StartedAt    *time.Time
	CompletedAt  *time.Time
	StepsTotal   *int
	ErrorMessage string
}

// RunProgress is the mid-flight counter snapshot written after each round.
type RunProgress struct {
	StepsCompleted int `json:"steps_completed"`
	LeadsFound     int `json:"leads_found"`
	TokensUsed     int `json:"tokens_used"`
	APICalls       int `json:"api_calls"`
}

// StepStatus is the outcome of a single recorded tool call.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusError     StepStatus = "error"
)

// Step is one recorded tool invocation within a run.
type Step struct {
	ID           string          `json:"id"`
	RunID        string          `json:"run_id"`
	CampaignID   string          `json:"campaign_id"`
	StepNumber   int             `json:"step_number"`
	Stage        string          `json:"stage"`
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput   json.RawMessage `json:"tool_output,omitempty"`
	Status       StepStatus      `json:"status"`
	DurationMS   int64           `json:"duration_ms"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Checkpoint stores the memoized result of one durable pipeline step.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}
