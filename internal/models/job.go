package models

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates the lifecycle states of a workflow job.
type JobStatus string

const (
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Workflow modes a job can run in.
const (
	ModeWorkflow = "workflow"
	ModePhased   = "phased"
)

// Job is a point-in-time snapshot of a workflow job.
type Job struct {
	ID           string     `json:"id"`
	Status       JobStatus  `json:"status"`
	EPURL        string     `json:"ep_url"`
	Mode         string     `json:"mode"`
	Output       string     `json:"output"`
	CostUSD      float64    `json:"cost_usd"`
	Error        *string    `json:"error"`
	MessageCount int        `json:"message_count"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// EventType classifies one unit of agent activity.
type EventType string

const (
	EventText       EventType = "text"
	EventThinking   EventType = "thinking"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventResult     EventType = "result"
	EventUnknown    EventType = "unknown"
)

// RoleOrchestrator marks text events written by the pipeline itself
// (phase progress, CI polling) rather than by the agent. Agent events carry
// the collaborator's message role: assistant, user or system.
const RoleOrchestrator = "orchestrator"

// Event is one classified entry of a job's conversation log.
type Event struct {
	Type      EventType       `json:"type"`
	Role      string          `json:"role,omitempty"`
	Session   string          `json:"session,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	CostUSD   float64         `json:"cost_usd,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// JobRecord is a finalized job as persisted in the history store.
type JobRecord struct {
	ID           string    `json:"id"`
	EPURL        string    `json:"ep_url"`
	Mode         string    `json:"mode"`
	Status       JobStatus `json:"status"`
	Output       string    `json:"output"`
	CostUSD      float64   `json:"cost_usd"`
	Error        *string   `json:"error,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// IsNote reports whether ev is a pipeline progress note rather than agent output.
func (ev Event) IsNote() bool {
	return ev.Type == EventText && ev.Role == RoleOrchestrator
}
