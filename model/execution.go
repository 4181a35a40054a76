package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further status transition is expected
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// Halted reports whether the coordinator must stop scheduling nodes
func (s ExecutionStatus) Halted() bool {
	return s == ExecutionCancelled || s == ExecutionPaused
}

type NodeStatus string

const (
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

type WorkflowExecution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflowId"`
	UserID     string          `json:"userId"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NodeExecution is one node invocation within a run. InputSnapshot is
// recorded once when the node starts and never rewritten.
type NodeExecution struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"executionId"`
	NodeID         string         `json:"nodeId"`
	Status         NodeStatus     `json:"status"`
	StartedAt      time.Time      `json:"startedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	InputSnapshot  map[string]any `json:"inputSnapshot"`
	OutputSnapshot map[string]any `json:"outputSnapshot,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type NodeLog struct {
	ID              string    `json:"id"`
	NodeExecutionID string    `json:"nodeExecutionId"`
	Message         string    `json:"message"`
	Level           LogLevel  `json:"level"`
	CreatedAt       time.Time `json:"createdAt"`
}

// GenerateID returns a sortable unique id
func GenerateID() string {
	return ulid.Make().String()
}
