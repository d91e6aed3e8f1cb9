package scheduler

import (
	"time"

	"github.com/redstone-dev/redstone/internal/agents"
)

// TaskStatus represents the current state of an agent task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// FailureMode determines how a node's failure affects its successors.
type FailureMode string

const (
	FailSoft FailureMode = ""     // Successors run and receive a failure marker
	FailHard FailureMode = "hard" // Successors fail without being invoked
)

// AgentTask is one agent invocation within a turn.
type AgentTask struct {
	ID            string           `json:"id"`
	TurnID        string           `json:"turn_id"`
	SessionID     string           `json:"session_id"`
	NodeID        string           `json:"node_id"`
	AgentType     agents.AgentType `json:"agent_type"`
	Label         string           `json:"label"`
	Status        TaskStatus       `json:"status"`
	Output        string           `json:"output,omitempty"`
	Error         string           `json:"error,omitempty"`
	FilesModified []string         `json:"files_modified"` // set after the turn's writes are applied
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

func cloneTask(task *AgentTask) *AgentTask {
	if task == nil {
		return nil
	}

	cp := *task
	cp.FilesModified = append([]string{}, task.FilesModified...)
	if task.StartedAt != nil {
		t := *task.StartedAt
		cp.StartedAt = &t
	}
	if task.CompletedAt != nil {
		t := *task.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
