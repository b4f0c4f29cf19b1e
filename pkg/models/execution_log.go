package models

import "time"

// ExecutionLog tracks the outcome of each task for auditing.
type ExecutionLog struct {
	ID         int64      `json:"id" db:"id"`                     // Auto-incremented log ID
	WorkflowID string     `json:"workflow_id" db:"workflow_id"`   // Parent workflow
	TaskID     string     `json:"task_id" db:"task_id"`           // Task being logged
	StepOrder  int        `json:"step_order" db:"step_order"`     // Position in the plan
	StepType   StepType   `json:"step_type" db:"step_type"`       // email, meeting, ...
	Status     TaskStatus `json:"status" db:"status"`             // SUCCESS or FAILED
	Message    string     `json:"message,omitempty" db:"message"` // Failure reason, empty on success
	LoggedAt   time.Time  `json:"logged_at" db:"logged_at"`       // Timestamp of log entry
}
