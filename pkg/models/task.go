package models

import "time"

type TaskStatus string

const (
	SuccessTaskStatus TaskStatus = "SUCCESS"
	FailedTaskStatus  TaskStatus = "FAILED"
)

// PlannedStep is a step with its position in the execution plan.
type PlannedStep struct {
	Order   int                    `json:"order"`
	Type    StepType               `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// ExecutionPlan is the linear form of a workflow, ordered by PlannedStep.Order.
type ExecutionPlan []PlannedStep

// Task is one asynchronous execution of a planned step.
type Task struct {
	ID          string      `json:"id"`
	WorkflowID  string      `json:"workflow_id"`
	Step        PlannedStep `json:"step"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

// TaskHandle is returned to the submitter; the task itself runs detached.
type TaskHandle struct {
	TaskID      string    `json:"task_id"`
	Order       int       `json:"order"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TaskResult is the terminal outcome of a task.
type TaskResult struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}
