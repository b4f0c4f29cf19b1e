package models

import "time"

// ScheduleEntry is a named weekly trigger that replays a step snapshot for one workflow.
type ScheduleEntry struct {
	Name        string       `json:"name"`
	WorkflowID  string       `json:"workflow_id"`
	Trigger     ScheduleSpec `json:"trigger"`
	Payload     PlannedStep  `json:"payload"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	NextRunAt   time.Time    `json:"next_run_at"`
}
