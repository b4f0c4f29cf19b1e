package models

import (
	"fmt"
	"time"
)

type StepType string

const (
	EmailStepType      StepType = "email"
	MeetingStepType    StepType = "meeting"
	// LegacyMeetStepType is the old name of the meeting step, kept for stored definitions.
	LegacyMeetStepType StepType = "meet"
)

// WorkflowDefinition is an ordered list of notification steps plus an optional weekly recurrence.
type WorkflowDefinition struct {
	ID         string        `json:"id"`                   // UUID assigned by the store
	Name       string        `json:"name"`                 // Descriptive name (e.g., "WeeklyReport")
	Steps      []StepSpec    `json:"steps"`                // Steps in execution order
	Recurrence *ScheduleSpec `json:"recurrence,omitempty"` // Optional weekly trigger
	CreatedAt  time.Time     `json:"created_at"`           // Creation timestamp
}

// StepSpec is one typed step of a workflow definition.
type StepSpec struct {
	Type    StepType               `json:"type"`
	Payload map[string]interface{} `json:"payload"` // recipient(s), subject, body, template_id
}

// ScheduleSpec is a weekly trigger at Hour:00 on Weekday (Monday=0).
type ScheduleSpec struct {
	Weekday int `json:"weekday"`
	Hour    int `json:"hour"`
}

func (s ScheduleSpec) Validate() error {
	if s.Weekday < 0 || s.Weekday > 6 {
		return fmt.Errorf("weekday %d out of range 0-6", s.Weekday)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("hour %d out of range 0-23", s.Hour)
	}
	return nil
}

// ScheduleHint is what could be extracted from free text. Nil fields were not found.
type ScheduleHint struct {
	Weekday *int `json:"weekday"`
	Hour    *int `json:"hour"`
}

// Spec returns the hint as a ScheduleSpec if both fields are present.
func (h ScheduleHint) Spec() (ScheduleSpec, bool) {
	if h.Weekday == nil || h.Hour == nil {
		return ScheduleSpec{}, false
	}
	return ScheduleSpec{Weekday: *h.Weekday, Hour: *h.Hour}, true
}
