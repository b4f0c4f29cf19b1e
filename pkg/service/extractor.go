package service

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ignatij/notiflow/pkg/models"
)

const defaultTextSubject = "Automated Workflow Email"

// weekdays is scanned in this order; the first name found anywhere in the text wins.
var weekdays = []struct {
	name string
	day  int
}{
	{"monday", 0},
	{"tuesday", 1},
	{"wednesday", 2},
	{"thursday", 3},
	{"friday", 4},
	{"saturday", 5},
	{"sunday", 6},
}

var (
	hourPattern  = regexp.MustCompile(`(?i)(\d{1,2})\s?(am|pm)`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
)

// ExtractSchedule pulls a weekday and an hour out of free text. It never fails:
// anything it cannot find is left nil for the caller to default.
//
// The weekday is the first of monday..sunday contained in the text, which is not
// necessarily the one that appears first ("sunday or monday" yields Monday).
func ExtractSchedule(text string) models.ScheduleHint {
	var hint models.ScheduleHint
	lower := strings.ToLower(text)

	for _, w := range weekdays {
		if strings.Contains(lower, w.name) {
			day := w.day
			hint.Weekday = &day
			break
		}
	}

	if m := hourPattern.FindStringSubmatch(lower); m != nil {
		if hour, ok := to24Hour(m[1], m[2]); ok {
			hint.Hour = &hour
		}
	}
	return hint
}

// to24Hour converts a 12-hour clock reading. Readings outside 1-12 are rejected.
func to24Hour(digits, period string) (int, bool) {
	hr, err := strconv.Atoi(digits)
	if err != nil || hr < 1 || hr > 12 {
		return 0, false
	}
	switch {
	case period == "am" && hr == 12:
		hr = 0
	case period == "pm" && hr != 12:
		hr += 12
	}
	return hr, true
}

// ExtractEmail returns the first email address in text, or "".
func ExtractEmail(text string) string {
	return emailPattern.FindString(text)
}

// BuildDefinition turns a free-text request into a single email step workflow.
// The recurrence is set only when both weekday and hour were found.
func BuildDefinition(text, templateID string) models.WorkflowDefinition {
	payload := map[string]interface{}{
		"subject": defaultTextSubject,
	}
	if to := ExtractEmail(text); to != "" {
		payload["to"] = to
	}
	if templateID != "" {
		payload["template_id"] = templateID
	}

	def := models.WorkflowDefinition{
		Steps: []models.StepSpec{{Type: models.EmailStepType, Payload: payload}},
	}
	if spec, ok := ExtractSchedule(text).Spec(); ok {
		def.Recurrence = &spec
	}
	return def
}
