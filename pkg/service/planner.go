package service

import (
	"maps"

	"github.com/ignatij/notiflow/pkg/models"
)

// Plan linearizes a workflow definition. Steps keep their stored order and are never
// validated here; unknown types are planned and rejected later by the dispatcher.
func Plan(def models.WorkflowDefinition) models.ExecutionPlan {
	plan := make(models.ExecutionPlan, 0, len(def.Steps))
	for i, s := range def.Steps {
		plan = append(plan, models.PlannedStep{
			Order:   i,
			Type:    s.Type,
			Payload: clonePayload(s.Payload),
		})
	}
	return plan
}

func clonePayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	return maps.Clone(p)
}

func cloneStep(s models.PlannedStep) models.PlannedStep {
	s.Payload = clonePayload(s.Payload)
	return s
}
