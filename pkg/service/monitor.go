package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ignatij/notiflow/pkg/models"
)

const (
	AlertSubject = "Agentic Workflow Alert"
	alertTimeout = 30 * time.Second
)

// Monitor raises an operator alert for every failed task. Alert delivery is best
// effort: a failing alert is logged and dropped.
type Monitor struct {
	notifier Notifier
	operator string
	logger   Logger
}

func NewMonitor(notifier Notifier, operator string, logger Logger) *Monitor {
	return &Monitor{notifier: notifier, operator: operator, logger: logger}
}

func (m *Monitor) Observe(ctx context.Context, result models.TaskResult, task models.Task) {
	if result.Status != models.FailedTaskStatus {
		m.logger.Infof("Task %s (workflow %s, step %d) succeeded; no alert", task.ID, task.WorkflowID, task.Step.Order)
		return
	}
	if m.operator == "" {
		m.logger.Errorf("Task %s failed but no operator recipient is configured: %s", task.ID, result.Error)
		return
	}

	// the task context may already be expired when the failure was a timeout
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	if err := m.notifier.Send(alertCtx, m.operator, AlertSubject, AlertMessage(result, task)); err != nil {
		m.logger.Errorf("Failed to send alert for task %s: %v", task.ID, err)
		return
	}
	m.logger.Infof("Sent alert for task %s to %s", task.ID, m.operator)
}

// AlertMessage embeds the failure reason and the originating step.
func AlertMessage(result models.TaskResult, task models.Task) string {
	return fmt.Sprintf("Task failed: %s. Task info: workflow=%s step=%d type=%s payload=%v",
		result.Error, task.WorkflowID, task.Step.Order, task.Step.Type, task.Step.Payload)
}
