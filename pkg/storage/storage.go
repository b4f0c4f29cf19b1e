package storage

import (
	"github.com/ignatij/notiflow/pkg/models"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

// Store defines the storage operations for notiflow.
type Store interface {
	// Workflow operations
	SaveWorkflow(w models.WorkflowDefinition) (string, error)
	GetWorkflow(id string) (models.WorkflowDefinition, error)
	ListWorkflows() ([]models.WorkflowDefinition, error)

	// Template operations
	SaveTemplate(t models.Template) (string, error)
	GetTemplate(id string) (models.Template, error)
	GetTemplateContent(id string) (string, error)

	// Execution log operations
	SaveExecutionLog(l models.ExecutionLog) error
	ListExecutionLogs(workflowID string) ([]models.ExecutionLog, error)

	// Transactions
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error
}
