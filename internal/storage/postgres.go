package storage

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/ignatij/notiflow/pkg/models"
	"github.com/ignatij/notiflow/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}
type PostgresStore struct {
	db DBInterface
}

// workflowRow is the table layout of a workflow; steps and recurrence live in one JSONB column.
type workflowRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Definition []byte    `db:"definition"`
	CreatedAt  time.Time `db:"created_at"`
}

type workflowBody struct {
	Steps      []models.StepSpec    `json:"steps"`
	Recurrence *models.ScheduleSpec `json:"recurrence,omitempty"`
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, errors.New("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return errors.New("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return errors.New("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveWorkflow stores a definition and returns its generated UUID
func (s *PostgresStore) SaveWorkflow(w models.WorkflowDefinition) (string, error) {
	body, err := json.Marshal(workflowBody{Steps: w.Steps, Recurrence: w.Recurrence})
	if err != nil {
		return "", errors.Wrap(err, "encode workflow definition")
	}
	id := uuid.NewString()
	_, err = s.db.Exec("INSERT INTO workflows (id, name, definition, created_at) VALUES ($1, $2, $3, $4)",
		id, w.Name, body, w.CreatedAt)
	if err != nil {
		return "", errors.Wrap(err, "save workflow")
	}
	return id, nil
}

func (s *PostgresStore) GetWorkflow(id string) (models.WorkflowDefinition, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.WorkflowDefinition{}, storage.ErrNotFound
	}
	var row workflowRow
	err := s.db.Get(&row, "SELECT id, name, definition, created_at FROM workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowDefinition{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowDefinition{}, errors.Wrapf(err, "get workflow %s", id)
	}
	return row.toModel()
}

func (s *PostgresStore) ListWorkflows() ([]models.WorkflowDefinition, error) {
	rows := []workflowRow{}
	err := s.db.Select(&rows, "SELECT id, name, definition, created_at FROM workflows ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	workflows := make([]models.WorkflowDefinition, 0, len(rows))
	for _, row := range rows {
		wf, err := row.toModel()
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

func (r workflowRow) toModel() (models.WorkflowDefinition, error) {
	var body workflowBody
	if err := json.Unmarshal(r.Definition, &body); err != nil {
		return models.WorkflowDefinition{}, errors.Wrapf(err, "decode workflow %s", r.ID)
	}
	return models.WorkflowDefinition{
		ID:         r.ID,
		Name:       r.Name,
		Steps:      body.Steps,
		Recurrence: body.Recurrence,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func (s *PostgresStore) SaveTemplate(t models.Template) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec("INSERT INTO templates (id, name, content, created_at) VALUES ($1, $2, $3, $4)",
		id, t.Name, t.Content, t.CreatedAt)
	if err != nil {
		return "", errors.Wrap(err, "save template")
	}
	return id, nil
}

func (s *PostgresStore) GetTemplate(id string) (models.Template, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Template{}, storage.ErrNotFound
	}
	var t models.Template
	err := s.db.Get(&t, "SELECT id, name, content, created_at FROM templates WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Template{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Template{}, err
	}
	return t, nil
}

func (s *PostgresStore) GetTemplateContent(id string) (string, error) {
	t, err := s.GetTemplate(id)
	if err != nil {
		return "", err
	}
	return t.Content, nil
}

// SaveExecutionLog appends one task outcome to the audit trail
func (s *PostgresStore) SaveExecutionLog(l models.ExecutionLog) error {
	_, err := s.db.Exec(`
		INSERT INTO execution_logs (workflow_id, task_id, step_order, step_type, status, message, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.WorkflowID, l.TaskID, l.StepOrder, l.StepType, l.Status, l.Message, l.LoggedAt)
	if err != nil {
		return errors.Wrapf(err, "save execution log for task %s", l.TaskID)
	}
	return nil
}

func (s *PostgresStore) ListExecutionLogs(workflowID string) ([]models.ExecutionLog, error) {
	logs := []models.ExecutionLog{}
	if _, err := uuid.Parse(workflowID); err != nil {
		return logs, nil
	}
	err := s.db.Select(&logs, `
		SELECT id, workflow_id, task_id, step_order, step_type, status, message, logged_at
		FROM execution_logs WHERE workflow_id = $1 ORDER BY id`, workflowID)
	if err != nil {
		return nil, err
	}
	return logs, nil
}
