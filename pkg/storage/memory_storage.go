package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/notiflow/pkg/models"
	"github.com/pkg/errors"
)

// memoryStore implements Store in memory. Transactions are views over the same data:
// writes are applied immediately and Rollback does not undo them.
type memoryStore struct {
	mu        *sync.RWMutex
	data      *memoryData
	inTx      bool
	finished  bool
	nextLogID *int64
}

type memoryData struct {
	workflows map[string]models.WorkflowDefinition
	templates map[string]models.Template
	logs      []models.ExecutionLog
}

func NewInMemoryStore() Store {
	var nextID int64
	return &memoryStore{
		mu: &sync.RWMutex{},
		data: &memoryData{
			workflows: make(map[string]models.WorkflowDefinition),
			templates: make(map[string]models.Template),
		},
		nextLogID: &nextID,
	}
}

func (m *memoryStore) Begin() (Store, error) {
	return &memoryStore{mu: m.mu, data: m.data, inTx: true, nextLogID: m.nextLogID}, nil
}

func (m *memoryStore) Commit() error {
	if !m.inTx {
		return errors.New("cannot commit: not a transaction")
	}
	if m.finished {
		return errors.New("transaction already finished")
	}
	m.finished = true
	return nil
}

func (m *memoryStore) Rollback() error {
	if !m.inTx {
		return errors.New("cannot rollback: not a transaction")
	}
	if m.finished {
		return errors.New("transaction already finished")
	}
	m.finished = true
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) SaveWorkflow(w models.WorkflowDefinition) (string, error) {
	if m.finished {
		return "", errors.New("transaction already finished")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	m.data.workflows[w.ID] = w
	return w.ID, nil
}

func (m *memoryStore) GetWorkflow(id string) (models.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.data.workflows[id]
	if !ok {
		return models.WorkflowDefinition{}, ErrNotFound
	}
	return wf, nil
}

func (m *memoryStore) ListWorkflows() ([]models.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	workflows := make([]models.WorkflowDefinition, 0, len(m.data.workflows))
	for _, wf := range m.data.workflows {
		workflows = append(workflows, wf)
	}
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})
	return workflows, nil
}

func (m *memoryStore) SaveTemplate(t models.Template) (string, error) {
	if m.finished {
		return "", errors.New("transaction already finished")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.data.templates[t.ID] = t
	return t.ID, nil
}

func (m *memoryStore) GetTemplate(id string) (models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.data.templates[id]
	if !ok {
		return models.Template{}, ErrNotFound
	}
	return t, nil
}

func (m *memoryStore) GetTemplateContent(id string) (string, error) {
	t, err := m.GetTemplate(id)
	if err != nil {
		return "", err
	}
	return t.Content, nil
}

func (m *memoryStore) SaveExecutionLog(l models.ExecutionLog) error {
	if m.finished {
		return errors.New("transaction already finished")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.nextLogID++
	l.ID = *m.nextLogID
	if l.LoggedAt.IsZero() {
		l.LoggedAt = time.Now()
	}
	m.data.logs = append(m.data.logs, l)
	return nil
}

func (m *memoryStore) ListExecutionLogs(workflowID string) ([]models.ExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := []models.ExecutionLog{}
	for _, l := range m.data.logs {
		if l.WorkflowID == workflowID {
			logs = append(logs, l)
		}
	}
	return logs, nil
}
