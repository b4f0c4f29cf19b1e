package service

import (
	"context"
	"time"

	"github.com/ignatij/notiflow/pkg/models"
	"github.com/ignatij/notiflow/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for WorkflowService
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// defaults used when a workflow is scheduled without a recurrence
const (
	DefaultScheduleWeekday = 1
	DefaultScheduleHour    = 10

	TextWorkflowName = "Workflow from text"
)

type Options struct {
	Workers       int
	QueueSize     int
	TaskTimeout   time.Duration
	OperatorEmail string
	MeetingLink   string
	Retry         RetryPolicy
	// Scheduler defaults to a cron scheduler in Location (UTC when nil).
	Scheduler Scheduler
	Location  *time.Location
}

// WorkflowService is the boundary used by the API and CLI: it stores workflow
// definitions and templates, plans and dispatches workflows and manages their
// weekly schedules.
type WorkflowService struct {
	store      storage.Store
	logger     Logger
	dispatcher *Dispatcher
	registry   *Registry
}

func NewWorkflowService(ctx context.Context, store storage.Store, notifier Notifier, opts Options, logger Logger) (*WorkflowService, error) {
	monitor := NewMonitor(notifier, opts.OperatorEmail, logger)
	d := NewDispatcher(ctx, DispatcherConfig{
		QueueSize:   opts.QueueSize,
		TaskTimeout: opts.TaskTimeout,
	}, store, store, monitor, logger)

	link := opts.MeetingLink
	if link == "" {
		link = DefaultMeetingLink
	}
	if err := d.RegisterHandler(models.EmailStepType, NewEmailHandler(notifier)); err != nil {
		return nil, err
	}
	meeting := NewMeetingHandler(notifier, StaticLink(link))
	for _, stepType := range []models.StepType{models.MeetingStepType, models.LegacyMeetStepType} {
		if err := d.RegisterHandler(stepType, meeting); err != nil {
			return nil, err
		}
	}
	if opts.Retry.MaxAttempts > 1 {
		d.SetExecutor(WithRetry(d, opts.Retry, logger))
	}
	d.Start(opts.Workers)

	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = NewCronScheduler(opts.Location)
	}
	registry := NewRegistry(scheduler, d, logger)
	registry.Start()

	return &WorkflowService{
		store:      store,
		logger:     logger,
		dispatcher: d,
		registry:   registry,
	}, nil
}

// Dispatcher exposes the dispatcher for registering additional step types.
func (s *WorkflowService) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Close stops the schedule triggers and waits for queued tasks to finish.
func (s *WorkflowService) Close() {
	s.registry.Stop()
	s.dispatcher.Stop()
}

func (s *WorkflowService) CreateWorkflow(name string, steps []models.StepSpec, recurrence *models.ScheduleSpec) (id string, err error) {
	if name == "" {
		return "", errors.Wrap(ErrInvalidInput, "workflow name cannot be empty")
	}
	if len(name) > 100 {
		return "", errors.Wrap(ErrInvalidInput, "workflow name too long (max 100 characters)")
	}
	if recurrence != nil {
		if err := recurrence.Validate(); err != nil {
			return "", errors.Wrapf(ErrInvalidSchedule, "%v", err)
		}
	}
	txStore, err := s.store.Begin()
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	wf := models.WorkflowDefinition{
		Name:       name,
		Steps:      steps,
		Recurrence: recurrence,
		CreatedAt:  time.Now(),
	}
	id, err = txStore.SaveWorkflow(wf)
	if err != nil {
		return "", err
	}
	s.logger.Infof("Created workflow '%s' with ID %s (%d steps)", name, id, len(steps))
	return id, nil
}

// GetWorkflow fetches a workflow definition
func (s *WorkflowService) GetWorkflow(id string) (models.WorkflowDefinition, error) {
	wf, err := s.store.GetWorkflow(id)
	if err != nil {
		return models.WorkflowDefinition{}, errors.Wrapf(err, "failed to get workflow %s", id)
	}
	return wf, nil
}

func (s *WorkflowService) ListWorkflows() ([]models.WorkflowDefinition, error) {
	return s.store.ListWorkflows()
}

// PlanWorkflow returns the execution plan of a stored workflow without running it.
func (s *WorkflowService) PlanWorkflow(id string) (models.ExecutionPlan, error) {
	wf, err := s.GetWorkflow(id)
	if err != nil {
		return nil, err
	}
	return Plan(wf), nil
}

// ExecuteWorkflow plans a workflow and enqueues every step. It returns once the steps
// are queued; results show up in the execution logs.
func (s *WorkflowService) ExecuteWorkflow(id string) ([]models.TaskHandle, error) {
	plan, err := s.PlanWorkflow(id)
	if err != nil {
		return nil, err
	}
	handles, err := s.dispatcher.SubmitPlan(id, plan)
	if err != nil {
		return handles, errors.Wrapf(err, "execute workflow %s", id)
	}
	s.logger.Infof("Enqueued %d tasks for workflow %s", len(handles), id)
	return handles, nil
}

// ScheduleWorkflow registers the weekly trigger of a workflow. The first planned step is
// captured as the payload replayed on every firing.
func (s *WorkflowService) ScheduleWorkflow(id string) (models.ScheduleEntry, error) {
	wf, err := s.GetWorkflow(id)
	if err != nil {
		return models.ScheduleEntry{}, err
	}
	spec := models.ScheduleSpec{Weekday: DefaultScheduleWeekday, Hour: DefaultScheduleHour}
	if wf.Recurrence != nil {
		spec = *wf.Recurrence
	}
	plan := Plan(wf)
	if len(plan) == 0 {
		return models.ScheduleEntry{}, errors.Wrapf(ErrEmptyWorkflow, "schedule workflow %s", id)
	}
	return s.registry.Schedule(id, spec, plan[0])
}

func (s *WorkflowService) Schedules() []models.ScheduleEntry {
	return s.registry.Entries()
}

func (s *WorkflowService) CreateTemplate(name, content string) (id string, err error) {
	if name == "" {
		return "", errors.Wrap(ErrInvalidInput, "template name cannot be empty")
	}
	if content == "" {
		return "", errors.Wrap(ErrInvalidInput, "template content cannot be empty")
	}
	id, err = s.store.SaveTemplate(models.Template{Name: name, Content: content, CreatedAt: time.Now()})
	if err != nil {
		return "", errors.Wrap(err, "save template")
	}
	s.logger.Infof("Created template '%s' with ID %s", name, id)
	return id, nil
}

func (s *WorkflowService) GetTemplate(id string) (models.Template, error) {
	t, err := s.store.GetTemplate(id)
	if err != nil {
		return models.Template{}, errors.Wrapf(err, "failed to get template %s", id)
	}
	return t, nil
}

func (s *WorkflowService) ListExecutionLogs(workflowID string) ([]models.ExecutionLog, error) {
	if _, err := s.GetWorkflow(workflowID); err != nil {
		return nil, err
	}
	return s.store.ListExecutionLogs(workflowID)
}

// BuildFromText drafts a workflow definition from a free-text request. Nothing is stored.
func (s *WorkflowService) BuildFromText(text, templateID string) models.WorkflowDefinition {
	def := BuildDefinition(text, templateID)
	def.Name = TextWorkflowName
	return def
}
