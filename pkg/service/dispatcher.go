package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/notiflow/pkg/models"
	"github.com/pkg/errors"
)

// TemplateSource resolves template references found in step payloads.
type TemplateSource interface {
	GetTemplateContent(id string) (string, error)
}

// ResultStore receives one audit record per completed task.
type ResultStore interface {
	SaveExecutionLog(l models.ExecutionLog) error
}

// Observer is told about every terminal task result exactly once.
type Observer interface {
	Observe(ctx context.Context, result models.TaskResult, task models.Task)
}

// StepExecutor performs one attempt of a task. Decorators such as WithRetry wrap it.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, task models.Task) error
}

// DispatcherConfig sizes the worker pool queue. The worker count is passed to Start.
type DispatcherConfig struct {
	QueueSize   int
	TaskTimeout time.Duration
}

// Dispatcher validates planned steps, resolves template references and runs the
// resulting tasks on a worker pool. Submission is fire-and-forget: outcomes are only
// visible through the ResultStore and the Observer.
type Dispatcher struct {
	handlers  map[models.StepType]StepHandler
	templates TemplateSource
	results   ResultStore
	observer  Observer
	executor  StepExecutor
	pool      *WorkerPool
	logger    Logger
	mu        sync.RWMutex
}

func NewDispatcher(
	ctx context.Context,
	cfg DispatcherConfig,
	templates TemplateSource,
	results ResultStore,
	observer Observer,
	logger Logger) *Dispatcher {
	d := &Dispatcher{
		handlers:  make(map[models.StepType]StepHandler),
		templates: templates,
		results:   results,
		observer:  observer,
		logger:    logger,
	}
	d.executor = d
	d.pool = NewWorkerPool(ctx, cfg.QueueSize, cfg.TaskTimeout, d.run, logger)
	return d
}

// RegisterHandler adds a step type to the dispatch table.
func (d *Dispatcher) RegisterHandler(stepType models.StepType, h StepHandler) error {
	if stepType == "" {
		return errors.New("empty step type")
	}
	if h == nil {
		return errors.Errorf("nil handler for step type '%s'", stepType)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[stepType]; exists {
		return errors.Errorf("handler for step type '%s' already registered", stepType)
	}
	d.handlers[stepType] = h
	d.logger.Infof("Registered handler for step type '%s'", stepType)
	return nil
}

// SetExecutor replaces the attempt executor, typically with a decorated version of the
// dispatcher itself.
func (d *Dispatcher) SetExecutor(e StepExecutor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executor = e
}

func (d *Dispatcher) Start(workers int) {
	d.pool.Start(workers)
}

// Stop waits for queued tasks to finish.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

func (d *Dispatcher) handler(stepType models.StepType) (StepHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[stepType]
	return h, ok
}

// Validate checks that a planned step has a known type and a complete payload.
func (d *Dispatcher) Validate(step models.PlannedStep) error {
	h, ok := d.handler(step.Type)
	if !ok {
		return errors.Wrapf(ErrUnknownStepType, "step %d type '%s'", step.Order, step.Type)
	}
	if err := h.Validate(step.Payload); err != nil {
		return errors.Wrapf(ErrInvalidStep, "step %d (%v)", step.Order, err)
	}
	return nil
}

// Submit enqueues a single planned step and returns immediately.
func (d *Dispatcher) Submit(workflowID string, step models.PlannedStep) (models.TaskHandle, error) {
	if err := d.Validate(step); err != nil {
		return models.TaskHandle{}, err
	}
	return d.enqueue(workflowID, step)
}

// SubmitPlan validates the whole plan and then submits its steps in ascending order.
// The plan is queued as a unit: nothing is enqueued when any step is rejected or when
// the queue cannot take every step.
func (d *Dispatcher) SubmitPlan(workflowID string, plan models.ExecutionPlan) ([]models.TaskHandle, error) {
	for _, step := range plan {
		if err := d.Validate(step); err != nil {
			return nil, err
		}
	}
	qts := make([]queuedTask, 0, len(plan))
	for _, step := range plan {
		qts = append(qts, d.prepare(workflowID, step))
	}
	if err := d.pool.EnqueueAll(qts); err != nil {
		d.logger.Errorf("Failed to enqueue %d steps of workflow %s: %v", len(qts), workflowID, err)
		return nil, err
	}
	handles := make([]models.TaskHandle, 0, len(qts))
	for _, qt := range qts {
		handles = append(handles, d.enqueued(qt.task))
	}
	return handles, nil
}

func (d *Dispatcher) enqueue(workflowID string, step models.PlannedStep) (models.TaskHandle, error) {
	qt := d.prepare(workflowID, step)
	if err := d.pool.Enqueue(qt); err != nil {
		d.logger.Errorf("Failed to enqueue step %d of workflow %s: %v", step.Order, workflowID, err)
		return models.TaskHandle{}, err
	}
	return d.enqueued(qt.task), nil
}

// prepare resolves templates and assigns the task ID.
func (d *Dispatcher) prepare(workflowID string, step models.PlannedStep) queuedTask {
	step, resolveErr := d.resolveTemplate(step)
	return queuedTask{
		task: models.Task{
			ID:          uuid.NewString(),
			WorkflowID:  workflowID,
			Step:        step,
			SubmittedAt: time.Now(),
		},
		err: resolveErr,
	}
}

func (d *Dispatcher) enqueued(task models.Task) models.TaskHandle {
	d.logger.Infof("Enqueued task %s (workflow %s, step %d, type %s)", task.ID, task.WorkflowID, task.Step.Order, task.Step.Type)
	return models.TaskHandle{TaskID: task.ID, Order: task.Step.Order, SubmittedAt: task.SubmittedAt}
}

// resolveTemplate replaces the body of an email step with the referenced template
// content. Other step types keep their payload as is. The returned step never shares
// its payload map with the input.
func (d *Dispatcher) resolveTemplate(step models.PlannedStep) (models.PlannedStep, error) {
	step = cloneStep(step)
	if step.Type != models.EmailStepType {
		return step, nil
	}
	templateID, ok := stringField(step.Payload, "template_id")
	if !ok {
		return step, nil
	}
	if d.templates == nil {
		return step, errors.Wrapf(ErrTemplateResolution, "template %s (no template source)", templateID)
	}
	content, err := d.templates.GetTemplateContent(templateID)
	if err != nil {
		d.logger.Errorf("Failed to resolve template %s for step %d: %v", templateID, step.Order, err)
		return step, errors.Wrapf(ErrTemplateResolution, "template %s (%v)", templateID, err)
	}
	step.Payload["body"] = content
	return step, nil
}

func (d *Dispatcher) run(ctx context.Context, qt queuedTask) error {
	if qt.err != nil {
		_, err := d.report(ctx, qt.task, qt.err)
		return err
	}
	_, err := d.Execute(ctx, qt.task)
	return err
}

// Execute runs one task through the attempt executor, records the outcome and notifies
// the observer. A failed task is also returned as an error.
func (d *Dispatcher) Execute(ctx context.Context, task models.Task) (models.TaskResult, error) {
	d.mu.RLock()
	executor := d.executor
	d.mu.RUnlock()

	d.logger.Infof("Starting task %s (workflow %s, step %d)", task.ID, task.WorkflowID, task.Step.Order)
	return d.report(ctx, task, d.attempt(ctx, executor, task))
}

// attempt turns a panicking handler into an ordinary task failure.
func (d *Dispatcher) attempt(ctx context.Context, executor StepExecutor, task models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrHandlerPanic, "step %d type '%s': %v", task.Step.Order, task.Step.Type, r)
		}
	}()
	return executor.ExecuteStep(ctx, task)
}

// ExecuteStep is the single-attempt executor: a plain lookup in the dispatch table.
func (d *Dispatcher) ExecuteStep(ctx context.Context, task models.Task) error {
	h, ok := d.handler(task.Step.Type)
	if !ok {
		return errors.Wrapf(ErrUnknownStepType, "step %d type '%s'", task.Step.Order, task.Step.Type)
	}
	return h.Execute(ctx, task)
}

func (d *Dispatcher) report(ctx context.Context, task models.Task, taskErr error) (models.TaskResult, error) {
	result := models.TaskResult{TaskID: task.ID, Status: models.SuccessTaskStatus}
	if taskErr != nil {
		result.Status = models.FailedTaskStatus
		result.Error = taskErr.Error()
		d.logger.Errorf("Task %s failed: %v", task.ID, taskErr)
	} else {
		d.logger.Infof("Task %s completed successfully", task.ID)
	}

	if d.results != nil {
		entry := models.ExecutionLog{
			WorkflowID: task.WorkflowID,
			TaskID:     task.ID,
			StepOrder:  task.Step.Order,
			StepType:   task.Step.Type,
			Status:     result.Status,
			Message:    result.Error,
			LoggedAt:   time.Now(),
		}
		if err := d.results.SaveExecutionLog(entry); err != nil {
			d.logger.Errorf("Failed to record result of task %s: %v", task.ID, err)
		}
	}

	d.observe(ctx, result, task)
	return result, taskErr
}

func (d *Dispatcher) observe(ctx context.Context, result models.TaskResult, task models.Task) {
	if d.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Observer panicked for task %s: %v", task.ID, r)
		}
	}()
	d.observer.Observe(ctx, result, task)
}
