package service

import (
	"sort"
	"sync"
	"time"

	"github.com/ignatij/notiflow/pkg/models"
	"github.com/pkg/errors"
)

const entryNamePrefix = "weekly_report_"

// Submitter is the part of the dispatcher the registry needs.
type Submitter interface {
	Validate(step models.PlannedStep) error
	Submit(workflowID string, step models.PlannedStep) (models.TaskHandle, error)
}

type registeredEntry struct {
	entry   models.ScheduleEntry
	trigger TriggerID
}

// Registry holds one weekly trigger per workflow. Scheduling a workflow again replaces
// its entry; entries are never removed. A firing replays the step captured when the
// entry was scheduled, not the current workflow definition.
type Registry struct {
	scheduler Scheduler
	submitter Submitter
	logger    Logger
	now       func() time.Time
	entries   map[string]*registeredEntry
	mu        sync.RWMutex
}

func NewRegistry(scheduler Scheduler, submitter Submitter, logger Logger) *Registry {
	return &Registry{
		scheduler: scheduler,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[string]*registeredEntry),
	}
}

// EntryName derives the stable entry name for a workflow.
func EntryName(workflowID string) string {
	return entryNamePrefix + workflowID
}

func (r *Registry) Start() {
	r.scheduler.Start()
}

// Stop halts the trigger backend. The entry table is kept.
func (r *Registry) Stop() {
	r.scheduler.Stop()
}

// Schedule registers, or atomically replaces, the weekly trigger for workflowID.
func (r *Registry) Schedule(workflowID string, spec models.ScheduleSpec, payload models.PlannedStep) (models.ScheduleEntry, error) {
	if workflowID == "" {
		return models.ScheduleEntry{}, errors.Wrap(ErrInvalidSchedule, "empty workflow id")
	}
	if err := spec.Validate(); err != nil {
		return models.ScheduleEntry{}, errors.Wrapf(ErrInvalidSchedule, "%v", err)
	}
	if err := r.submitter.Validate(payload); err != nil {
		return models.ScheduleEntry{}, err
	}

	name := EntryName(workflowID)
	now := r.now()
	entry := models.ScheduleEntry{
		Name:        name,
		WorkflowID:  workflowID,
		Trigger:     spec,
		Payload:     cloneStep(payload),
		ScheduledAt: now,
		NextRunAt:   r.scheduler.Next(spec, now),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// arm the new trigger before dropping the old one so a failure keeps the old entry
	id, err := r.scheduler.Add(spec, func() { r.fire(name) })
	if err != nil {
		return models.ScheduleEntry{}, errors.Wrapf(err, "arm trigger for %s", name)
	}
	if old, ok := r.entries[name]; ok {
		r.scheduler.Remove(old.trigger)
		r.logger.Infof("Replacing schedule %s", name)
	}
	r.entries[name] = &registeredEntry{entry: entry, trigger: id}
	r.logger.Infof("Scheduled %s every weekday %d at %02d:00 (next run %s)",
		name, spec.Weekday, spec.Hour, entry.NextRunAt.Format(time.RFC3339))
	return entry, nil
}

// Entry returns the current entry for a workflow.
func (r *Registry) Entry(workflowID string) (models.ScheduleEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[EntryName(workflowID)]
	if !ok {
		return models.ScheduleEntry{}, false
	}
	return reg.entry, true
}

// Entries returns all entries sorted by name.
func (r *Registry) Entries() []models.ScheduleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ScheduleEntry, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) fire(name string) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	var entry models.ScheduleEntry
	if ok {
		entry = reg.entry
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	handle, err := r.submitter.Submit(entry.WorkflowID, cloneStep(entry.Payload))
	if err != nil {
		r.logger.Errorf("Schedule %s failed to submit: %v", name, err)
	} else {
		r.logger.Infof("Schedule %s submitted task %s", name, handle.TaskID)
	}

	r.mu.Lock()
	if cur, ok := r.entries[name]; ok && cur.trigger == reg.trigger {
		cur.entry.NextRunAt = r.scheduler.Next(cur.entry.Trigger, r.now())
	}
	r.mu.Unlock()
}
