package service

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnknownStepType    = errors.New("unknown step type")
	ErrInvalidStep        = errors.New("invalid step payload")
	ErrTemplateResolution = errors.New("template resolution failed")
	ErrNotifierFailed     = errors.New("notifier failed")
	ErrHandlerPanic       = errors.New("step handler panicked")
	ErrInvalidSchedule    = errors.New("invalid schedule")
	ErrEmptyWorkflow      = errors.New("workflow has no steps")
	ErrQueueFull          = errors.New("task queue is full")
	ErrPoolStopped        = errors.New("worker pool is stopped")
	ErrInvalidInput       = errors.New("invalid input")
)

// NotifierError is a delivery failure for a single recipient.
type NotifierError struct {
	Recipient string
	Err       error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Recipient, e.Err)
}

func (e *NotifierError) Unwrap() error {
	return e.Err
}

func (e *NotifierError) Is(target error) bool {
	return target == ErrNotifierFailed
}
