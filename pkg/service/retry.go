package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ignatij/notiflow/pkg/models"
	"github.com/pkg/errors"
)

// RetryPolicy configures WithRetry. MaxAttempts <= 1 means a single attempt.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type retryExecutor struct {
	next   StepExecutor
	policy RetryPolicy
	logger Logger
}

// WithRetry retries notifier failures with exponential backoff. Any other error is
// returned after the first attempt. A meeting step that partially failed is retried
// as a whole, so recipients that already succeeded may be notified again.
func WithRetry(next StepExecutor, policy RetryPolicy, logger Logger) StepExecutor {
	return &retryExecutor{next: next, policy: policy, logger: logger}
}

func (r *retryExecutor) ExecuteStep(ctx context.Context, task models.Task) error {
	if r.policy.MaxAttempts <= 1 {
		return r.next.ExecuteStep(ctx, task)
	}

	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := r.next.ExecuteStep(ctx, task)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotifierFailed) {
			return backoff.Permanent(err)
		}
		if attempt < r.policy.MaxAttempts {
			r.logger.Infof("Retrying task %s (attempt %d/%d): %v", task.ID, attempt, r.policy.MaxAttempts, err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx)
	return backoff.Retry(op, policy)
}
