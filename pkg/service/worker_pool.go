package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/ignatij/notiflow/pkg/models"
	"github.com/pkg/errors"
)

const (
	// default task timeout is 1m
	DefaultTaskTimeout = 60 * time.Second
	DefaultQueueSize   = 1024
)

// queuedTask is a task waiting for a worker. A non-nil err means the task already
// failed during submission (e.g. template resolution) and only needs reporting.
type queuedTask struct {
	task models.Task
	err  error
}

type runFunc func(ctx context.Context, qt queuedTask) error

// WorkerPool is a shared, unordered pool of workers fed by a bounded queue.
// Enqueue never blocks; tasks complete in any order.
type WorkerPool struct {
	run      runFunc
	taskChan chan queuedTask
	timeout  time.Duration
	logger   Logger
	ctx      context.Context
	mu       sync.RWMutex
	started  bool
	stopped  bool
	wg       sync.WaitGroup
}

func NewWorkerPool(mainCtx context.Context, queueSize int, timeout time.Duration, run runFunc, logger Logger) *WorkerPool {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &WorkerPool{
		run:      run,
		taskChan: make(chan queuedTask, queueSize),
		timeout:  timeout,
		logger:   logger,
		ctx:      mainCtx,
	}
}

// Start begins the worker pool with the specified number of workers
func (wp *WorkerPool) Start(workers int) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.stopped {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp.started = true
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	wp.logger.Infof("Started worker pool with %d workers", workers)
}

// Stop closes the queue, lets the workers drain what is already queued and waits for them.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.taskChan)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.logger.Infof("Worker pool stopped")
}

// Enqueue hands a task to the pool without blocking.
func (wp *WorkerPool) Enqueue(qt queuedTask) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}
	select {
	case wp.taskChan <- qt:
		return nil
	default:
		return errors.Wrapf(ErrQueueFull, "capacity %d", cap(wp.taskChan))
	}
}

// EnqueueAll hands every task to the pool or none of them. The write lock keeps other
// producers out between the capacity check and the sends.
func (wp *WorkerPool) EnqueueAll(qts []queuedTask) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return ErrPoolStopped
	}
	if free := cap(wp.taskChan) - len(wp.taskChan); free < len(qts) {
		return errors.Wrapf(ErrQueueFull, "capacity %d, %d free, %d requested", cap(wp.taskChan), free, len(qts))
	}
	for _, qt := range qts {
		// workers only take from the channel, so free space cannot shrink here
		wp.taskChan <- qt
	}
	return nil
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for qt := range wp.taskChan {
		wp.execute(qt)
	}
}

func (wp *WorkerPool) execute(qt queuedTask) {
	ctx, cancel := context.WithTimeout(wp.ctx, wp.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorf("Task %s panicked: %v", qt.task.ID, r)
		}
	}()
	if err := wp.run(ctx, qt); err != nil {
		wp.logger.Infof("Worker finished task %s with error: %v", qt.task.ID, err)
	}
}
