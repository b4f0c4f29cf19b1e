package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignatij/notiflow/pkg/models"
	"github.com/ignatij/notiflow/pkg/service"
)

// testLogger implements Logger interface for testing
type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{}) {}

func (testLogger) Errorf(format string, args ...interface{}) {}

// recordingLogger keeps formatted log lines.
type recordingLogger struct {
	mu    sync.Mutex
	infos []string
	errs  []string
}

func (l *recordingLogger) Infof(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) infoLines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.infos...)
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

// fakeNotifier records every send and fails for configured recipients.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[string]error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fail: make(map[string]error)}
}

func (n *fakeNotifier) failFor(to string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail[to] = err
}

func (n *fakeNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: to, Subject: subject, Body: body})
	return n.fail[to]
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *fakeNotifier) sentTo(to string) []sentMessage {
	var out []sentMessage
	for _, m := range n.messages() {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

type observation struct {
	result models.TaskResult
	task   models.Task
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (o *recordingObserver) Observe(ctx context.Context, result models.TaskResult, task models.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observation{result: result, task: task})
}

func (o *recordingObserver) observations() []observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observation(nil), o.seen...)
}

// fakeScheduler keeps jobs in memory; tests fire them by hand.
type fakeScheduler struct {
	mu      sync.Mutex
	nextID  service.TriggerID
	jobs    map[service.TriggerID]func()
	specs   map[service.TriggerID]models.ScheduleSpec
	addErr  error
	started bool
	stopped bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		jobs:  make(map[service.TriggerID]func()),
		specs: make(map[service.TriggerID]models.ScheduleSpec),
	}
}

func (s *fakeScheduler) Add(spec models.ScheduleSpec, job func()) (service.TriggerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return 0, s.addErr
	}
	s.nextID++
	s.jobs[s.nextID] = job
	s.specs[s.nextID] = spec
	return s.nextID, nil
}

func (s *fakeScheduler) Remove(id service.TriggerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	delete(s.specs, id)
}

func (s *fakeScheduler) Next(spec models.ScheduleSpec, after time.Time) time.Time {
	next, _ := service.NextRun(spec, after, time.UTC)
	return next
}

func (s *fakeScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *fakeScheduler) activeSpecs() []models.ScheduleSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScheduleSpec, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, spec)
	}
	return out
}

func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	jobs := make([]func(), 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()
	for _, job := range jobs {
		job()
	}
}
