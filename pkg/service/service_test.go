package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	internal_storage "github.com/ignatij/notiflow/internal/storage"
	"github.com/ignatij/notiflow/internal/testutil"
	"github.com/ignatij/notiflow/pkg/models"
	"github.com/ignatij/notiflow/pkg/service"
	"github.com/ignatij/notiflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operator = "ops@x.com"

type serviceFixture struct {
	svc       *service.WorkflowService
	notifier  *fakeNotifier
	scheduler *fakeScheduler
}

func newServiceFixture(t *testing.T, store storage.Store, opts service.Options) *serviceFixture {
	t.Helper()
	notifier := newFakeNotifier()
	scheduler := newFakeScheduler()
	opts.Scheduler = scheduler
	if opts.OperatorEmail == "" {
		opts.OperatorEmail = operator
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	svc, err := service.NewWorkflowService(context.Background(), store, notifier, opts, testLogger{})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return &serviceFixture{svc: svc, notifier: notifier, scheduler: scheduler}
}

func onboardingSteps() []models.StepSpec {
	return []models.StepSpec{
		{Type: models.EmailStepType, Payload: map[string]interface{}{"to": "a@x.com", "subject": "Welcome", "body": "Hello"}},
		{Type: models.MeetingStepType, Payload: map[string]interface{}{"to": []interface{}{"a@x.com", "b@x.com"}, "subject": "Kickoff", "body": "Agenda"}},
	}
}

func TestWorkflowServiceInMemory(t *testing.T) {
	runServiceSuite(t, func(t *testing.T) storage.Store {
		return storage.NewInMemoryStore()
	})
}

func TestWorkflowServicePostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres suite in short mode")
	}
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	runServiceSuite(t, func(t *testing.T) storage.Store {
		store, err := internal_storage.InitStore(testDB.ConnStr)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, err := testDB.DB.Exec("TRUNCATE TABLE execution_logs, workflows, templates RESTART IDENTITY CASCADE")
			assert.NoError(t, err)
			store.Close()
		})
		return store
	})
}

func runServiceSuite(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("CreateAndGetWorkflow", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		recurrence := &models.ScheduleSpec{Weekday: 4, Hour: 18}
		id, err := f.svc.CreateWorkflow("onboarding", onboardingSteps(), recurrence)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		wf, err := f.svc.GetWorkflow(id)
		require.NoError(t, err)
		assert.Equal(t, id, wf.ID)
		assert.Equal(t, "onboarding", wf.Name)
		assert.Equal(t, recurrence, wf.Recurrence)
		require.Len(t, wf.Steps, 2)
		assert.Equal(t, models.MeetingStepType, wf.Steps[1].Type)

		all, err := f.svc.ListWorkflows()
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("CreateWorkflowValidation", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		_, err := f.svc.CreateWorkflow("", onboardingSteps(), nil)
		assert.ErrorIs(t, err, service.ErrInvalidInput)
		_, err = f.svc.CreateWorkflow(strings.Repeat("x", 101), onboardingSteps(), nil)
		assert.ErrorIs(t, err, service.ErrInvalidInput)
		_, err = f.svc.CreateWorkflow("bad schedule", onboardingSteps(), &models.ScheduleSpec{Weekday: 9, Hour: 10})
		assert.ErrorIs(t, err, service.ErrInvalidSchedule)

		all, err := f.svc.ListWorkflows()
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("WorkflowNotFound", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		missing := "00000000-0000-0000-0000-000000000000"
		_, err := f.svc.GetWorkflow(missing)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = f.svc.ExecuteWorkflow(missing)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = f.svc.ScheduleWorkflow(missing)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = f.svc.ListExecutionLogs(missing)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PlanWorkflow", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		id, err := f.svc.CreateWorkflow("onboarding", onboardingSteps(), nil)
		require.NoError(t, err)

		plan, err := f.svc.PlanWorkflow(id)
		require.NoError(t, err)
		require.Len(t, plan, 2)
		assert.Equal(t, 0, plan[0].Order)
		assert.Equal(t, 1, plan[1].Order)
		assert.Empty(t, f.notifier.messages())
	})

	t.Run("ExecuteWorkflow", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		id, err := f.svc.CreateWorkflow("onboarding", onboardingSteps(), nil)
		require.NoError(t, err)

		handles, err := f.svc.ExecuteWorkflow(id)
		require.NoError(t, err)
		require.Len(t, handles, 2)
		assert.Equal(t, 0, handles[0].Order)
		assert.Equal(t, 1, handles[1].Order)
		f.svc.Close()

		assert.Len(t, f.notifier.sentTo("a@x.com"), 2)
		meeting := f.notifier.sentTo("b@x.com")
		require.Len(t, meeting, 1)
		assert.Equal(t, "Agenda\n\nMeet Link: "+service.DefaultMeetingLink, meeting[0].Body)
		assert.Empty(t, f.notifier.sentTo(operator))

		logs, err := f.svc.ListExecutionLogs(id)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		for _, l := range logs {
			assert.Equal(t, models.SuccessTaskStatus, l.Status)
			assert.Equal(t, id, l.WorkflowID)
		}
	})

	t.Run("FailedStepAlertsOperator", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		f.notifier.failFor("b@x.com", errors.New("mailbox full"))
		id, err := f.svc.CreateWorkflow("onboarding", onboardingSteps(), nil)
		require.NoError(t, err)

		_, err = f.svc.ExecuteWorkflow(id)
		require.NoError(t, err)
		f.svc.Close()

		alerts := f.notifier.sentTo(operator)
		require.Len(t, alerts, 1)
		assert.Equal(t, service.AlertSubject, alerts[0].Subject)
		assert.Contains(t, alerts[0].Body, "mailbox full")

		logs, err := f.svc.ListExecutionLogs(id)
		require.NoError(t, err)
		statuses := map[int]models.TaskStatus{}
		for _, l := range logs {
			statuses[l.StepOrder] = l.Status
		}
		assert.Equal(t, models.SuccessTaskStatus, statuses[0])
		assert.Equal(t, models.FailedTaskStatus, statuses[1])
	})

	t.Run("ExecuteRejectsInvalidWorkflow", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		steps := append(onboardingSteps(), models.StepSpec{Type: "fax", Payload: map[string]interface{}{}})
		id, err := f.svc.CreateWorkflow("with fax", steps, nil)
		require.NoError(t, err)

		_, err = f.svc.ExecuteWorkflow(id)
		assert.ErrorIs(t, err, service.ErrUnknownStepType)
		f.svc.Close()
		assert.Empty(t, f.notifier.messages())
	})

	t.Run("TemplateBody", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		tplID, err := f.svc.CreateTemplate("welcome", "Welcome aboard!")
		require.NoError(t, err)
		tpl, err := f.svc.GetTemplate(tplID)
		require.NoError(t, err)
		assert.Equal(t, "welcome", tpl.Name)

		id, err := f.svc.CreateWorkflow("templated", []models.StepSpec{
			{Type: models.EmailStepType, Payload: map[string]interface{}{"to": "a@x.com", "subject": "Hi", "template_id": tplID}},
		}, nil)
		require.NoError(t, err)
		_, err = f.svc.ExecuteWorkflow(id)
		require.NoError(t, err)
		f.svc.Close()

		msgs := f.notifier.sentTo("a@x.com")
		require.Len(t, msgs, 1)
		assert.Equal(t, "Welcome aboard!", msgs[0].Body)
	})

	t.Run("TemplateValidation", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		_, err := f.svc.CreateTemplate("", "content")
		assert.ErrorIs(t, err, service.ErrInvalidInput)
		_, err = f.svc.CreateTemplate("name", "")
		assert.ErrorIs(t, err, service.ErrInvalidInput)
		_, err = f.svc.GetTemplate("00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ScheduleWorkflow", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		plain, err := f.svc.CreateWorkflow("plain", onboardingSteps(), nil)
		require.NoError(t, err)
		weekly, err := f.svc.CreateWorkflow("weekly", onboardingSteps(), &models.ScheduleSpec{Weekday: 4, Hour: 18})
		require.NoError(t, err)

		entry, err := f.svc.ScheduleWorkflow(plain)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduleSpec{Weekday: service.DefaultScheduleWeekday, Hour: service.DefaultScheduleHour}, entry.Trigger)
		assert.Equal(t, service.EntryName(plain), entry.Name)
		assert.Equal(t, models.EmailStepType, entry.Payload.Type)

		entry, err = f.svc.ScheduleWorkflow(weekly)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduleSpec{Weekday: 4, Hour: 18}, entry.Trigger)

		// scheduling again replaces the entry
		_, err = f.svc.ScheduleWorkflow(weekly)
		require.NoError(t, err)
		assert.Len(t, f.svc.Schedules(), 2)
		assert.Equal(t, 2, f.scheduler.active())

		// only the first step is replayed
		f.scheduler.fireAll()
		f.svc.Close()
		assert.Len(t, f.notifier.sentTo("a@x.com"), 2)
		assert.Empty(t, f.notifier.sentTo("b@x.com"))
	})

	t.Run("ScheduleEmptyWorkflow", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{})
		id, err := f.svc.CreateWorkflow("empty", nil, nil)
		require.NoError(t, err)
		_, err = f.svc.ScheduleWorkflow(id)
		assert.ErrorIs(t, err, service.ErrEmptyWorkflow)
		assert.Empty(t, f.svc.Schedules())
	})

	t.Run("RetryOption", func(t *testing.T) {
		f := newServiceFixture(t, newStore(t), service.Options{
			Retry: service.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond},
		})
		f.notifier.failFor("a@x.com", errors.New("unreachable"))
		id, err := f.svc.CreateWorkflow("retried", onboardingSteps()[:1], nil)
		require.NoError(t, err)
		_, err = f.svc.ExecuteWorkflow(id)
		require.NoError(t, err)
		f.svc.Close()

		assert.Len(t, f.notifier.sentTo("a@x.com"), 3)
		assert.Len(t, f.notifier.sentTo(operator), 1)
	})
}

func TestWorkflowService_LegacyMeetStep(t *testing.T) {
	f := newServiceFixture(t, storage.NewInMemoryStore(), service.Options{})
	id, err := f.svc.CreateWorkflow("legacy", []models.StepSpec{
		{Type: models.LegacyMeetStepType, Payload: map[string]interface{}{
			"to_list": []interface{}{"a@x.com", "b@x.com"}, "subject": "Sync", "body": "Agenda",
		}},
	}, nil)
	require.NoError(t, err)

	_, err = f.svc.ExecuteWorkflow(id)
	require.NoError(t, err)
	f.svc.Close()

	for _, to := range []string{"a@x.com", "b@x.com"} {
		msgs := f.notifier.sentTo(to)
		require.Len(t, msgs, 1, to)
		assert.Equal(t, "Agenda\n\nMeet Link: "+service.DefaultMeetingLink, msgs[0].Body)
	}
	logs, err := f.svc.ListExecutionLogs(id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LegacyMeetStepType, logs[0].StepType)
	assert.Equal(t, models.SuccessTaskStatus, logs[0].Status)
}

func TestWorkflowService_BuildFromText(t *testing.T) {
	f := newServiceFixture(t, storage.NewInMemoryStore(), service.Options{})
	def := f.svc.BuildFromText("Send the report to boss@corp.com every friday at 6pm", "tpl-9")

	assert.Equal(t, "Workflow from text", def.Name)
	assert.Equal(t, &models.ScheduleSpec{Weekday: 4, Hour: 18}, def.Recurrence)
	require.Len(t, def.Steps, 1)
	assert.Equal(t, "boss@corp.com", def.Steps[0].Payload["to"])
	assert.Equal(t, "tpl-9", def.Steps[0].Payload["template_id"])

	all, err := f.svc.ListWorkflows()
	require.NoError(t, err)
	assert.Empty(t, all)
}
