package service

import (
	"fmt"
	"time"

	"github.com/ignatij/notiflow/pkg/models"
	"github.com/robfig/cron/v3"
)

type TriggerID int

// Scheduler arms recurring triggers. The registry only talks to this interface so
// tests can fire triggers by hand.
type Scheduler interface {
	Add(spec models.ScheduleSpec, job func()) (TriggerID, error)
	Remove(id TriggerID)
	Next(spec models.ScheduleSpec, after time.Time) time.Time
	Start()
	Stop()
}

// CronExpr renders a weekly spec as a standard cron expression. Cron counts weekdays
// from Sunday=0 while ScheduleSpec counts from Monday=0.
func CronExpr(spec models.ScheduleSpec) string {
	return fmt.Sprintf("0 %d * * %d", spec.Hour, (spec.Weekday+1)%7)
}

// NextRun returns the first firing of spec strictly after the given time, in loc.
func NextRun(spec models.ScheduleSpec, after time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cron.ParseStandard(CronExpr(spec))
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(loc)), nil
}

// CronScheduler runs triggers on a robfig/cron instance.
type CronScheduler struct {
	c   *cron.Cron
	loc *time.Location
}

func NewCronScheduler(loc *time.Location) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &CronScheduler{c: cron.New(cron.WithLocation(loc)), loc: loc}
}

func (s *CronScheduler) Add(spec models.ScheduleSpec, job func()) (TriggerID, error) {
	id, err := s.c.AddFunc(CronExpr(spec), job)
	if err != nil {
		return 0, err
	}
	return TriggerID(id), nil
}

func (s *CronScheduler) Remove(id TriggerID) {
	s.c.Remove(cron.EntryID(id))
}

func (s *CronScheduler) Next(spec models.ScheduleSpec, after time.Time) time.Time {
	next, err := NextRun(spec, after, s.loc)
	if err != nil {
		return time.Time{}
	}
	return next
}

func (s *CronScheduler) Start() {
	s.c.Start()
}

// Stop waits for running jobs to return.
func (s *CronScheduler) Stop() {
	<-s.c.Stop().Done()
}
