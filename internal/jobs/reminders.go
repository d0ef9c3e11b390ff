package jobs

import (
	"context"
	"time"

	"appointments/pkg/model"
)

const ReminderJobName = "dispatch-reminders"

type ReminderDispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (model.SweepSummary, error)
}

type ReminderDispatchJob struct {
	reminders ReminderDispatcher
	now       func() time.Time
}

func NewReminderDispatchJob(reminders ReminderDispatcher) *ReminderDispatchJob {
	return &ReminderDispatchJob{reminders: reminders, now: time.Now}
}

func (j *ReminderDispatchJob) Name() string {
	return ReminderJobName
}

func (j *ReminderDispatchJob) Run(ctx context.Context) (model.SweepSummary, error) {
	return j.reminders.DispatchDue(ctx, j.now().UTC())
}
