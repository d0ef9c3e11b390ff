package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	remindererrors "appointments/internal/reminders/errors"
	"appointments/pkg/model"
)

type ReminderRepo struct {
	mu        sync.Mutex
	reminders map[string]*model.Reminder
}

func NewReminderRepo(reminders ...*model.Reminder) *ReminderRepo {
	r := &ReminderRepo{reminders: make(map[string]*model.Reminder)}
	for _, rem := range reminders {
		cp := *rem
		r.reminders[rem.ID] = &cp
	}
	return r
}

func (r *ReminderRepo) Get(id string) *model.Reminder {
	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok := r.reminders[id]
	if !ok {
		return nil
	}
	cp := *rem
	return &cp
}

func (r *ReminderRepo) Upsert(ctx context.Context, reminder *model.Reminder) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reminders {
		if existing.BookingID == reminder.BookingID && existing.DueAt.Equal(reminder.DueAt) {
			return false, nil
		}
	}
	cp := *reminder
	r.reminders[reminder.ID] = &cp
	return true, nil
}

func isDue(rem *model.Reminder, now, staleBefore time.Time) bool {
	switch rem.Status {
	case model.ReminderPending:
		return !rem.DueAt.After(now)
	case model.ReminderInProgress:
		return rem.ClaimedAt != nil && rem.ClaimedAt.Before(staleBefore)
	}
	return false
}

func (r *ReminderRepo) FindDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Reminder
	for _, rem := range r.reminders {
		if isDue(rem, now, staleBefore) {
			cp := *rem
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReminderRepo) Claim(ctx context.Context, id, owner string, now, staleBefore time.Time) (*model.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok := r.reminders[id]
	if !ok || !isDue(rem, now, staleBefore) {
		return nil, remindererrors.ErrNotClaimed
	}
	rem.Status = model.ReminderInProgress
	rem.ClaimedBy = owner
	claimedAt := now
	rem.ClaimedAt = &claimedAt
	cp := *rem
	return &cp, nil
}

func (r *ReminderRepo) owned(id, owner string) (*model.Reminder, bool) {
	rem, ok := r.reminders[id]
	if !ok || rem.Status != model.ReminderInProgress || rem.ClaimedBy != owner {
		return nil, false
	}
	return rem, true
}

func (r *ReminderRepo) MarkSent(ctx context.Context, id, owner string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok := r.owned(id, owner)
	if !ok {
		return remindererrors.ErrClaimLost
	}
	rem.Status = model.ReminderSent
	rem.Attempts++
	sentAt := now
	rem.SentAt = &sentAt
	rem.ClaimedBy = ""
	rem.ClaimedAt = nil
	rem.LastError = ""
	return nil
}

func (r *ReminderRepo) MarkAttemptFailed(ctx context.Context, id, owner, reason string, maxAttempts int, now time.Time) (*model.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok := r.owned(id, owner)
	if !ok {
		return nil, remindererrors.ErrClaimLost
	}
	rem.Attempts++
	rem.LastError = reason
	rem.ClaimedBy = ""
	rem.ClaimedAt = nil
	if rem.Attempts >= maxAttempts {
		rem.Status = model.ReminderFailed
	} else {
		rem.Status = model.ReminderPending
	}
	cp := *rem
	return &cp, nil
}

func (r *ReminderRepo) CancelPending(ctx context.Context, bookingID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rem := range r.reminders {
		if rem.BookingID != bookingID {
			continue
		}
		if rem.Status == model.ReminderPending || rem.Status == model.ReminderInProgress {
			rem.Status = model.ReminderCancelled
			rem.ClaimedBy = ""
			rem.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (r *ReminderRepo) CountPending(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rem := range r.reminders {
		if rem.Status == model.ReminderPending {
			n++
		}
	}
	return n, nil
}

func (r *ReminderRepo) FindByBooking(ctx context.Context, bookingID string) ([]*model.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Reminder
	for _, rem := range r.reminders {
		if rem.BookingID == bookingID {
			cp := *rem
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}
