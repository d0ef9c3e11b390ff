package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"appointments/internal/events"
	remindererrors "appointments/internal/reminders/errors"
	"appointments/internal/reminders/notifier"
	"appointments/internal/reminders/repository"
	"appointments/pkg/cache"
	"appointments/pkg/config"
	apperrors "appointments/pkg/errors"
	"appointments/pkg/keys"
	"appointments/pkg/metrics"
	"appointments/pkg/model"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

type ReminderService interface {
	ScheduleFor(ctx context.Context, booking *model.Booking, confirmedAt time.Time) (int, error)
	DispatchDue(ctx context.Context, now time.Time) (model.SweepSummary, error)
	CancelForBooking(ctx context.Context, bookingID string) (int64, error)
	Stats(ctx context.Context) (*model.ReminderStats, error)
}

type reminderService struct {
	repo      repository.ReminderRepository
	notifier  notifier.Notifier
	publisher events.Publisher
	cache     cache.Store
	cfg       *config.Config
	now       func() time.Time
}

func NewReminderService(
	repo repository.ReminderRepository,
	notifier notifier.Notifier,
	publisher events.Publisher,
	cache cache.Store,
	cfg *config.Config,
) ReminderService {
	return &reminderService{
		repo:      repo,
		notifier:  notifier,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ScheduleFor writes one pending reminder per configured offset before the
// slot start. Offsets that already lie in the past are dropped, but a booking
// confirmed before its slot always gets at least one reminder, due at once.
func (s *reminderService) ScheduleFor(ctx context.Context, booking *model.Booking, confirmedAt time.Time) (int, error) {
	start := booking.SlotStart
	if !start.After(confirmedAt) {
		s.cfg.Log.Debug("Slot already started, no reminders scheduled", "booking_id", booking.ID)
		return 0, nil
	}

	var dueTimes []time.Time
	for _, offset := range s.cfg.ReminderOffsets {
		due := start.Add(-offset)
		if due.Before(confirmedAt) {
			continue
		}
		dueTimes = append(dueTimes, due)
	}
	if len(dueTimes) == 0 {
		dueTimes = append(dueTimes, confirmedAt)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	created := 0
	for _, due := range dueTimes {
		reminder := &model.Reminder{
			ID:           uuid.NewString(),
			BookingID:    booking.ID,
			CustomerID:   booking.CustomerID,
			ConsultantID: booking.ConsultantID,
			SlotStart:    start.UTC(),
			DueAt:        due.UTC().Truncate(time.Millisecond),
			Status:       model.ReminderPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		inserted, err := s.repo.Upsert(ctx, reminder)
		if err != nil {
			return created, apperrors.Internal("Failed to schedule reminder", err)
		}
		if inserted {
			created++
		}
	}

	s.cfg.Log.Info("Reminders scheduled", "booking_id", booking.ID, "count", created)
	return created, nil
}

// DispatchDue delivers every due reminder at most once. Each reminder is
// claimed with a conditional update before the notifier is called, so
// concurrent sweeps on other instances skip it. Failures are isolated per
// reminder and counted in the summary.
func (s *reminderService) DispatchDue(ctx context.Context, now time.Time) (model.SweepSummary, error) {
	var summary model.SweepSummary

	staleBefore := now.Add(-s.cfg.ReminderClaimTTL)
	due, err := s.repo.FindDue(ctx, now, staleBefore, s.cfg.ReminderBatchSize)
	if err != nil {
		return summary, apperrors.Internal("Failed to load due reminders", err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(max(s.cfg.ReminderConcurrency, 1)))

	for _, r := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(r *model.Reminder) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := s.dispatchOne(ctx, r, now, staleBefore)
			metrics.ReminderOutcomes.WithLabelValues(outcome).Inc()

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			switch outcome {
			case outcomeSent:
				summary.Succeeded++
			case outcomeSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
		}(r)
	}
	wg.Wait()

	s.recordSweep(ctx, summary)
	return summary, ctx.Err()
}

const (
	outcomeSent     = "sent"
	outcomeRetry    = "retry"
	outcomeFailed   = "failed"
	outcomeSkipped  = "skipped"
	outcomeInternal = "error"
)

func (s *reminderService) dispatchOne(ctx context.Context, r *model.Reminder, now, staleBefore time.Time) string {
	owner := s.cfg.InstanceID
	log := s.cfg.Log.With("reminder_id", r.ID, "booking_id", r.BookingID)

	claimed, err := s.repo.Claim(ctx, r.ID, owner, now, staleBefore)
	if err != nil {
		if errors.Is(err, remindererrors.ErrNotClaimed) {
			log.Debug("Reminder claimed elsewhere")
			return outcomeSkipped
		}
		log.Error("Failed to claim reminder", "error", err)
		return outcomeInternal
	}

	notifyErr := s.notifier.Notify(ctx, claimed.Payload())
	if notifyErr == nil {
		if err := s.repo.MarkSent(ctx, claimed.ID, owner, now); err != nil {
			if errors.Is(err, remindererrors.ErrClaimLost) {
				log.Warn("Reminder delivered after its booking ended")
				return outcomeSent
			}
			log.Error("Reminder delivered but not marked sent", "error", err)
			return outcomeInternal
		}
		log.Info("Reminder sent", "attempt", claimed.Attempts+1)
		return outcomeSent
	}

	updated, err := s.repo.MarkAttemptFailed(ctx, claimed.ID, owner, notifyErr.Error(), s.cfg.ReminderMaxAttempts, now)
	if err != nil {
		if errors.Is(err, remindererrors.ErrClaimLost) {
			// cancelled while in flight; no retry
			log.Info("Reminder cancelled during delivery", "notify_error", notifyErr)
			return outcomeSkipped
		}
		log.Error("Failed to record reminder failure", "notify_error", notifyErr, "error", err)
		return outcomeInternal
	}

	if updated.Status != model.ReminderFailed {
		log.Warn("Reminder delivery failed, will retry", "attempts", updated.Attempts, "error", notifyErr)
		return outcomeRetry
	}

	log.Error("Reminder delivery failed permanently", "attempts", updated.Attempts, "error", notifyErr)
	event := model.ReminderFailedEvent{
		EventType:  model.EventReminderFailed,
		ReminderID: updated.ID,
		BookingID:  updated.BookingID,
		Attempts:   updated.Attempts,
		LastError:  updated.LastError,
		Timestamp:  now.UTC(),
	}
	if err := s.publisher.PublishReminderFailed(ctx, event); err != nil {
		log.Warn("Failed to publish reminder failure event", "error", err)
	}
	return outcomeFailed
}

func (s *reminderService) CancelForBooking(ctx context.Context, bookingID string) (int64, error) {
	n, err := s.repo.CancelPending(ctx, bookingID, s.now().UTC())
	if err != nil {
		return 0, apperrors.Internal("Failed to cancel reminders", err)
	}
	if n > 0 {
		s.cfg.Log.Info("Reminders cancelled", "booking_id", bookingID, "count", n)
	}
	return n, nil
}

// Stats reports the pending backlog and the last sweep summary as cached by
// the most recent dispatch on any instance.
func (s *reminderService) Stats(ctx context.Context) (*model.ReminderStats, error) {
	stats := &model.ReminderStats{}

	found, err := s.cache.GetJSON(ctx, keys.RemindersPending, &stats.Pending)
	if err != nil || !found {
		count, err := s.repo.CountPending(ctx)
		if err != nil {
			return nil, apperrors.Internal("Failed to count pending reminders", err)
		}
		stats.Pending = count
	}

	var last model.SweepSummary
	if found, err := s.cache.GetJSON(ctx, keys.RemindersDue, &last); err == nil && found {
		stats.LastSweep = &last
	}
	return stats, nil
}

func (s *reminderService) recordSweep(ctx context.Context, summary model.SweepSummary) {
	if err := s.cache.SetJSON(ctx, keys.RemindersDue, summary, s.cfg.CacheTTL); err != nil {
		s.cfg.Log.Warn("Failed to cache reminder sweep summary", "error", err)
	}

	pending, err := s.repo.CountPending(ctx)
	if err != nil {
		s.cfg.Log.Warn("Failed to count pending reminders", "error", err)
		return
	}
	if err := s.cache.SetJSON(ctx, keys.RemindersPending, pending, s.cfg.CacheTTL); err != nil {
		s.cfg.Log.Warn("Failed to cache pending reminder count", "error", err)
	}
}
