package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingserrors "appointments/internal/bookings/errors"
	"appointments/internal/bookings/repository"
	"appointments/internal/bookings/statemachine"
	"appointments/internal/events"
	slotserrors "appointments/internal/slots/errors"
	"appointments/pkg/cache"
	"appointments/pkg/config"
	apperrors "appointments/pkg/errors"
	"appointments/pkg/keys"
	"appointments/pkg/lock"
	"appointments/pkg/metrics"
	"appointments/pkg/model"
	"appointments/pkg/sanitizer"
	"appointments/pkg/validator"

	"github.com/google/uuid"
)

// releaseTimeout bounds cleanup that must outlive the request context.
const releaseTimeout = 5 * time.Second

// SlotRegistry is the part of the slot service the state machine drives.
type SlotRegistry interface {
	Reserve(ctx context.Context, slotID, consultantID, bookingID string) (*model.SlotHold, error)
	Acquire(ctx context.Context, slotID, bookingID string) (*model.SlotHold, error)
	Commit(ctx context.Context, hold *model.SlotHold) error
	Release(ctx context.Context, hold *model.SlotHold) error
	Abort(ctx context.Context, hold *model.SlotHold)
}

type ReminderScheduler interface {
	ScheduleFor(ctx context.Context, booking *model.Booking, confirmedAt time.Time) (int, error)
	CancelForBooking(ctx context.Context, bookingID string) (int64, error)
}

// BookingService is the single path for every booking state change, whether
// triggered by a request or by a background job.
type BookingService interface {
	Create(ctx context.Context, req *model.BookingRequest) (*model.Booking, error)
	Confirm(ctx context.Context, id string) (*model.Booking, error)
	Cancel(ctx context.Context, id string, reason string) (*model.Booking, error)
	Reschedule(ctx context.Context, id string, req *model.RescheduleRequest) (*model.Booking, error)
	Complete(ctx context.Context, id string) (*model.Booking, error)
	Timeout(ctx context.Context, id string) (*model.Booking, error)
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error)
}

type bookingService struct {
	repo      repository.BookingRepository
	slots     SlotRegistry
	reminders ReminderScheduler
	locker    lock.Locker
	cache     cache.Store
	publisher events.Publisher
	validator *validator.Validator
	cfg       *config.Config
	now       func() time.Time
}

func NewBookingService(
	repo repository.BookingRepository,
	slots SlotRegistry,
	reminders ReminderScheduler,
	locker lock.Locker,
	cache cache.Store,
	publisher events.Publisher,
	validator *validator.Validator,
	cfg *config.Config,
) BookingService {
	return &bookingService{
		repo:      repo,
		slots:     slots,
		reminders: reminders,
		locker:    locker,
		cache:     cache,
		publisher: publisher,
		validator: validator,
		cfg:       cfg,
		now:       time.Now,
	}
}

// applyFunc persists one transition of current to state to and returns the
// stored booking. It runs while the booking lock is held.
type applyFunc func(ctx context.Context, current *model.Booking, to model.BookingStatus, now time.Time) (*model.Booking, error)

func (s *bookingService) Create(ctx context.Context, req *model.BookingRequest) (*model.Booking, error) {
	sanitizer.SanitizeBookingRequest(req)
	if err := s.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			s.cfg.Log.Warn("Booking validation failed", "error", err)
			return nil, apperrors.Validation("Invalid booking input", verrs.Details())
		}
		return nil, apperrors.Validation("Invalid booking input", map[string]any{"error": err.Error()})
	}

	to, err := statemachine.Transition("", statemachine.EventCreate)
	if err != nil {
		return nil, apperrors.Internal("Booking state table is missing the create edge", err)
	}

	id := uuid.NewString()
	hold, err := s.slots.Reserve(ctx, req.SlotID, req.ConsultantID, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	if !hold.StartTime.After(now) {
		s.releaseSlot(ctx, hold)
		return nil, apperrors.Validation("Slot has already started", map[string]any{"slot_id": req.SlotID})
	}

	expiresAt := now.Add(s.cfg.HoldWindow)
	booking := &model.Booking{
		ID:           id,
		SlotID:       req.SlotID,
		ConsultantID: req.ConsultantID,
		CustomerID:   req.CustomerID,
		Status:       to,
		SlotStart:    hold.StartTime,
		ExpiresAt:    &expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, booking); err != nil {
		s.releaseSlot(ctx, hold)
		s.cfg.Log.Error("Failed to create booking", "slot_id", req.SlotID, "error", err)
		return nil, apperrors.Internal("Failed to create booking", err)
	}
	// The slot stays held in the store; only the short-lived lock goes.
	s.slots.Abort(ctx, hold)

	s.finish(ctx, "", booking)
	return booking, nil
}

func (s *bookingService) Confirm(ctx context.Context, id string) (*model.Booking, error) {
	return s.mutate(ctx, id, statemachine.EventConfirm, func(ctx context.Context, current *model.Booking, to model.BookingStatus, now time.Time) (*model.Booking, error) {
		if current.ExpiresAt != nil && !now.Before(*current.ExpiresAt) {
			return nil, invalidTransition(current, statemachine.EventConfirm,
				fmt.Errorf("%w: hold expired at %s", bookingserrors.ErrInvalidTransition, current.ExpiresAt.Format(time.RFC3339)))
		}

		hold, err := s.slots.Acquire(ctx, current.SlotID, current.ID)
		if err != nil {
			if errors.Is(err, slotserrors.ErrNotOwner) {
				return nil, apperrors.Conflict("Slot is no longer held by this booking").
					WithDetails(map[string]any{"booking_id": current.ID, "slot_id": current.SlotID})
			}
			return nil, err
		}
		defer s.slots.Abort(ctx, hold)

		var updated *model.Booking
		err = s.repo.ExecuteTransaction(ctx, func(txCtx context.Context) error {
			var err error
			updated, err = s.persist(txCtx, current, statemachine.EventConfirm, repository.StatusChange{To: to, At: now})
			if err != nil {
				return err
			}
			if err := s.slots.Commit(txCtx, hold); err != nil {
				return err
			}
			if _, err := s.reminders.ScheduleFor(txCtx, updated, now); err != nil {
				return err
			}
			return nil
		})
		return updated, err
	})
}

func (s *bookingService) Cancel(ctx context.Context, id string, reason string) (*model.Booking, error) {
	reason = sanitizer.SanitizeReason(reason)
	return s.mutate(ctx, id, statemachine.EventCancel, func(ctx context.Context, current *model.Booking, to model.BookingStatus, now time.Time) (*model.Booking, error) {
		return s.closeBooking(ctx, current, statemachine.EventCancel, repository.StatusChange{To: to, At: now, CancelReason: reason}, true)
	})
}

// Timeout expires a pending booking whose hold window has lapsed.
func (s *bookingService) Timeout(ctx context.Context, id string) (*model.Booking, error) {
	return s.mutate(ctx, id, statemachine.EventTimeout, func(ctx context.Context, current *model.Booking, to model.BookingStatus, now time.Time) (*model.Booking, error) {
		if current.ExpiresAt == nil || now.Before(*current.ExpiresAt) {
			return nil, invalidTransition(current, statemachine.EventTimeout,
				fmt.Errorf("%w: hold has not expired", bookingserrors.ErrInvalidTransition))
		}
		return s.closeBooking(ctx, current, statemachine.EventTimeout, repository.StatusChange{To: to, At: now}, false)
	})
}

func (s *bookingService) Complete(ctx context.Context, id string) (*model.Booking, error) {
	return s.mutate(ctx, id, statemachine.EventComplete, func(ctx context.Context, current *model.Booking, to model.BookingStatus, now time.Time) (*model.Booking, error) {
		var updated *model.Booking
		err := s.repo.ExecuteTransaction(ctx, func(txCtx context.Context) error {
			var err error
			updated, err = s.persist(txCtx, current, statemachine.EventComplete, repository.StatusChange{To: to, At: now})
			if err != nil {
				return err
			}
			_, err = s.reminders.CancelForBooking(txCtx, current.ID)
			return err
		})
		return updated, err
	})
}

// Reschedule closes a confirmed booking and opens a pending one for the same
// customer on another slot of the same consultant. The new slot is reserved
// first so a conflict leaves the original untouched. It returns the new
// booking.
func (s *bookingService) Reschedule(ctx context.Context, id string, req *model.RescheduleRequest) (*model.Booking, error) {
	sanitizer.SanitizeRescheduleRequest(req)
	if err := s.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			s.cfg.Log.Warn("Reschedule validation failed", "id", id, "error", err)
			return nil, apperrors.Validation("Invalid reschedule input", verrs.Details())
		}
		return nil, apperrors.Validation("Invalid reschedule input", map[string]any{"error": err.Error()})
	}

	var replacement *model.Booking
	_, err := s.mutate(ctx, id, statemachine.EventReschedule, func(ctx context.Context, current *model.Booking, to model.BookingStatus, now time.Time) (*model.Booking, error) {
		if req.SlotID == current.SlotID {
			return nil, apperrors.InvalidInput("New slot must differ from the current slot")
		}

		newID := uuid.NewString()
		newHold, err := s.slots.Reserve(ctx, req.SlotID, current.ConsultantID, newID)
		if err != nil {
			return nil, err
		}
		if !newHold.StartTime.After(now) {
			s.releaseSlot(ctx, newHold)
			return nil, apperrors.Validation("Slot has already started", map[string]any{"slot_id": req.SlotID})
		}

		oldHold, err := s.ownedSlot(ctx, current)
		if err != nil {
			s.releaseSlot(ctx, newHold)
			return nil, err
		}

		expiresAt := now.Add(s.cfg.HoldWindow)
		next := &model.Booking{
			ID:              newID,
			SlotID:          req.SlotID,
			ConsultantID:    current.ConsultantID,
			CustomerID:      current.CustomerID,
			Status:          model.BookingPending,
			SlotStart:       newHold.StartTime,
			ExpiresAt:       &expiresAt,
			RescheduledFrom: current.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		var updated *model.Booking
		err = s.repo.ExecuteTransaction(ctx, func(txCtx context.Context) error {
			if err := s.repo.Create(txCtx, next); err != nil {
				return apperrors.Internal("Failed to create rescheduled booking", err)
			}
			var err error
			updated, err = s.persist(txCtx, current, statemachine.EventReschedule, repository.StatusChange{To: to, At: now, RescheduledTo: newID})
			if err != nil {
				return err
			}
			if oldHold != nil {
				if err := s.slots.Release(txCtx, oldHold); err != nil {
					return err
				}
			}
			_, err = s.reminders.CancelForBooking(txCtx, current.ID)
			return err
		})
		if err != nil {
			if oldHold != nil {
				s.slots.Abort(ctx, oldHold)
			}
			s.releaseSlot(ctx, newHold)
			return nil, err
		}

		s.slots.Abort(ctx, newHold)
		replacement = next
		return updated, nil
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, "", replacement)
	return replacement, nil
}

func (s *bookingService) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	var cached model.Booking
	found, err := s.cache.GetJSON(ctx, keys.BookingCache(id), &cached)
	if err != nil {
		s.cfg.Log.Warn("Booking cache read failed", "id", id, "error", err)
	} else if found {
		return &cached, nil
	}

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, bookingserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Booking", id)
		}
		return nil, apperrors.Internal("Failed to retrieve booking", err)
	}

	if err := s.cache.SetJSON(ctx, keys.BookingCache(id), booking, s.cfg.CacheTTL); err != nil {
		s.cfg.Log.Warn("Booking cache write failed", "id", id, "error", err)
	}
	return booking, nil
}

func (s *bookingService) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	bookings, err := s.repo.FindExpired(ctx, now, limit)
	if err != nil {
		return nil, apperrors.Internal("Failed to list expired bookings", err)
	}
	return bookings, nil
}

// mutate runs one transition under lock:booking:<id>. The booking is re-read
// from the store after the lock is taken and the event is checked against the
// transition table before apply runs.
func (s *bookingService) mutate(ctx context.Context, id string, event statemachine.Event, apply applyFunc) (*model.Booking, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	h, err := lock.Obtain(ctx, s.locker, keys.BookingLock(id), s.cfg.BookingLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrStoreUnavailable) {
			return nil, apperrors.UnavailableWithCause("lock store", err)
		}
		s.cfg.Log.Debug("Booking busy", "id", id, "event", event)
		return nil, apperrors.ResourceBusy("Booking", id)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := h.Release(releaseCtx); err != nil {
			if errors.Is(err, lock.ErrNotHeld) {
				s.cfg.Log.Warn("Booking lock expired before release", "id", id, "event", event)
				return
			}
			s.cfg.Log.Warn("Failed to release booking lock", "id", id, "error", err)
		}
	}()

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, bookingserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Booking", id)
		}
		return nil, apperrors.Internal("Failed to load booking", err)
	}

	to, err := statemachine.Transition(current.Status, event)
	if err != nil {
		s.cfg.Log.Info("Rejected booking transition", "id", id, "state", current.Status, "event", event)
		return nil, invalidTransition(current, event, err)
	}

	updated, err := apply(ctx, current, to, s.now().UTC().Truncate(time.Millisecond))
	if err != nil {
		if !apperrors.IsAppError(err) {
			err = apperrors.Internal("Failed to apply booking transition", err)
		}
		return nil, err
	}

	s.finish(ctx, current.Status, updated)
	return updated, nil
}

// persist writes the transition conditionally on the state and version read
// under the lock.
func (s *bookingService) persist(ctx context.Context, current *model.Booking, event statemachine.Event, change repository.StatusChange) (*model.Booking, error) {
	change.From = current.Status
	change.Version = current.Version

	updated, err := s.repo.Transition(ctx, current.ID, change)
	if err != nil {
		if errors.Is(err, bookingserrors.ErrStaleState) {
			return nil, invalidTransition(current, event, fmt.Errorf("%w: %w", bookingserrors.ErrInvalidTransition, err))
		}
		return nil, apperrors.Internal("Failed to persist booking transition", err)
	}
	return updated, nil
}

// closeBooking moves current to a terminal state, frees its slot and
// optionally cancels its pending reminders, all in one transaction.
func (s *bookingService) closeBooking(ctx context.Context, current *model.Booking, event statemachine.Event, change repository.StatusChange, cancelReminders bool) (*model.Booking, error) {
	hold, err := s.ownedSlot(ctx, current)
	if err != nil {
		return nil, err
	}

	var updated *model.Booking
	err = s.repo.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		var err error
		updated, err = s.persist(txCtx, current, event, change)
		if err != nil {
			return err
		}
		if hold != nil {
			if err := s.slots.Release(txCtx, hold); err != nil {
				return err
			}
		}
		if cancelReminders {
			_, err = s.reminders.CancelForBooking(txCtx, current.ID)
		}
		return err
	})
	if err != nil && hold != nil {
		s.slots.Abort(ctx, hold)
	}
	return updated, err
}

// ownedSlot locks the booking's slot. A slot that already moved on to
// another booking yields a nil hold so the booking can still be closed.
func (s *bookingService) ownedSlot(ctx context.Context, current *model.Booking) (*model.SlotHold, error) {
	hold, err := s.slots.Acquire(ctx, current.SlotID, current.ID)
	if err != nil {
		if errors.Is(err, slotserrors.ErrNotOwner) {
			s.cfg.Log.Warn("Slot no longer owned by booking", "booking_id", current.ID, "slot_id", current.SlotID)
			return nil, nil
		}
		return nil, err
	}
	return hold, nil
}

// releaseSlot runs on its own deadline so a cancelled request still frees
// the slot it reserved.
func (s *bookingService) releaseSlot(ctx context.Context, hold *model.SlotHold) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.slots.Release(releaseCtx, hold); err != nil {
		s.cfg.Log.Error("Failed to release slot", "slot_id", hold.SlotID, "booking_id", hold.BookingID, "error", err)
	}
}

// finish runs the post-commit steps shared by every transition.
func (s *bookingService) finish(ctx context.Context, from model.BookingStatus, b *model.Booking) {
	if err := s.cache.Invalidate(ctx, keys.BookingCache(b.ID), keys.SlotCache(b.SlotID)); err != nil {
		s.cfg.Log.Warn("Failed to invalidate booking cache", "id", b.ID, "error", err)
	}

	metrics.BookingTransitions.WithLabelValues(string(from), string(b.Status)).Inc()

	event := model.BookingEvent{
		EventType: model.BookingEventType(b.Status),
		BookingID: b.ID,
		FromState: from,
		ToState:   b.Status,
		Timestamp: b.UpdatedAt,
		SlotID:    b.SlotID,
	}
	if err := s.publisher.PublishBookingEvent(ctx, event); err != nil {
		s.cfg.Log.Warn("Failed to publish booking event", "id", b.ID, "event_type", event.EventType, "error", err)
	}

	s.cfg.Log.Info("Booking transitioned", "id", b.ID, "from", from, "to", b.Status, "slot_id", b.SlotID)
}

func invalidTransition(b *model.Booking, event statemachine.Event, cause error) error {
	appErr := apperrors.InvalidTransition("Booking", b.ID, string(b.Status), string(event))
	appErr.Err = cause
	return appErr
}
