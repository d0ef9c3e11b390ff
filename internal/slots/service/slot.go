package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	slotserrors "appointments/internal/slots/errors"
	"appointments/internal/slots/repository"
	"appointments/pkg/cache"
	"appointments/pkg/config"
	apperrors "appointments/pkg/errors"
	"appointments/pkg/keys"
	"appointments/pkg/lock"
	"appointments/pkg/model"
	"appointments/pkg/validator"

	"github.com/google/uuid"
)

// SlotService is the registry of bookable slots. Every status change happens
// while the caller holds the slot's lock, and every decision re-reads the
// slot from the persisted store.
type SlotService interface {
	Reserve(ctx context.Context, slotID, consultantID, bookingID string) (*model.SlotHold, error)
	Acquire(ctx context.Context, slotID, bookingID string) (*model.SlotHold, error)
	Commit(ctx context.Context, hold *model.SlotHold) error
	Release(ctx context.Context, hold *model.SlotHold) error
	Abort(ctx context.Context, hold *model.SlotHold)
	CreateSlots(ctx context.Context, req *model.CreateSlotsRequest) ([]*model.Slot, error)
	Get(ctx context.Context, id string) (*model.Slot, error)
	ListAvailable(ctx context.Context, consultantID string, from, to time.Time, limit int, offset int64) ([]*model.Slot, int64, error)
	ListStaleHolds(ctx context.Context, heldBefore time.Time, limit int) ([]*model.Slot, error)
}

type slotService struct {
	repo      repository.SlotRepository
	locker    lock.Locker
	cache     cache.Store
	validator *validator.Validator
	cfg       *config.Config
	now       func() time.Time
}

func NewSlotService(
	repo repository.SlotRepository,
	locker lock.Locker,
	cache cache.Store,
	validator *validator.Validator,
	cfg *config.Config,
) SlotService {
	return &slotService{
		repo:      repo,
		locker:    locker,
		cache:     cache,
		validator: validator,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Reserve claims an available slot for bookingID. Losing the race for the
// slot lock, or finding the slot anything but available, returns SLOT_TAKEN
// without waiting.
func (s *slotService) Reserve(ctx context.Context, slotID, consultantID, bookingID string) (*model.SlotHold, error) {
	hold, slot, err := s.lockAndLoad(ctx, slotID)
	if err != nil {
		return nil, err
	}

	if slot.ConsultantID != consultantID {
		s.unlock(ctx, hold)
		return nil, apperrors.NotFoundWithID("Slot", slotID).
			WithDetails(map[string]any{"consultant_id": consultantID})
	}
	if slot.Status != model.SlotAvailable {
		s.unlock(ctx, hold)
		s.cfg.Log.Debug("Slot not available", "slot_id", slotID, "status", slot.Status)
		return nil, apperrors.SlotTaken(slotID)
	}

	cond := repository.Condition{From: []model.SlotStatus{model.SlotAvailable}}
	if _, err := s.repo.Transition(ctx, slotID, cond, model.SlotHeld, bookingID); err != nil {
		s.unlock(ctx, hold)
		if errors.Is(err, slotserrors.ErrStaleState) {
			return nil, apperrors.SlotTaken(slotID)
		}
		return nil, apperrors.Internal("Failed to hold slot", err)
	}
	s.invalidate(ctx, slotID)

	hold.ConsultantID = slot.ConsultantID
	hold.BookingID = bookingID
	hold.StartTime = slot.StartTime
	return hold, nil
}

// Acquire locks a slot already owned by bookingID so it can be committed or
// released.
func (s *slotService) Acquire(ctx context.Context, slotID, bookingID string) (*model.SlotHold, error) {
	hold, slot, err := s.lockAndLoad(ctx, slotID)
	if err != nil {
		return nil, err
	}

	if slot.BookingID != bookingID {
		s.unlock(ctx, hold)
		return nil, slotserrors.ErrNotOwner
	}

	hold.ConsultantID = slot.ConsultantID
	hold.BookingID = bookingID
	hold.StartTime = slot.StartTime
	return hold, nil
}

func (s *slotService) Commit(ctx context.Context, hold *model.SlotHold) error {
	defer s.unlock(ctx, hold)

	cond := repository.Condition{From: []model.SlotStatus{model.SlotHeld}, BookingID: hold.BookingID}
	if _, err := s.repo.Transition(ctx, hold.SlotID, cond, model.SlotBooked, hold.BookingID); err != nil {
		if errors.Is(err, slotserrors.ErrStaleState) {
			return apperrors.Conflict("Slot hold is no longer valid").
				WithDetails(map[string]any{"slot_id": hold.SlotID, "booking_id": hold.BookingID})
		}
		return apperrors.Internal("Failed to book slot", err)
	}
	s.invalidate(ctx, hold.SlotID)
	return nil
}

// Release returns the slot to available. A slot that no longer belongs to
// the hold's booking is left alone.
func (s *slotService) Release(ctx context.Context, hold *model.SlotHold) error {
	defer s.unlock(ctx, hold)

	cond := repository.Condition{
		From:      []model.SlotStatus{model.SlotHeld, model.SlotBooked},
		BookingID: hold.BookingID,
	}
	if _, err := s.repo.Transition(ctx, hold.SlotID, cond, model.SlotAvailable, ""); err != nil {
		if errors.Is(err, slotserrors.ErrStaleState) {
			s.cfg.Log.Warn("Slot already released", "slot_id", hold.SlotID, "booking_id", hold.BookingID)
			return nil
		}
		return apperrors.Internal("Failed to release slot", err)
	}
	s.invalidate(ctx, hold.SlotID)
	return nil
}

// Abort drops the slot lock without touching the slot.
func (s *slotService) Abort(ctx context.Context, hold *model.SlotHold) {
	s.unlock(ctx, hold)
}

func (s *slotService) CreateSlots(ctx context.Context, req *model.CreateSlotsRequest) ([]*model.Slot, error) {
	if err := s.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, apperrors.Validation("Invalid slot input", verrs.Details())
		}
		return nil, apperrors.Validation("Invalid slot input", map[string]any{"error": err.Error()})
	}

	now := s.now().UTC()
	inputs := append([]model.SlotInput(nil), req.Slots...)
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].StartTime.Before(inputs[j].StartTime) })
	for i, in := range inputs {
		if !in.StartTime.After(now) {
			return nil, apperrors.Validation("Slot start time must be in the future",
				map[string]any{"start_time": in.StartTime})
		}
		if i > 0 && in.StartTime.Before(inputs[i-1].EndTime) {
			return nil, apperrors.Conflict("Requested slots overlap each other").
				WithDetails(map[string]any{"start_time": in.StartTime})
		}
	}

	var created []*model.Slot
	err := lock.WithLock(ctx, s.locker, s.cfg.Log, keys.ConsultantLock(req.ConsultantID), s.cfg.ConsultantLockTTL, func(ctx context.Context) error {
		for _, in := range inputs {
			count, err := s.repo.CountOverlapping(ctx, req.ConsultantID, in.StartTime, in.EndTime)
			if err != nil {
				return apperrors.Internal("Failed to check slot overlap", err)
			}
			if count > 0 {
				return apperrors.Conflict("Slot overlaps an existing slot").
					WithDetails(map[string]any{"start_time": in.StartTime, "end_time": in.EndTime})
			}
		}

		slots := make([]*model.Slot, 0, len(inputs))
		for _, in := range inputs {
			slots = append(slots, &model.Slot{
				ID:           uuid.NewString(),
				ConsultantID: req.ConsultantID,
				StartTime:    in.StartTime.UTC().Truncate(time.Millisecond),
				EndTime:      in.EndTime.UTC().Truncate(time.Millisecond),
				Status:       model.SlotAvailable,
				CreatedAt:    now.Truncate(time.Millisecond),
				UpdatedAt:    now.Truncate(time.Millisecond),
			})
		}
		if err := s.repo.CreateMany(ctx, slots); err != nil {
			if errors.Is(err, slotserrors.ErrOverlap) {
				return apperrors.Conflict("Slot overlaps an existing slot")
			}
			return apperrors.Internal("Failed to create slots", err)
		}
		created = slots
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrDenied) {
			return nil, s.lockError(err, "Consultant", req.ConsultantID)
		}
		return nil, err
	}

	s.cfg.Log.Info("Slots created", "consultant_id", req.ConsultantID, "count", len(created))
	return created, nil
}

// Get serves the slot from cache when possible. The cached copy is for
// display only and never used to decide a reservation.
func (s *slotService) Get(ctx context.Context, id string) (*model.Slot, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Slot ID cannot be empty")
	}

	var cached model.Slot
	found, err := s.cache.GetJSON(ctx, keys.SlotCache(id), &cached)
	if err != nil {
		s.cfg.Log.Warn("Slot cache read failed", "slot_id", id, "error", err)
	} else if found {
		return &cached, nil
	}

	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, slotserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Slot", id)
		}
		return nil, apperrors.Internal("Failed to retrieve slot", err)
	}

	if err := s.cache.SetJSON(ctx, keys.SlotCache(id), slot, s.cfg.CacheTTL); err != nil {
		s.cfg.Log.Warn("Slot cache write failed", "slot_id", id, "error", err)
	}
	return slot, nil
}

func (s *slotService) ListAvailable(ctx context.Context, consultantID string, from, to time.Time, limit int, offset int64) ([]*model.Slot, int64, error) {
	if consultantID == "" {
		return nil, 0, apperrors.InvalidInput("consultant_id is required")
	}
	if !to.After(from) {
		return nil, 0, apperrors.InvalidInput("'to' must be after 'from'")
	}

	var count int64
	var slots []*model.Slot
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		count, errCount = s.repo.CountAvailable(ctx, consultantID, from, to)
		if errCount != nil {
			s.cfg.Log.Error("Failed to count available slots", "error", errCount)
			errCount = apperrors.Internal("Failed to count available slots", errCount)
		}
	}()

	go func() {
		defer wg.Done()
		slots, errFind = s.repo.FindAvailable(ctx, consultantID, from, to, limit, offset)
		if errFind != nil {
			s.cfg.Log.Error("Failed to list available slots", "error", errFind)
			errFind = apperrors.Internal("Failed to retrieve available slots", errFind)
		}
	}()

	wg.Wait()
	if errCount != nil {
		return nil, 0, errCount
	}
	if errFind != nil {
		return nil, 0, errFind
	}

	return slots, count, nil
}

// ListStaleHolds returns slots still held since before heldBefore. The read
// is not locked; callers re-check ownership through Acquire.
func (s *slotService) ListStaleHolds(ctx context.Context, heldBefore time.Time, limit int) ([]*model.Slot, error) {
	slots, err := s.repo.FindHeldBefore(ctx, heldBefore, limit)
	if err != nil {
		return nil, apperrors.Internal("Failed to list held slots", err)
	}
	return slots, nil
}

func (s *slotService) lockAndLoad(ctx context.Context, slotID string) (*model.SlotHold, *model.Slot, error) {
	if slotID == "" {
		return nil, nil, apperrors.InvalidInput("Slot ID cannot be empty")
	}

	key := keys.SlotLock(slotID)
	token, err := s.locker.Acquire(ctx, key, s.cfg.SlotLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrStoreUnavailable) {
			return nil, nil, apperrors.UnavailableWithCause("lock store", err)
		}
		return nil, nil, apperrors.SlotTaken(slotID)
	}
	hold := &model.SlotHold{SlotID: slotID, LockKey: key, Token: token}

	slot, err := s.repo.FindByID(ctx, slotID)
	if err != nil {
		s.unlock(ctx, hold)
		if errors.Is(err, slotserrors.ErrNotFound) {
			return nil, nil, apperrors.NotFoundWithID("Slot", slotID)
		}
		return nil, nil, apperrors.Internal("Failed to read slot", err)
	}
	return hold, slot, nil
}

func (s *slotService) unlock(ctx context.Context, hold *model.SlotHold) {
	if hold == nil || hold.Token == "" {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := s.locker.Release(releaseCtx, hold.LockKey, hold.Token)
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotHeld):
		s.cfg.Log.Debug("Slot lock already expired", "slot_id", hold.SlotID)
	default:
		s.cfg.Log.Warn("Failed to release slot lock", "slot_id", hold.SlotID, "error", err)
	}
	hold.Token = ""
}

func (s *slotService) invalidate(ctx context.Context, slotID string) {
	if err := s.cache.Invalidate(ctx, keys.SlotCache(slotID)); err != nil {
		s.cfg.Log.Warn("Failed to invalidate slot cache", "slot_id", slotID, "error", err)
	}
}

func (s *slotService) lockError(err error, resource, id string) error {
	if errors.Is(err, lock.ErrStoreUnavailable) {
		return apperrors.UnavailableWithCause("lock store", err)
	}
	return apperrors.ResourceBusy(resource, id)
}
