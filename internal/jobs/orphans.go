package jobs

import (
	"context"
	"errors"
	"time"

	slotserrors "appointments/internal/slots/errors"
	apperrors "appointments/pkg/errors"
	"appointments/pkg/logger"
	"appointments/pkg/model"
)

const OrphanHoldJobName = "release-orphaned-holds"

type HeldSlots interface {
	ListStaleHolds(ctx context.Context, heldBefore time.Time, limit int) ([]*model.Slot, error)
	Acquire(ctx context.Context, slotID, bookingID string) (*model.SlotHold, error)
	Release(ctx context.Context, hold *model.SlotHold) error
}

type BookingLookup interface {
	GetByID(ctx context.Context, id string) (*model.Booking, error)
}

// OrphanHoldJob frees slots left held by a booking that was never stored or
// has already ended. A slot only qualifies after it has been held for longer
// than the hold window, so an in-flight create is never touched.
type OrphanHoldJob struct {
	slots      HeldSlots
	bookings   BookingLookup
	holdWindow time.Duration
	batchSize  int
	log        *logger.Logger
	now        func() time.Time
}

func NewOrphanHoldJob(slots HeldSlots, bookings BookingLookup, holdWindow time.Duration, batchSize int, log *logger.Logger) *OrphanHoldJob {
	return &OrphanHoldJob{
		slots:      slots,
		bookings:   bookings,
		holdWindow: holdWindow,
		batchSize:  batchSize,
		log:        log.With("job", OrphanHoldJobName),
		now:        time.Now,
	}
}

func (j *OrphanHoldJob) Name() string {
	return OrphanHoldJobName
}

func (j *OrphanHoldJob) Run(ctx context.Context) (model.SweepSummary, error) {
	var summary model.SweepSummary

	held, err := j.slots.ListStaleHolds(ctx, j.now().UTC().Add(-j.holdWindow), j.batchSize)
	if err != nil {
		return summary, err
	}

	for _, slot := range held {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Processed++

		orphaned, err := j.isOrphaned(ctx, slot)
		if err != nil {
			summary.Failed++
			j.log.Error("Failed to look up holding booking", "slot_id", slot.ID, "booking_id", slot.BookingID, "error", err)
			continue
		}
		if !orphaned {
			summary.Skipped++
			continue
		}

		switch err := j.release(ctx, slot); {
		case err == nil:
			summary.Succeeded++
			j.log.Warn("Released orphaned slot hold", "slot_id", slot.ID, "booking_id", slot.BookingID)
		case errors.Is(err, slotserrors.ErrNotOwner),
			apperrors.HasCode(err, apperrors.CodeSlotTaken),
			apperrors.HasCode(err, apperrors.CodeNotFound):
			summary.Skipped++
		default:
			summary.Failed++
			j.log.Error("Failed to release orphaned slot hold", "slot_id", slot.ID, "error", err)
		}
	}

	return summary, nil
}

// isOrphaned reports whether the slot's booking is missing or terminal.
func (j *OrphanHoldJob) isOrphaned(ctx context.Context, slot *model.Slot) (bool, error) {
	if slot.BookingID == "" {
		return true, nil
	}
	b, err := j.bookings.GetByID(ctx, slot.BookingID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return true, nil
		}
		return false, err
	}
	return !b.Status.Active(), nil
}

func (j *OrphanHoldJob) release(ctx context.Context, slot *model.Slot) error {
	hold, err := j.slots.Acquire(ctx, slot.ID, slot.BookingID)
	if err != nil {
		return err
	}
	return j.slots.Release(ctx, hold)
}
