package jobs

import (
	"context"
	"time"

	apperrors "appointments/pkg/errors"
	"appointments/pkg/logger"
	"appointments/pkg/model"
)

const ExpiryJobName = "expire-bookings"

type BookingExpirer interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error)
	Timeout(ctx context.Context, id string) (*model.Booking, error)
}

// ExpiryJob moves pending bookings past their hold window to expired. Each
// booking goes through the state machine, which takes the per-booking lock.
type ExpiryJob struct {
	bookings  BookingExpirer
	batchSize int
	log       *logger.Logger
	now       func() time.Time
}

func NewExpiryJob(bookings BookingExpirer, batchSize int, log *logger.Logger) *ExpiryJob {
	return &ExpiryJob{
		bookings:  bookings,
		batchSize: batchSize,
		log:       log.With("job", ExpiryJobName),
		now:       time.Now,
	}
}

func (j *ExpiryJob) Name() string {
	return ExpiryJobName
}

func (j *ExpiryJob) Run(ctx context.Context) (model.SweepSummary, error) {
	var summary model.SweepSummary

	expired, err := j.bookings.ListExpired(ctx, j.now().UTC(), j.batchSize)
	if err != nil {
		return summary, err
	}

	for _, b := range expired {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Processed++

		_, err := j.bookings.Timeout(ctx, b.ID)
		switch {
		case err == nil:
			summary.Succeeded++
		case apperrors.HasCode(err, apperrors.CodeInvalidTransition),
			apperrors.HasCode(err, apperrors.CodeResourceBusy),
			apperrors.HasCode(err, apperrors.CodeNotFound):
			// Confirmed, cancelled or expired by someone else since the query.
			summary.Skipped++
			j.log.Debug("Booking no longer expirable", "booking_id", b.ID, "reason", err)
		default:
			summary.Failed++
			j.log.Error("Failed to expire booking", "booking_id", b.ID, "error", err)
		}
	}

	return summary, nil
}
