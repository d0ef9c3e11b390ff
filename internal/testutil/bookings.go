package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	bookingserrors "appointments/internal/bookings/errors"
	"appointments/internal/bookings/repository"
	mongotx "appointments/pkg/db/mongo"
	"appointments/pkg/model"
)

type BookingRepo struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking

	// TransitionErr, when set, fails every Transition call.
	TransitionErr error
	// BeforeCreate runs ahead of every insert.
	BeforeCreate func(ctx context.Context)
}

func NewBookingRepo(bookings ...*model.Booking) *BookingRepo {
	r := &BookingRepo{bookings: make(map[string]*model.Booking)}
	for _, b := range bookings {
		cp := *b
		r.bookings[b.ID] = &cp
	}
	return r
}

func (r *BookingRepo) Get(id string) *model.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (r *BookingRepo) All() []*model.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Booking, 0, len(r.bookings))
	for _, b := range r.bookings {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

func (r *BookingRepo) Create(ctx context.Context, booking *model.Booking) error {
	if r.BeforeCreate != nil {
		r.BeforeCreate(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *booking
	r.bookings[booking.ID] = &cp
	return nil
}

func (r *BookingRepo) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, bookingserrors.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *BookingRepo) Transition(ctx context.Context, id string, change repository.StatusChange) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.TransitionErr != nil {
		return nil, r.TransitionErr
	}
	b, ok := r.bookings[id]
	if !ok || b.Status != change.From || b.Version != change.Version {
		return nil, bookingserrors.ErrStaleState
	}
	b.Status = change.To
	b.UpdatedAt = change.At
	b.Version++
	if change.CancelReason != "" {
		b.CancelReason = change.CancelReason
	}
	if change.RescheduledTo != "" {
		b.RescheduledTo = change.RescheduledTo
	}
	if change.From == model.BookingPending {
		b.ExpiresAt = nil
	}
	cp := *b
	return &cp, nil
}

func (r *BookingRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Booking
	for _, b := range r.bookings {
		if b.Status == model.BookingPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExecuteTransaction restores the booking set when fn fails.
func (r *BookingRepo) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	r.mu.Lock()
	snapshot := make(map[string]*model.Booking, len(r.bookings))
	for id, b := range r.bookings {
		cp := *b
		snapshot[id] = &cp
	}
	r.mu.Unlock()

	if err := fn(ctx); err != nil {
		r.mu.Lock()
		r.bookings = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}
