package testutil

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	slotserrors "appointments/internal/slots/errors"
	"appointments/internal/slots/repository"
	"appointments/pkg/model"
)

type SlotRepo struct {
	mu    sync.Mutex
	slots map[string]*model.Slot

	// Err, when set, is returned by every call.
	Err error
}

func NewSlotRepo(slots ...*model.Slot) *SlotRepo {
	r := &SlotRepo{slots: make(map[string]*model.Slot)}
	for _, s := range slots {
		cp := *s
		r.slots[s.ID] = &cp
	}
	return r
}

func (r *SlotRepo) Get(id string) *model.Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (r *SlotRepo) CreateMany(ctx context.Context, slots []*model.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, s := range slots {
		cp := *s
		r.slots[s.ID] = &cp
	}
	return nil
}

func (r *SlotRepo) FindByID(ctx context.Context, id string) (*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	s, ok := r.slots[id]
	if !ok {
		return nil, slotserrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *SlotRepo) CountOverlapping(ctx context.Context, consultantID string, start, end time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for _, s := range r.slots {
		if s.ConsultantID == consultantID && s.StartTime.Before(end) && s.EndTime.After(start) {
			n++
		}
	}
	return n, nil
}

func (r *SlotRepo) available(consultantID string, from, to time.Time) []*model.Slot {
	var out []*model.Slot
	for _, s := range r.slots {
		if s.ConsultantID == consultantID && s.Status == model.SlotAvailable &&
			!s.StartTime.Before(from) && s.StartTime.Before(to) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (r *SlotRepo) FindAvailable(ctx context.Context, consultantID string, from, to time.Time, limit int, offset int64) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	all := r.available(consultantID, from, to)
	if int(offset) >= len(all) {
		return []*model.Slot{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *SlotRepo) CountAvailable(ctx context.Context, consultantID string, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	return int64(len(r.available(consultantID, from, to))), nil
}

func (r *SlotRepo) FindHeldBefore(ctx context.Context, before time.Time, limit int) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*model.Slot
	for _, s := range r.slots {
		if s.Status == model.SlotHeld && s.UpdatedAt.Before(before) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SlotRepo) Transition(ctx context.Context, id string, cond repository.Condition, to model.SlotStatus, bookingID string) (*model.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	s, ok := r.slots[id]
	if !ok || !slices.Contains(cond.From, s.Status) {
		return nil, slotserrors.ErrStaleState
	}
	if cond.BookingID != "" && s.BookingID != cond.BookingID {
		return nil, slotserrors.ErrStaleState
	}
	s.Status = to
	s.BookingID = bookingID
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	return &cp, nil
}
