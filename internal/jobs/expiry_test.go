package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bookingsvc "appointments/internal/bookings/service"
	remindersvc "appointments/internal/reminders/service"
	slotsvc "appointments/internal/slots/service"
	"appointments/internal/testutil"
	"appointments/pkg/cache"
	apperrors "appointments/pkg/errors"
	"appointments/pkg/lock"
	"appointments/pkg/model"
	"appointments/pkg/validator"
)

// ────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, model.ReminderPayload) error { return nil }

type expiryFixture struct {
	bookings *testutil.BookingRepo
	slots    *testutil.SlotRepo
	pub      *testutil.Publisher
	locker   lock.Locker
	service  bookingsvc.BookingService
	slotSvc  slotsvc.SlotService
}

func newExpiryFixture(t *testing.T, slots []*model.Slot, bookings ...*model.Booking) *expiryFixture {
	t.Helper()
	client, _ := testutil.NewRedis(t)
	cfg := testutil.Config()
	store := cache.NewRedisStore(client)
	locker := lock.NewRedisLocker(client, cfg.Log)
	v := validator.New(cfg.Log)
	pub := &testutil.Publisher{}

	slotRepo := testutil.NewSlotRepo(slots...)
	bookingRepo := testutil.NewBookingRepo(bookings...)
	slotSvc := slotsvc.NewSlotService(slotRepo, locker, store, v, cfg)

	svc := bookingsvc.NewBookingService(
		bookingRepo,
		slotSvc,
		remindersvc.NewReminderService(testutil.NewReminderRepo(), noopNotifier{}, pub, store, cfg),
		locker,
		store,
		pub,
		v,
		cfg,
	)

	return &expiryFixture{bookings: bookingRepo, slots: slotRepo, pub: pub, locker: locker, service: svc, slotSvc: slotSvc}
}

func (f *expiryFixture) lockedExpiry(registry *Registry) *LockedJob {
	cfg := testutil.Config()
	return NewLockedJob(NewExpiryJob(f.service, cfg.ExpiryBatchSize, cfg.Log), f.locker, registry, f.pub, cfg.JobLockTTL, cfg.Log)
}

func pendingBooking(id, slotID string, expiresAt time.Time) (*model.Booking, *model.Slot) {
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Minute)
	b := &model.Booking{
		ID:           id,
		SlotID:       slotID,
		ConsultantID: "consultant-A",
		CustomerID:   "customer-1",
		Status:       model.BookingPending,
		SlotStart:    start,
		ExpiresAt:    &expiresAt,
		Version:      1,
	}
	s := &model.Slot{
		ID:           slotID,
		ConsultantID: "consultant-A",
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
		Status:       model.SlotHeld,
		BookingID:    id,
	}
	return b, s
}

// ────────────────────────────────────────────────
// ExpiryJob
// ────────────────────────────────────────────────

func TestExpiryJob_ExpiresAndFreesSlot(t *testing.T) {
	expiredBooking, expiredSlot := pendingBooking("b1", "slot-1", time.Now().Add(-time.Minute))
	freshBooking, freshSlot := pendingBooking("b2", "slot-2", time.Now().Add(10*time.Minute))
	f := newExpiryFixture(t, []*model.Slot{expiredSlot, freshSlot}, expiredBooking, freshBooking)
	registry := NewRegistry()
	job := f.lockedExpiry(registry)

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Processed != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if b := f.bookings.Get("b1"); b.Status != model.BookingExpired {
		t.Errorf("expected b1 expired, got %s", b.Status)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotAvailable {
		t.Errorf("expected slot-1 available, got %s", s.Status)
	}
	if b := f.bookings.Get("b2"); b.Status != model.BookingPending {
		t.Errorf("expected b2 untouched, got %s", b.Status)
	}

	events := f.pub.BookingEventsFor("b1")
	if len(events) != 1 || events[0].ToState != model.BookingExpired {
		t.Errorf("expected one expiry event, got %+v", events)
	}
	if len(f.pub.JobRuns) != 1 || f.pub.JobRuns[0].JobName != ExpiryJobName {
		t.Errorf("expected one job run event, got %+v", f.pub.JobRuns)
	}
}

func TestExpiryJob_SecondRunIsNoop(t *testing.T) {
	b, s := pendingBooking("b1", "slot-1", time.Now().Add(-time.Minute))
	f := newExpiryFixture(t, []*model.Slot{s}, b)
	job := f.lockedExpiry(NewRegistry())
	ctx := context.Background()

	if _, err := job.Run(ctx); err != nil {
		t.Fatal(err)
	}
	summary, err := job.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 0 {
		t.Errorf("expected empty second batch, got %+v", summary)
	}
	if got := f.bookings.Get("b1"); got.Version != 2 {
		t.Errorf("expected a single write, got version %d", got.Version)
	}
	if len(f.pub.BookingEventsFor("b1")) != 1 {
		t.Errorf("expected one expiry event in total")
	}
}

func TestExpiryJob_ConcurrentInstances(t *testing.T) {
	var slots []*model.Slot
	var bookings []*model.Booking
	for _, id := range []string{"b1", "b2", "b3", "b4", "b5"} {
		b, s := pendingBooking(id, "slot-"+id, time.Now().Add(-time.Minute))
		bookings = append(bookings, b)
		slots = append(slots, s)
	}
	f := newExpiryFixture(t, slots, bookings...)

	jobs := []*LockedJob{f.lockedExpiry(NewRegistry()), f.lockedExpiry(NewRegistry())}
	var wg sync.WaitGroup
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job *LockedJob) {
			defer wg.Done()
			_, errs[i] = job.Run(context.Background())
		}(i, job)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, ErrJobSkipped) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	for _, b := range bookings {
		if got := f.bookings.Get(b.ID); got.Status != model.BookingExpired || got.Version != 2 {
			t.Errorf("%s: expected expired exactly once, got %s v%d", b.ID, got.Status, got.Version)
		}
		if n := len(f.pub.BookingEventsFor(b.ID)); n != 1 {
			t.Errorf("%s: expected one event, got %d", b.ID, n)
		}
	}
}

// Confirmed between the query and the timeout: counted as skipped.
type racingExpirer struct {
	bookings []*model.Booking
}

func (r *racingExpirer) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	return r.bookings, nil
}

func (r *racingExpirer) Timeout(ctx context.Context, id string) (*model.Booking, error) {
	switch id {
	case "confirmed":
		return nil, apperrors.InvalidTransition("Booking", id, "confirmed", "timeout")
	case "broken":
		return nil, apperrors.Internal("Failed to persist booking transition", errors.New("write conflict"))
	}
	return &model.Booking{ID: id, Status: model.BookingExpired}, nil
}

func TestExpiryJob_ClassifiesOutcomes(t *testing.T) {
	expirer := &racingExpirer{bookings: []*model.Booking{{ID: "ok"}, {ID: "confirmed"}, {ID: "broken"}}}
	job := NewExpiryJob(expirer, 10, testutil.Config().Log)

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := model.SweepSummary{Processed: 3, Succeeded: 1, Failed: 1, Skipped: 1}
	if summary != want {
		t.Errorf("expected %+v, got %+v", want, summary)
	}
}
