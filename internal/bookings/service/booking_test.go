package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bookingserrors "appointments/internal/bookings/errors"
	"appointments/internal/bookings/statemachine"
	remindersvc "appointments/internal/reminders/service"
	slotsvc "appointments/internal/slots/service"
	"appointments/internal/testutil"
	"appointments/pkg/cache"
	apperrors "appointments/pkg/errors"
	"appointments/pkg/keys"
	"appointments/pkg/lock"
	"appointments/pkg/model"
	"appointments/pkg/validator"
)

// ────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────

var (
	slotStart = time.Date(2030, 3, 1, 10, 0, 0, 0, time.UTC)
	fixedNow  = slotStart.Add(-72 * time.Hour)
)

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, model.ReminderPayload) error { return nil }

type fixture struct {
	svc       *bookingService
	bookings  *testutil.BookingRepo
	slots     *testutil.SlotRepo
	reminders *testutil.ReminderRepo
	pub       *testutil.Publisher
	locker    lock.Locker
}

func newFixture(t *testing.T, slots []*model.Slot, bookings ...*model.Booking) *fixture {
	t.Helper()
	client, _ := testutil.NewRedis(t)
	cfg := testutil.Config()
	store := cache.NewRedisStore(client)
	locker := lock.NewRedisLocker(client, cfg.Log)
	v := validator.New(cfg.Log)
	pub := &testutil.Publisher{}

	slotRepo := testutil.NewSlotRepo(slots...)
	reminderRepo := testutil.NewReminderRepo()
	bookingRepo := testutil.NewBookingRepo(bookings...)

	slotService := slotsvc.NewSlotService(slotRepo, locker, store, v, cfg)
	reminderService := remindersvc.NewReminderService(reminderRepo, noopNotifier{}, pub, store, cfg)

	svc := NewBookingService(bookingRepo, slotService, reminderService, locker, store, pub, v, cfg).(*bookingService)
	svc.now = func() time.Time { return fixedNow }

	return &fixture{
		svc:       svc,
		bookings:  bookingRepo,
		slots:     slotRepo,
		reminders: reminderRepo,
		pub:       pub,
		locker:    locker,
	}
}

func slot(id string, start time.Time) *model.Slot {
	return &model.Slot{
		ID:           id,
		ConsultantID: "consultant-A",
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
		Status:       model.SlotAvailable,
	}
}

func heldSlot(id, bookingID string, status model.SlotStatus) *model.Slot {
	s := slot(id, slotStart)
	s.Status = status
	s.BookingID = bookingID
	return s
}

func booking(id, slotID string, status model.BookingStatus) *model.Booking {
	b := &model.Booking{
		ID:           id,
		SlotID:       slotID,
		ConsultantID: "consultant-A",
		CustomerID:   "customer-1",
		Status:       status,
		SlotStart:    slotStart,
		Version:      1,
	}
	if status == model.BookingPending {
		expiresAt := fixedNow.Add(10 * time.Minute)
		b.ExpiresAt = &expiresAt
	}
	return b
}

func bookingRequest(slotID string) *model.BookingRequest {
	return &model.BookingRequest{SlotID: slotID, ConsultantID: "consultant-A", CustomerID: "customer-1"}
}

// ────────────────────────────────────────────────
// Create
// ────────────────────────────────────────────────

func TestCreate_HoldsSlotAndStartsPending(t *testing.T) {
	f := newFixture(t, []*model.Slot{slot("slot-1", slotStart)})

	b, err := f.svc.Create(context.Background(), bookingRequest("slot-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != model.BookingPending {
		t.Errorf("expected pending, got %s", b.Status)
	}
	if b.ExpiresAt == nil || !b.ExpiresAt.Equal(fixedNow.Add(15*time.Minute)) {
		t.Errorf("expected expiry at end of hold window, got %v", b.ExpiresAt)
	}

	s := f.slots.Get("slot-1")
	if s.Status != model.SlotHeld || s.BookingID != b.ID {
		t.Errorf("expected slot held by %s, got %s/%s", b.ID, s.Status, s.BookingID)
	}

	events := f.pub.BookingEventsFor(b.ID)
	if len(events) != 1 || events[0].FromState != "" || events[0].ToState != model.BookingPending {
		t.Fatalf("expected one creation event, got %+v", events)
	}
	if events[0].EventType != "booking.pending" {
		t.Errorf("unexpected event type %q", events[0].EventType)
	}
}

func TestCreate_SlotTaken(t *testing.T) {
	f := newFixture(t, []*model.Slot{slot("slot-1", slotStart)})
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, bookingRequest("slot-1")); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Create(ctx, &model.BookingRequest{SlotID: "slot-1", ConsultantID: "consultant-A", CustomerID: "customer-2"})
	if !apperrors.HasCode(err, apperrors.CodeSlotTaken) {
		t.Fatalf("expected SLOT_TAKEN, got %v", err)
	}
	if len(f.bookings.All()) != 1 {
		t.Errorf("expected a single booking, got %d", len(f.bookings.All()))
	}
}

func TestCreate_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t, []*model.Slot{slot("slot-1", slotStart)})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), bookingRequest("slot-1"))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperrors.HasCode(err, apperrors.CodeSlotTaken):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one booking, got %d", wins)
	}
}

func TestCreate_ValidationAndStartedSlot(t *testing.T) {
	f := newFixture(t, []*model.Slot{slot("slot-past", fixedNow.Add(-time.Hour))})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, &model.BookingRequest{SlotID: "slot-past"})
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = f.svc.Create(ctx, bookingRequest("slot-past"))
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error for started slot, got %v", err)
	}
	if s := f.slots.Get("slot-past"); s.Status != model.SlotAvailable {
		t.Errorf("expected slot released, got %s", s.Status)
	}
}

func TestCreate_CancelledDuringInsertFreesSlot(t *testing.T) {
	f := newFixture(t, []*model.Slot{slot("slot-1", slotStart)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.bookings.BeforeCreate = func(context.Context) { cancel() }

	_, err := f.svc.Create(ctx, bookingRequest("slot-1"))
	if !apperrors.HasCode(err, apperrors.CodeInternal) {
		t.Fatalf("expected INTERNAL_ERROR, got %v", err)
	}
	if n := len(f.bookings.All()); n != 0 {
		t.Errorf("expected no bookings, got %d", n)
	}
	s := f.slots.Get("slot-1")
	if s.Status != model.SlotAvailable || s.BookingID != "" {
		t.Errorf("expected slot available and unowned, got %s/%q", s.Status, s.BookingID)
	}

	// The slot is usable again right away.
	f.bookings.BeforeCreate = nil
	if _, err := f.svc.Create(context.Background(), bookingRequest("slot-1")); err != nil {
		t.Fatalf("expected slot to be bookable again, got %v", err)
	}
}

// ────────────────────────────────────────────────
// Transition table
// ────────────────────────────────────────────────

func (f *fixture) apply(ctx context.Context, id string, event statemachine.Event) (*model.Booking, error) {
	switch event {
	case statemachine.EventConfirm:
		return f.svc.Confirm(ctx, id)
	case statemachine.EventTimeout:
		return f.svc.Timeout(ctx, id)
	case statemachine.EventCancel:
		return f.svc.Cancel(ctx, id, "")
	case statemachine.EventReschedule:
		return f.svc.Reschedule(ctx, id, &model.RescheduleRequest{SlotID: "slot-2"})
	case statemachine.EventComplete:
		return f.svc.Complete(ctx, id)
	}
	panic("unhandled event " + event)
}

func TestTransitions_InvalidPairsLeaveStateUnchanged(t *testing.T) {
	for _, state := range statemachine.States {
		for _, event := range statemachine.Events {
			if event == statemachine.EventCreate {
				continue
			}
			if _, err := statemachine.Transition(state, event); err == nil {
				continue
			}

			t.Run(string(state)+"/"+string(event), func(t *testing.T) {
				f := newFixture(t,
					[]*model.Slot{heldSlot("slot-1", "b1", model.SlotBooked), slot("slot-2", slotStart.Add(time.Hour))},
					booking("b1", "slot-1", state),
				)

				_, err := f.apply(context.Background(), "b1", event)
				if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
					t.Fatalf("expected INVALID_TRANSITION, got %v", err)
				}
				if !errors.Is(err, bookingserrors.ErrInvalidTransition) {
					t.Errorf("expected error to wrap ErrInvalidTransition")
				}

				got := f.bookings.Get("b1")
				if got.Status != state || got.Version != 1 {
					t.Errorf("expected %s at version 1, got %s at version %d", state, got.Status, got.Version)
				}
				if len(f.pub.BookingEvents) != 0 {
					t.Errorf("expected no events, got %d", len(f.pub.BookingEvents))
				}
				if s := f.slots.Get("slot-2"); s.Status != model.SlotAvailable {
					t.Errorf("expected slot-2 untouched, got %s", s.Status)
				}
			})
		}
	}
}

// ────────────────────────────────────────────────
// Confirm
// ────────────────────────────────────────────────

func TestConfirm_BooksSlotAndSchedulesReminders(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)

	b, err := f.svc.Confirm(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != model.BookingConfirmed || b.ExpiresAt != nil {
		t.Errorf("expected confirmed without expiry, got %s/%v", b.Status, b.ExpiresAt)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotBooked {
		t.Errorf("expected slot booked, got %s", s.Status)
	}

	reminders, _ := f.reminders.FindByBooking(context.Background(), "b1")
	if len(reminders) != 2 {
		t.Errorf("expected 2 reminders, got %d", len(reminders))
	}

	events := f.pub.BookingEventsFor("b1")
	if len(events) != 1 || events[0].FromState != model.BookingPending || events[0].ToState != model.BookingConfirmed {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestConfirm_Twice(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)
	ctx := context.Background()

	if _, err := f.svc.Confirm(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	before := f.bookings.Get("b1")

	_, err := f.svc.Confirm(ctx, "b1")
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	after := f.bookings.Get("b1")
	if after.Version != before.Version || after.Status != model.BookingConfirmed {
		t.Errorf("expected booking unchanged, got %+v", after)
	}
	if len(f.pub.BookingEventsFor("b1")) != 1 {
		t.Errorf("expected a single confirmation event")
	}
}

func TestConfirm_ConcurrentCallersOneWinner(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Confirm(context.Background(), "b1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperrors.HasCode(err, apperrors.CodeInvalidTransition), apperrors.HasCode(err, apperrors.CodeResourceBusy):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", wins)
	}
	reminders, _ := f.reminders.FindByBooking(context.Background(), "b1")
	if len(reminders) != 2 {
		t.Errorf("expected reminders scheduled once, got %d", len(reminders))
	}
}

func TestConfirm_AfterHoldExpired(t *testing.T) {
	b := booking("b1", "slot-1", model.BookingPending)
	expired := fixedNow.Add(-time.Second)
	b.ExpiresAt = &expired

	f := newFixture(t, []*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)}, b)

	_, err := f.svc.Confirm(context.Background(), "b1")
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	if got := f.bookings.Get("b1"); got.Status != model.BookingPending {
		t.Errorf("expected still pending, got %s", got.Status)
	}
}

func TestConfirm_BookingLocked(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)
	ctx := context.Background()

	if _, err := f.locker.Acquire(ctx, keys.BookingLock("b1"), time.Minute); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Confirm(ctx, "b1")
	if !apperrors.HasCode(err, apperrors.CodeResourceBusy) {
		t.Fatalf("expected RESOURCE_BUSY, got %v", err)
	}
}

func TestConfirm_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Confirm(context.Background(), "missing")
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestConfirm_PublishFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)
	f.pub.Err = errors.New("broker down")

	if _, err := f.svc.Confirm(context.Background(), "b1"); err != nil {
		t.Fatalf("expected confirmation despite publish failure, got %v", err)
	}
	if f.bookings.Get("b1").Status != model.BookingConfirmed {
		t.Error("expected confirmed")
	}
}

// ────────────────────────────────────────────────
// Cancel / Timeout / Complete
// ────────────────────────────────────────────────

func TestCancel_FreesSlotAndReminders(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)
	ctx := context.Background()

	if _, err := f.svc.Confirm(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	b, err := f.svc.Cancel(ctx, "b1", "customer request")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != model.BookingCancelled || b.CancelReason != "customer request" {
		t.Errorf("expected cancelled with reason, got %s/%q", b.Status, b.CancelReason)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotAvailable || s.BookingID != "" {
		t.Errorf("expected slot available, got %s/%s", s.Status, s.BookingID)
	}

	reminders, _ := f.reminders.FindByBooking(ctx, "b1")
	for _, r := range reminders {
		if r.Status != model.ReminderCancelled {
			t.Errorf("expected reminder %s cancelled, got %s", r.ID, r.Status)
		}
	}
}

type cancellingNotifier struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, p model.ReminderPayload) error
}

func (n *cancellingNotifier) Notify(_ context.Context, p model.ReminderPayload) error {
	n.mu.Lock()
	n.calls++
	call := n.calls
	n.mu.Unlock()
	return n.fn(call, p)
}

func TestCancel_DuringReminderDeliveryStopsReminder(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)
	ctx := context.Background()
	if _, err := f.svc.Confirm(ctx, "b1"); err != nil {
		t.Fatal(err)
	}

	n := &cancellingNotifier{fn: func(call int, p model.ReminderPayload) error {
		if call == 1 {
			if _, err := f.svc.Cancel(context.Background(), p.BookingID, "changed plans"); err != nil {
				t.Errorf("cancel failed: %v", err)
			}
			return errors.New("gateway timeout")
		}
		return nil
	}}
	client, _ := testutil.NewRedis(t)
	dispatcher := remindersvc.NewReminderService(f.reminders, n, f.pub, cache.NewRedisStore(client), testutil.Config())

	// Only the 48h reminder is due here.
	if _, err := dispatcher.DispatchDue(ctx, slotStart.Add(-47*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := dispatcher.DispatchDue(ctx, slotStart.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	if n.calls != 1 {
		t.Errorf("expected one delivery attempt, got %d", n.calls)
	}
	reminders, _ := f.reminders.FindByBooking(ctx, "b1")
	for _, r := range reminders {
		if r.Status != model.ReminderCancelled {
			t.Errorf("reminder %s: expected cancelled, got %s", r.ID, r.Status)
		}
	}
	if f.bookings.Get("b1").Status != model.BookingCancelled {
		t.Error("expected booking cancelled")
	}
}

func TestCancel_SlotReassignedElsewhere(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "other", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)

	if _, err := f.svc.Cancel(context.Background(), "b1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := f.slots.Get("slot-1"); s.BookingID != "other" {
		t.Errorf("expected foreign hold untouched, got %s", s.BookingID)
	}
}

func TestTimeout(t *testing.T) {
	b := booking("b1", "slot-1", model.BookingPending)
	f := newFixture(t, []*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)}, b)
	ctx := context.Background()

	_, err := f.svc.Timeout(ctx, "b1")
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION before expiry, got %v", err)
	}

	f.svc.now = func() time.Time { return b.ExpiresAt.Add(time.Second) }
	got, err := f.svc.Timeout(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.BookingExpired {
		t.Errorf("expected expired, got %s", got.Status)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotAvailable {
		t.Errorf("expected slot available, got %s", s.Status)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)
	ctx := context.Background()

	if _, err := f.svc.Confirm(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	b, err := f.svc.Complete(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != model.BookingCompleted {
		t.Errorf("expected completed, got %s", b.Status)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotBooked {
		t.Errorf("expected slot to stay booked, got %s", s.Status)
	}
	if n, _ := f.reminders.CountPending(ctx); n != 0 {
		t.Errorf("expected no pending reminders, got %d", n)
	}
}

// ────────────────────────────────────────────────
// Reschedule
// ────────────────────────────────────────────────

func TestReschedule_MovesToNewSlot(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotBooked), slot("slot-2", slotStart.Add(time.Hour))},
		booking("b1", "slot-1", model.BookingConfirmed),
	)
	ctx := context.Background()

	next, err := f.svc.Reschedule(ctx, "b1", &model.RescheduleRequest{SlotID: "slot-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Status != model.BookingPending || next.RescheduledFrom != "b1" || next.SlotID != "slot-2" {
		t.Errorf("unexpected new booking: %+v", next)
	}

	original := f.bookings.Get("b1")
	if original.Status != model.BookingRescheduled || original.RescheduledTo != next.ID {
		t.Errorf("unexpected original: %s -> %q", original.Status, original.RescheduledTo)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotAvailable {
		t.Errorf("expected old slot available, got %s", s.Status)
	}
	if s := f.slots.Get("slot-2"); s.Status != model.SlotHeld || s.BookingID != next.ID {
		t.Errorf("expected new slot held by %s, got %s/%s", next.ID, s.Status, s.BookingID)
	}

	if len(f.pub.BookingEventsFor("b1")) != 1 || len(f.pub.BookingEventsFor(next.ID)) != 1 {
		t.Errorf("expected one event per booking, got %+v", f.pub.BookingEvents)
	}
}

func TestReschedule_TargetTaken(t *testing.T) {
	taken := heldSlot("slot-2", "someone-else", model.SlotBooked)
	taken.StartTime = slotStart.Add(time.Hour)
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotBooked), taken},
		booking("b1", "slot-1", model.BookingConfirmed),
	)

	_, err := f.svc.Reschedule(context.Background(), "b1", &model.RescheduleRequest{SlotID: "slot-2"})
	if !apperrors.HasCode(err, apperrors.CodeSlotTaken) {
		t.Fatalf("expected SLOT_TAKEN, got %v", err)
	}
	if b := f.bookings.Get("b1"); b.Status != model.BookingConfirmed || b.Version != 1 {
		t.Errorf("expected original untouched, got %s v%d", b.Status, b.Version)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotBooked {
		t.Errorf("expected original slot still booked, got %s", s.Status)
	}
	if len(f.bookings.All()) != 1 {
		t.Errorf("expected no new booking, got %d", len(f.bookings.All()))
	}
}

func TestReschedule_SameSlot(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotBooked)},
		booking("b1", "slot-1", model.BookingConfirmed),
	)

	_, err := f.svc.Reschedule(context.Background(), "b1", &model.RescheduleRequest{SlotID: "slot-1"})
	if !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestReschedule_CancelledDuringInsertFreesNewSlot(t *testing.T) {
	target := slot("slot-2", slotStart.Add(time.Hour))
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotBooked), target},
		booking("b1", "slot-1", model.BookingConfirmed),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.bookings.BeforeCreate = func(context.Context) { cancel() }

	if _, err := f.svc.Reschedule(ctx, "b1", &model.RescheduleRequest{SlotID: "slot-2"}); err == nil {
		t.Fatal("expected reschedule to fail")
	}
	if s := f.slots.Get("slot-2"); s.Status != model.SlotAvailable || s.BookingID != "" {
		t.Errorf("expected target slot available, got %s/%q", s.Status, s.BookingID)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotBooked || s.BookingID != "b1" {
		t.Errorf("expected original slot still booked by b1, got %s/%q", s.Status, s.BookingID)
	}
	if b := f.bookings.Get("b1"); b.Status != model.BookingConfirmed {
		t.Errorf("expected original untouched, got %s", b.Status)
	}
	if n := len(f.bookings.All()); n != 1 {
		t.Errorf("expected no replacement booking, got %d", n)
	}
}

func TestReschedule_ValidationDetails(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotBooked)},
		booking("b1", "slot-1", model.BookingConfirmed),
	)

	_, err := f.svc.Reschedule(context.Background(), "b1", &model.RescheduleRequest{SlotID: "bad slot!"})
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if _, ok := appErr.Details["RescheduleRequest.SlotID"]; !ok {
		t.Errorf("expected per-field details, got %+v", appErr.Details)
	}
	if b := f.bookings.Get("b1"); b.Status != model.BookingConfirmed {
		t.Errorf("expected booking untouched, got %s", b.Status)
	}
}

// ────────────────────────────────────────────────
// Reads
// ────────────────────────────────────────────────

func TestGetByID_CacheInvalidatedOnTransition(t *testing.T) {
	f := newFixture(t,
		[]*model.Slot{heldSlot("slot-1", "b1", model.SlotHeld)},
		booking("b1", "slot-1", model.BookingPending),
	)
	ctx := context.Background()

	b, err := f.svc.GetByID(ctx, "b1")
	if err != nil || b.Status != model.BookingPending {
		t.Fatalf("expected pending, got %v %v", b, err)
	}
	if _, err := f.svc.Confirm(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	b, err = f.svc.GetByID(ctx, "b1")
	if err != nil || b.Status != model.BookingConfirmed {
		t.Fatalf("expected fresh confirmed read, got %v %v", b, err)
	}
}

func TestListExpired(t *testing.T) {
	expired := booking("b1", "slot-1", model.BookingPending)
	past := fixedNow.Add(-time.Minute)
	expired.ExpiresAt = &past
	f := newFixture(t, nil, expired, booking("b2", "slot-2", model.BookingPending))

	got, err := f.svc.ListExpired(context.Background(), fixedNow, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b1" {
		t.Errorf("expected only b1, got %+v", got)
	}
}
