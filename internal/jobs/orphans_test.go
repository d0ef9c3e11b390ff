package jobs

import (
	"context"
	"testing"
	"time"

	"appointments/internal/testutil"
	"appointments/pkg/model"
)

func heldSlot(id, bookingID string, heldAt time.Time) *model.Slot {
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Minute)
	return &model.Slot{
		ID:           id,
		ConsultantID: "consultant-A",
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
		Status:       model.SlotHeld,
		BookingID:    bookingID,
		UpdatedAt:    heldAt,
	}
}

func (f *expiryFixture) orphanJob() *OrphanHoldJob {
	cfg := testutil.Config()
	return NewOrphanHoldJob(f.slotSvc, f.service, cfg.HoldWindow, cfg.ExpiryBatchSize, cfg.Log)
}

// ────────────────────────────────────────────────
// OrphanHoldJob
// ────────────────────────────────────────────────

func TestOrphanHoldJob_ReleasesHoldWithoutBooking(t *testing.T) {
	stale := time.Now().Add(-time.Hour).UTC()
	f := newExpiryFixture(t, []*model.Slot{heldSlot("slot-1", "ghost", stale)})

	summary, err := f.orphanJob().Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Processed != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	s := f.slots.Get("slot-1")
	if s.Status != model.SlotAvailable || s.BookingID != "" {
		t.Errorf("expected slot-1 available and unowned, got %s/%q", s.Status, s.BookingID)
	}
}

func TestOrphanHoldJob_ReleasesHoldOfEndedBooking(t *testing.T) {
	stale := time.Now().Add(-time.Hour).UTC()
	b, _ := pendingBooking("b1", "slot-1", time.Now().Add(-30*time.Minute))
	b.Status = model.BookingCancelled
	f := newExpiryFixture(t, []*model.Slot{heldSlot("slot-1", "b1", stale)}, b)

	summary, err := f.orphanJob().Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotAvailable {
		t.Errorf("expected slot-1 available, got %s", s.Status)
	}
}

func TestOrphanHoldJob_LeavesActiveAndFreshHolds(t *testing.T) {
	stale := time.Now().Add(-time.Hour).UTC()
	b, _ := pendingBooking("b1", "slot-1", time.Now().Add(10*time.Minute))
	f := newExpiryFixture(t, []*model.Slot{
		heldSlot("slot-1", "b1", stale),
		heldSlot("slot-2", "in-flight", time.Now().UTC()),
	}, b)

	summary, err := f.orphanJob().Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Processed != 1 || summary.Skipped != 1 || summary.Succeeded != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if s := f.slots.Get("slot-1"); s.Status != model.SlotHeld || s.BookingID != "b1" {
		t.Errorf("expected slot-1 still held by b1, got %s/%q", s.Status, s.BookingID)
	}
	if s := f.slots.Get("slot-2"); s.Status != model.SlotHeld {
		t.Errorf("expected fresh hold untouched, got %s", s.Status)
	}
}

func TestOrphanHoldJob_RunsUnderJobLock(t *testing.T) {
	stale := time.Now().Add(-time.Hour).UTC()
	f := newExpiryFixture(t, []*model.Slot{heldSlot("slot-1", "ghost", stale)})
	cfg := testutil.Config()
	registry := NewRegistry()
	job := NewLockedJob(f.orphanJob(), f.locker, registry, f.pub, cfg.JobLockTTL, cfg.Log)

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, ok := registry.Get(OrphanHoldJobName); !ok {
		t.Error("expected job to be registered")
	}
}
