package testutil

import (
	"context"
	"sync"

	"appointments/pkg/model"
)

// Publisher records every event it is given.
type Publisher struct {
	mu             sync.Mutex
	BookingEvents  []model.BookingEvent
	JobRuns        []model.JobRunEvent
	ReminderFailed []model.ReminderFailedEvent

	// Err, when set, is returned after the event is recorded.
	Err error
}

func (p *Publisher) PublishBookingEvent(ctx context.Context, event model.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BookingEvents = append(p.BookingEvents, event)
	return p.Err
}

func (p *Publisher) PublishJobRun(ctx context.Context, event model.JobRunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.JobRuns = append(p.JobRuns, event)
	return p.Err
}

func (p *Publisher) PublishReminderFailed(ctx context.Context, event model.ReminderFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReminderFailed = append(p.ReminderFailed, event)
	return p.Err
}

// BookingEventsFor returns the recorded events for one booking, in order.
func (p *Publisher) BookingEventsFor(bookingID string) []model.BookingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.BookingEvent
	for _, e := range p.BookingEvents {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out
}
