package events

import (
	"context"
	"testing"
	"time"

	"appointments/pkg/kafka"
	"appointments/pkg/model"
)

type mockProducer struct {
	published []kafka.Message
}

func (m *mockProducer) Publish(ctx context.Context, msg kafka.Message) error {
	m.published = append(m.published, msg)
	return nil
}

func TestPublishBookingEvent(t *testing.T) {
	producer := &mockProducer{}
	p := NewKafkaPublisher(producer, Topics{BookingEvents: "booking-events", JobRuns: "job-runs"}, "bookings")

	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	err := p.PublishBookingEvent(context.Background(), model.BookingEvent{
		EventType: model.BookingEventType(model.BookingExpired),
		BookingID: "b1",
		FromState: model.BookingPending,
		ToState:   model.BookingExpired,
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(producer.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(producer.published))
	}
	msg := producer.published[0]
	if msg.Topic != "booking-events" || msg.Key != "b1" {
		t.Errorf("unexpected routing topic=%q key=%q", msg.Topic, msg.Key)
	}
	if msg.GetEventType() != "booking.expired" {
		t.Errorf("unexpected event type %q", msg.GetEventType())
	}

	var decoded map[string]any
	if err := msg.DecodeValue(&decoded); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"eventType", "bookingId", "fromState", "toState", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("payload missing %q", field)
		}
	}
}

func TestPublishJobRun(t *testing.T) {
	producer := &mockProducer{}
	p := NewKafkaPublisher(producer, Topics{BookingEvents: "booking-events", JobRuns: "job-runs"}, "bookings")

	err := p.PublishJobRun(context.Background(), model.JobRunEvent{
		JobName:    "expire-bookings",
		Processed:  3,
		Succeeded:  2,
		Failed:     1,
		DurationMs: 42,
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := producer.published[0]
	if msg.Topic != "job-runs" || msg.Key != "expire-bookings" {
		t.Errorf("unexpected routing topic=%q key=%q", msg.Topic, msg.Key)
	}
	var decoded model.JobRunEvent
	if err := msg.DecodeValue(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.EventType != model.EventJobCompleted || decoded.DurationMs != 42 || decoded.Failed != 1 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}
