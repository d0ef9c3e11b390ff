// Package events publishes the domain events emitted by booking transitions,
// reminder dispatch and job sweeps.
package events

import (
	"context"

	"appointments/pkg/kafka"
	"appointments/pkg/model"
)

const schemaVersion = "1"

type Publisher interface {
	PublishBookingEvent(ctx context.Context, event model.BookingEvent) error
	PublishJobRun(ctx context.Context, event model.JobRunEvent) error
	PublishReminderFailed(ctx context.Context, event model.ReminderFailedEvent) error
}

// MessagePublisher is satisfied by *kafka.Producer.
type MessagePublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type Topics struct {
	BookingEvents string
	JobRuns       string
}

type KafkaPublisher struct {
	producer MessagePublisher
	topics   Topics
	source   string
}

func NewKafkaPublisher(producer MessagePublisher, topics Topics, source string) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topics:   topics,
		source:   source,
	}
}

func (p *KafkaPublisher) PublishBookingEvent(ctx context.Context, event model.BookingEvent) error {
	return p.publish(ctx, p.topics.BookingEvents, event.BookingID, event.EventType, event)
}

func (p *KafkaPublisher) PublishJobRun(ctx context.Context, event model.JobRunEvent) error {
	if event.EventType == "" {
		event.EventType = model.EventJobCompleted
	}
	return p.publish(ctx, p.topics.JobRuns, event.JobName, event.EventType, event)
}

func (p *KafkaPublisher) PublishReminderFailed(ctx context.Context, event model.ReminderFailedEvent) error {
	if event.EventType == "" {
		event.EventType = model.EventReminderFailed
	}
	return p.publish(ctx, p.topics.BookingEvents, event.BookingID, event.EventType, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key, eventType string, value any) error {
	msg, err := kafka.NewMessage().
		WithTopic(topic).
		WithKey(key).
		WithEventType(eventType).
		WithSchemaVersion(schemaVersion).
		WithSource(p.source).
		WithValue(value).
		Build()
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, msg)
}
