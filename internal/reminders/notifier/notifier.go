// Package notifier hands reminder payloads to the delivery channel. Message
// rendering happens downstream.
package notifier

import (
	"context"
	"fmt"

	"appointments/internal/events"
	"appointments/pkg/client"
	"appointments/pkg/kafka"
	"appointments/pkg/model"

	"golang.org/x/time/rate"
)

type Notifier interface {
	Notify(ctx context.Context, payload model.ReminderPayload) error
}

// KafkaNotifier publishes each reminder to a topic consumed by the
// notification service. The write is synchronous so a broker failure counts
// as a failed attempt.
type KafkaNotifier struct {
	producer events.MessagePublisher
	topic    string
	source   string
}

func NewKafkaNotifier(producer events.MessagePublisher, topic, source string) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		source:   source,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, payload model.ReminderPayload) error {
	msg, err := kafka.NewMessage().
		WithTopic(n.topic).
		WithKey(payload.BookingID).
		WithEventID(payload.ReminderID + "-" + fmt.Sprint(payload.Attempt)).
		WithEventType("reminder.due").
		WithSource(n.source).
		WithValue(payload).
		Build()
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, msg)
}

// WebhookNotifier POSTs each reminder as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	client *client.HttpClient
	path   string
}

func NewWebhookNotifier(httpClient *client.HttpClient, path string) *WebhookNotifier {
	return &WebhookNotifier{
		client: httpClient,
		path:   path,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, payload model.ReminderPayload) error {
	resp, err := n.client.POST(ctx, n.path, payload, map[string]string{
		"Idempotency-Key": payload.ReminderID,
	})
	if err != nil {
		return fmt.Errorf("webhook notify: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook notify: %s", client.GetErrorMessage(resp))
	}
	return nil
}

// Throttled caps the rate of outbound notifications across all dispatch
// workers of this instance.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter
}

func NewThrottled(next Notifier, perSecond float64, burst int) *Throttled {
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttled) Notify(ctx context.Context, payload model.ReminderPayload) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notifier throttle: %w", err)
	}
	return t.next.Notify(ctx, payload)
}
