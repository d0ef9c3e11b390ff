package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func buildMessage(t *testing.T) Message {
	t.Helper()
	msg, err := NewMessage().
		WithTopic("appointments.booking-events").
		WithKey("b1").
		WithEventType("booking.confirmed").
		WithValue(map[string]string{"bookingId": "b1"}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return msg
}

func TestPublish_WritesToMessageTopic(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	if err := p.Publish(context.Background(), buildMessage(t)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	if got := w.messages[0].Topic; got != "appointments.booking-events" {
		t.Errorf("expected topic to be carried, got %q", got)
	}
}

func TestPublish_RejectsIncompleteMessages(t *testing.T) {
	p := &Producer{writer: &fakeWriter{}}
	ctx := context.Background()

	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"no topic", Message{Key: "k", Value: []byte("{}")}, ErrEmptyTopic},
		{"no key", Message{Topic: "t", Value: []byte("{}")}, ErrEmptyKey},
		{"no value", Message{Topic: "t", Key: "k"}, ErrEmptyValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Publish(ctx, tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPublish_PermanentFailureGoesToDLQ(t *testing.T) {
	w := &fakeWriter{err: errors.New("unknown topic or partition")}
	dlq := &fakeWriter{}
	p := &Producer{writer: w, dlqWriter: dlq, dlqTopic: "appointments.events-dlq"}

	msg := buildMessage(t)
	if err := p.Publish(context.Background(), msg); err == nil {
		t.Fatal("expected original error")
	}
	if len(dlq.messages) != 1 {
		t.Fatalf("expected DLQ message, got %d", len(dlq.messages))
	}

	var original string
	for _, h := range dlq.messages[0].Headers {
		if h.Key == HeaderOriginalTopic {
			original = string(h.Value)
		}
	}
	if original != "appointments.booking-events" {
		t.Errorf("expected original-topic header, got %q", original)
	}
	if _, ok := msg.Headers[HeaderDLQError]; ok {
		t.Error("caller's headers must not be mutated")
	}
}

func TestPublish_TransientFailureSkipsDLQ(t *testing.T) {
	w := &fakeWriter{err: errors.New("dial tcp: connection refused")}
	dlq := &fakeWriter{}
	p := &Producer{writer: w, dlqWriter: dlq}

	if err := p.Publish(context.Background(), buildMessage(t)); err == nil {
		t.Fatal("expected error")
	}
	if len(dlq.messages) != 0 {
		t.Fatal("transient failures should not be dead-lettered")
	}
}

func TestPublish_MiddlewareOrder(t *testing.T) {
	p := &Producer{writer: &fakeWriter{}}
	var order []string
	for _, name := range []string{"first", "second"} {
		name := name
		p.Use(func(ctx context.Context, msg Message, next func(ctx context.Context, msg Message) error) error {
			order = append(order, name)
			return next(ctx, msg)
		})
	}

	if err := p.Publish(context.Background(), buildMessage(t)); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("unexpected middleware order %v", order)
	}
}

func TestPublish_AfterClose(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !w.closed {
		t.Error("expected writer closed")
	}
	if err := p.Publish(context.Background(), buildMessage(t)); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("expected ErrProducerClosed, got %v", err)
	}
}

func TestBuild_EncodingError(t *testing.T) {
	_, err := NewMessage().WithTopic("t").WithKey("k").WithValue(make(chan int)).Build()
	if err == nil {
		t.Fatal("expected encoding error")
	}
	if ClassifyError(err) != ErrorTypePermanent {
		t.Error("encoding errors should be permanent")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{nil, ErrorTypeUnknown},
		{context.DeadlineExceeded, ErrorTypeTransient},
		{errors.New("i/o timeout"), ErrorTypeTransient},
		{errors.New("Leader Not Available"), ErrorTypeTransient},
		{errors.New("message too large"), ErrorTypePermanent},
		{NewTransientError("wrapped", errors.New("x")), ErrorTypeTransient},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
