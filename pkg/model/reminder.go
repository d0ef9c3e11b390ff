package model

import "time"

type ReminderStatus string

const (
	ReminderPending    ReminderStatus = "pending"
	ReminderInProgress ReminderStatus = "in_progress"
	ReminderSent       ReminderStatus = "sent"
	ReminderFailed     ReminderStatus = "failed"
	ReminderCancelled  ReminderStatus = "cancelled"
)

type Reminder struct {
	ID           string         `json:"id" bson:"_id"`
	BookingID    string         `json:"booking_id" bson:"booking_id"`
	CustomerID   string         `json:"customer_id" bson:"customer_id"`
	ConsultantID string         `json:"consultant_id" bson:"consultant_id"`
	SlotStart    time.Time      `json:"slot_start" bson:"slot_start"`
	DueAt        time.Time      `json:"due_at" bson:"due_at"`
	Status       ReminderStatus `json:"status" bson:"status"`
	Attempts     int            `json:"attempts" bson:"attempts"`
	LastError    string         `json:"last_error,omitempty" bson:"last_error,omitempty"`
	ClaimedBy    string         `json:"claimed_by,omitempty" bson:"claimed_by,omitempty"`
	ClaimedAt    *time.Time     `json:"claimed_at,omitempty" bson:"claimed_at,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty" bson:"sent_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" bson:"updated_at"`
}

// ReminderPayload is what the notifier receives. Rendering is up to the consumer.
type ReminderPayload struct {
	ReminderID   string    `json:"reminderId"`
	BookingID    string    `json:"bookingId"`
	CustomerID   string    `json:"customerId"`
	ConsultantID string    `json:"consultantId"`
	SlotStart    time.Time `json:"slotStart"`
	DueAt        time.Time `json:"dueAt"`
	Attempt      int       `json:"attempt"`
}

func (r *Reminder) Payload() ReminderPayload {
	return ReminderPayload{
		ReminderID:   r.ID,
		BookingID:    r.BookingID,
		CustomerID:   r.CustomerID,
		ConsultantID: r.ConsultantID,
		SlotStart:    r.SlotStart,
		DueAt:        r.DueAt,
		Attempt:      r.Attempts + 1,
	}
}

// SweepSummary aggregates the per-item outcomes of one job sweep.
type SweepSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type ReminderStats struct {
	Pending   int64         `json:"pending"`
	LastSweep *SweepSummary `json:"last_sweep,omitempty"`
}
