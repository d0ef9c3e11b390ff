package model

import "time"

const (
	EventReminderFailed = "reminder.failed"
	EventJobCompleted   = "job.completed"
)

// BookingEventType names the event published when a booking enters state to.
func BookingEventType(to BookingStatus) string {
	return "booking." + string(to)
}

type BookingEvent struct {
	EventType string        `json:"eventType"`
	BookingID string        `json:"bookingId"`
	FromState BookingStatus `json:"fromState"`
	ToState   BookingStatus `json:"toState"`
	Timestamp time.Time     `json:"timestamp"`
	SlotID    string        `json:"slotId,omitempty"`
}

type JobRunEvent struct {
	EventType  string    `json:"eventType"`
	JobName    string    `json:"jobName"`
	Status     JobStatus `json:"status"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
}

type ReminderFailedEvent struct {
	EventType  string    `json:"eventType"`
	ReminderID string    `json:"reminderId"`
	BookingID  string    `json:"bookingId"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError"`
	Timestamp  time.Time `json:"timestamp"`
}
