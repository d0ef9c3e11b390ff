package model

import (
	"time"
)

type BookingStatus string

const (
	BookingPending     BookingStatus = "pending"
	BookingConfirmed   BookingStatus = "confirmed"
	BookingCompleted   BookingStatus = "completed"
	BookingCancelled   BookingStatus = "cancelled"
	BookingRescheduled BookingStatus = "rescheduled"
	BookingExpired     BookingStatus = "expired"
)

// Terminal reports whether no further transition can leave s.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCompleted, BookingCancelled, BookingExpired, BookingRescheduled:
		return true
	}
	return false
}

// Active reports whether a booking in state s holds its slot.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

type Booking struct {
	ID              string        `json:"id" bson:"_id"`
	SlotID          string        `json:"slot_id" bson:"slot_id"`
	ConsultantID    string        `json:"consultant_id" bson:"consultant_id"`
	CustomerID      string        `json:"customer_id" bson:"customer_id"`
	Status          BookingStatus `json:"status" bson:"status"`
	SlotStart       time.Time     `json:"slot_start" bson:"slot_start"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	RescheduledFrom string        `json:"rescheduled_from,omitempty" bson:"rescheduled_from,omitempty"`
	RescheduledTo   string        `json:"rescheduled_to,omitempty" bson:"rescheduled_to,omitempty"`
	CancelReason    string        `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	Version         int64         `json:"version" bson:"version"`
	CreatedAt       time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" bson:"updated_at"`
}

// BookingRequest is the input for creating a pending booking.
type BookingRequest struct {
	SlotID       string `json:"slot_id" validate:"required,resource_id"`
	ConsultantID string `json:"consultant_id" validate:"required,resource_id"`
	CustomerID   string `json:"customer_id" validate:"required,resource_id"`
}

type RescheduleRequest struct {
	SlotID string `json:"slot_id" validate:"required,resource_id"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}
