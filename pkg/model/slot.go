package model

import "time"

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotHeld      SlotStatus = "held"
	SlotBooked    SlotStatus = "booked"
)

type Slot struct {
	ID           string     `json:"id" bson:"_id"`
	ConsultantID string     `json:"consultant_id" bson:"consultant_id"`
	StartTime    time.Time  `json:"start_time" bson:"start_time"`
	EndTime      time.Time  `json:"end_time" bson:"end_time"`
	Status       SlotStatus `json:"status" bson:"status"`
	BookingID    string     `json:"booking_id,omitempty" bson:"booking_id,omitempty"`
	Version      int64      `json:"version" bson:"version"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" bson:"updated_at"`
}

type SlotInput struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

type CreateSlotsRequest struct {
	ConsultantID string      `json:"consultant_id" validate:"required,resource_id"`
	Slots        []SlotInput `json:"slots" validate:"required,min=1,max=200,dive"`
}

// SlotHold is a claim on a slot bound to the lock token that guards it.
// It is only valid while the lock at LockKey still carries Token.
type SlotHold struct {
	SlotID       string    `json:"slot_id"`
	ConsultantID string    `json:"consultant_id"`
	BookingID    string    `json:"booking_id"`
	StartTime    time.Time `json:"start_time"`
	LockKey      string    `json:"-"`
	Token        string    `json:"-"`
}
