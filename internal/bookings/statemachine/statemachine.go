// Package statemachine holds the booking lifecycle transition table.
package statemachine

import (
	"fmt"

	bookingserrors "appointments/internal/bookings/errors"
	"appointments/pkg/model"
)

type Event string

const (
	EventCreate     Event = "create"
	EventConfirm    Event = "confirm"
	EventTimeout    Event = "timeout"
	EventCancel     Event = "cancel"
	EventReschedule Event = "reschedule"
	EventComplete   Event = "complete"
)

// Events lists every event in a stable order.
var Events = []Event{EventCreate, EventConfirm, EventTimeout, EventCancel, EventReschedule, EventComplete}

// States lists every booking state in a stable order.
var States = []model.BookingStatus{
	model.BookingPending,
	model.BookingConfirmed,
	model.BookingCompleted,
	model.BookingCancelled,
	model.BookingRescheduled,
	model.BookingExpired,
}

type edge struct {
	from  model.BookingStatus
	event Event
}

var table = map[edge]model.BookingStatus{
	{"", EventCreate}:                         model.BookingPending,
	{model.BookingPending, EventConfirm}:      model.BookingConfirmed,
	{model.BookingPending, EventTimeout}:      model.BookingExpired,
	{model.BookingPending, EventCancel}:       model.BookingCancelled,
	{model.BookingConfirmed, EventCancel}:     model.BookingCancelled,
	{model.BookingConfirmed, EventReschedule}: model.BookingRescheduled,
	{model.BookingConfirmed, EventComplete}:   model.BookingCompleted,
}

// Transition returns the state reached by applying event in state from, or
// ErrInvalidTransition when the pair is not in the table. The empty state
// stands for a booking that does not exist yet.
func Transition(from model.BookingStatus, event Event) (model.BookingStatus, error) {
	to, ok := table[edge{from, event}]
	if !ok {
		return "", fmt.Errorf("%w: %s from %q", bookingserrors.ErrInvalidTransition, event, from)
	}
	return to, nil
}
