package sanitizer

import (
	"strings"

	"appointments/pkg/model"
)

const MaxReasonLength = 500

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

func SanitizeID(input string) string {
	p := Pipeline{
		dropControl,
		strings.TrimSpace,
	}
	return p.Apply(input)
}

// SanitizeReason prepares a free-text cancellation reason for storage.
func SanitizeReason(input string) string {
	p := Pipeline{
		dropControl,
		TrimAndNormalize,
		truncate(MaxReasonLength),
	}
	return p.Apply(input)
}

func SanitizeBookingRequest(req *model.BookingRequest) {
	if req == nil {
		return
	}
	req.SlotID = SanitizeID(req.SlotID)
	req.ConsultantID = SanitizeID(req.ConsultantID)
	req.CustomerID = SanitizeID(req.CustomerID)
}

func SanitizeRescheduleRequest(req *model.RescheduleRequest) {
	if req == nil {
		return
	}
	req.SlotID = SanitizeID(req.SlotID)
}
