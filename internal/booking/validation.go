package booking

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"courtbooking/internal/persister"
)

var ErrValidationFailed = errors.New("booking validation failed")

// Names are one or more players such as A.Shabana/J.Power. Markup characters
// are rejected, as are names the persister would read as inactive.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9 .\-/]{1,30}$`)

// ValidationError names the first invalid field of a booking. Message is
// suitable for showing to the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

type Limits struct {
	MaxCourts int
	MaxSlots  int
}

func DefaultLimits() Limits {
	return Limits{MaxCourts: 5, MaxSlots: 16}
}

func (l Limits) Validate(b Booking) error {
	if b.Court < 1 || b.Court > l.MaxCourts {
		return &ValidationError{"court", fmt.Sprintf("The booking court number is outside the valid range (1-%d)", l.MaxCourts)}
	}
	if b.CourtSpan < 1 || b.CourtSpan > l.MaxCourts-b.Court+1 {
		return &ValidationError{"courtSpan", fmt.Sprintf("The booking court span is outside the valid range (1-(%d-court))", l.MaxCourts+1)}
	}
	if b.Slot < 1 || b.Slot > l.MaxSlots {
		return &ValidationError{"slot", fmt.Sprintf("The booking time slot is outside the valid range (1-%d)", l.MaxSlots)}
	}
	if b.SlotSpan < 1 || b.SlotSpan > l.MaxSlots-b.Slot+1 {
		return &ValidationError{"slotSpan", fmt.Sprintf("The booking time slot span is outside the valid range (1- (%d - slot))", l.MaxSlots+1)}
	}
	if !namePattern.MatchString(b.Name) || strings.HasPrefix(b.Name, persister.InactivePrefix) {
		return &ValidationError{"name", "The booking name must have a valid format"}
	}
	if _, err := ParseDate(b.Date); err != nil {
		return &ValidationError{"date", "The booking date must have a valid format"}
	}
	return nil
}
