package rule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"courtbooking/internal/booking"
	"courtbooking/internal/store"
)

// Rule is a booking template. Booking.Date is the first occurrence; a
// recurring rule repeats weekly on that weekday, skipping DatesToExclude.
type Rule struct {
	Booking        booking.Booking `json:"booking"`
	IsRecurring    bool            `json:"isRecurring"`
	DatesToExclude []string        `json:"datesToExclude"`
}

func (r Rule) String() string {
	return fmt.Sprintf("%s recurring=%t exclusions=%v", r.Booking.String(), r.IsRecurring, r.DatesToExclude)
}

// AttributeName encodes the rule as
// date-court-courtSpan-slot-slotSpan-isRecurring-name. The name may itself
// contain hyphens.
func (r Rule) AttributeName() string {
	b := r.Booking
	return fmt.Sprintf("%s-%d-%d-%d-%d-%t-%s", b.Date, b.Court, b.CourtSpan, b.Slot, b.SlotSpan, r.IsRecurring, b.Name)
}

// Attribute stores the exclusions sorted and comma-joined.
func (r Rule) Attribute() store.Attribute {
	dates := append([]string(nil), r.DatesToExclude...)
	sort.Strings(dates)
	return store.Attribute{Name: r.AttributeName(), Value: strings.Join(dates, ",")}
}

func (r Rule) Excludes(date string) bool {
	for _, d := range r.DatesToExclude {
		if d == date {
			return true
		}
	}
	return false
}

func FromAttribute(a store.Attribute) (Rule, error) {
	parts := strings.Split(a.Name, "-")
	if len(parts) < 9 {
		return Rule{}, fmt.Errorf("malformed booking rule attribute %q", a.Name)
	}

	nums := make([]int, 4)
	for i := range nums {
		n, err := strconv.Atoi(parts[3+i])
		if err != nil {
			return Rule{}, fmt.Errorf("malformed booking rule attribute %q: %w", a.Name, err)
		}
		nums[i] = n
	}
	recurring, err := strconv.ParseBool(parts[7])
	if err != nil {
		return Rule{}, fmt.Errorf("malformed booking rule attribute %q: %w", a.Name, err)
	}

	r := Rule{
		Booking: booking.Booking{
			Court:     nums[0],
			CourtSpan: nums[1],
			Slot:      nums[2],
			SlotSpan:  nums[3],
			Name:      strings.Join(parts[8:], "-"),
			Date:      strings.Join(parts[0:3], "-"),
		},
		IsRecurring:    recurring,
		DatesToExclude: []string{},
	}
	if a.Value != "" {
		r.DatesToExclude = strings.Split(a.Value, ",")
	}
	return r, nil
}

// Clashes reports whether candidate, about to be stored, would ever book a
// court and slot that existing also books.
func Clashes(candidate, existing Rule) (bool, error) {
	newDate, err := booking.ParseDate(candidate.Booking.Date)
	if err != nil {
		return false, err
	}
	oldDate, err := booking.ParseDate(existing.Booking.Date)
	if err != nil {
		return false, err
	}

	if newDate.Weekday() != oldDate.Weekday() || !booking.Overlaps(candidate.Booking, existing.Booking) {
		return false, nil
	}

	switch {
	case !candidate.IsRecurring && !existing.IsRecurring:
		return newDate.Equal(oldDate), nil

	case candidate.IsRecurring && !existing.IsRecurring:
		if oldDate.Before(newDate) {
			return false, nil
		}
		d := existing.Booking.Date
		return !candidate.Excludes(d) && !existing.Excludes(d), nil

	case !candidate.IsRecurring && existing.IsRecurring:
		if oldDate.After(newDate) {
			return false, nil
		}
		d := candidate.Booking.Date
		return !existing.Excludes(d) && !candidate.Excludes(d), nil
	}

	// Two weekly recurrences on the same weekday meet eventually, whatever
	// they exclude.
	return true, nil
}
