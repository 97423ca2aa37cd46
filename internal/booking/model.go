package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"courtbooking/internal/store"
)

// DateLayout is the format of booking dates and of the item names that hold
// each day's bookings.
const DateLayout = "2006-01-02"

// Booking occupies courts [Court, Court+CourtSpan) and time slots
// [Slot, Slot+SlotSpan) on Date.
type Booking struct {
	Court     int    `json:"court"`
	CourtSpan int    `json:"courtSpan"`
	Slot      int    `json:"slot"`
	SlotSpan  int    `json:"slotSpan"`
	Name      string `json:"name"`
	Date      string `json:"date"`
}

func (b Booking) String() string {
	return fmt.Sprintf("%s court %d(+%d) slot %d(+%d) %s", b.Date, b.Court, b.CourtSpan, b.Slot, b.SlotSpan, b.Name)
}

// AttributeName encodes the booking's rectangle as court-courtSpan-slot-slotSpan.
func (b Booking) AttributeName() string {
	return fmt.Sprintf("%d-%d-%d-%d", b.Court, b.CourtSpan, b.Slot, b.SlotSpan)
}

func (b Booking) Attribute() store.Attribute {
	return store.Attribute{Name: b.AttributeName(), Value: b.Name}
}

// FromAttribute decodes one attribute of the item for date.
func FromAttribute(date string, a store.Attribute) (Booking, error) {
	parts := strings.Split(a.Name, "-")
	if len(parts) != 4 {
		return Booking{}, fmt.Errorf("malformed booking attribute %q", a.Name)
	}
	nums := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Booking{}, fmt.Errorf("malformed booking attribute %q: %w", a.Name, err)
		}
		nums[i] = n
	}
	return Booking{
		Court:     nums[0],
		CourtSpan: nums[1],
		Slot:      nums[2],
		SlotSpan:  nums[3],
		Name:      a.Value,
		Date:      date,
	}, nil
}

// Overlaps reports whether the court and slot rectangles of a and b
// intersect. Dates are not compared.
func Overlaps(a, b Booking) bool {
	return intersects(a.Court, a.CourtSpan, b.Court, b.CourtSpan) &&
		intersects(a.Slot, a.SlotSpan, b.Slot, b.SlotSpan)
}

func intersects(start1, span1, start2, span2 int) bool {
	return start1 < start2+span2 && start2 < start1+span1
}

// ParseDate parses a YYYY-MM-DD date to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil || len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ValidDates lists the days end users may book: today and the following
// windowDays-1 days.
func ValidDates(today time.Time, windowDays int) []string {
	dates := make([]string, 0, windowDays)
	for i := 0; i < windowDays; i++ {
		dates = append(dates, FormatDate(today.AddDate(0, 0, i)))
	}
	return dates
}

// Clock yields the current date in the club's time zone.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

func NewClock(loc *time.Location) Clock {
	return Clock{Now: time.Now, Location: loc}
}

// Today is the current local date as midnight UTC, so date arithmetic and
// comparisons with ParseDate results line up.
func (c Clock) Today() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	n := now().In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}
