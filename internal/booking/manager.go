package booking

import (
	"context"
	"errors"
	"fmt"

	"courtbooking/internal/logger"
	"courtbooking/internal/metrics"
	"courtbooking/internal/notify"
	"courtbooking/internal/persister"
	"courtbooking/internal/retry"
)

var ErrBookingCreationFailed = errors.New("Booking creation failed")

// Gate decides whether the current lifecycle state allows a call.
type Gate interface {
	CheckOperation(ctx context.Context, readOnly, isEndUserCall bool) error
}

type Options struct {
	Limits     Limits
	Retry      retry.Policy
	Clock      Clock
	AdminTopic string
}

// Manager owns one item per date. Each booking is one attribute of its
// date's item, so bookings on different dates never contend.
type Manager struct {
	persister  persister.OptimisticPersister
	lifecycle  Gate
	publisher  notify.Publisher
	limits     Limits
	retry      retry.Policy
	clock      Clock
	adminTopic string
}

func NewManager(p persister.OptimisticPersister, gate Gate, publisher notify.Publisher, opts Options) *Manager {
	return &Manager{
		persister:  p,
		lifecycle:  gate,
		publisher:  publisher,
		limits:     opts.Limits,
		retry:      opts.Retry,
		clock:      opts.Clock,
		adminTopic: opts.AdminTopic,
	}
}

func (m *Manager) Limits() Limits {
	return m.limits
}

func (m *Manager) Clock() Clock {
	return m.clock
}

func (m *Manager) ValidateBooking(b Booking) error {
	return m.limits.Validate(b)
}

func (m *Manager) GetBookings(ctx context.Context, date string, isEndUserCall bool) ([]Booking, error) {
	if err := m.lifecycle.CheckOperation(ctx, true, isEndUserCall); err != nil {
		return nil, err
	}

	_, bookings, err := m.versionedBookings(ctx, date)
	return bookings, err
}

// GetAllBookings returns the bookings of every date item. Items that are not
// named by a date, such as the rules and lifecycle items, are skipped.
func (m *Manager) GetAllBookings(ctx context.Context, isEndUserCall bool) ([]Booking, error) {
	if err := m.lifecycle.CheckOperation(ctx, true, isEndUserCall); err != nil {
		return nil, err
	}

	items, err := m.persister.GetAllItems(ctx)
	if err != nil {
		return nil, err
	}

	bookings := []Booking{}
	for _, item := range items {
		if _, err := ParseDate(item.Name); err != nil {
			continue
		}
		for _, a := range item.Attributes {
			b, err := FromAttribute(item.Name, a)
			if err != nil {
				return nil, err
			}
			bookings = append(bookings, b)
		}
	}
	return bookings, nil
}

// CreateBooking adds b unless it is invalid or overlaps an existing booking on
// the same date, and returns that date's bookings including b. A lost race on the
// date's version re-runs the whole read, check and write.
func (m *Manager) CreateBooking(ctx context.Context, b Booking, isEndUserCall bool) ([]Booking, error) {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return nil, err
	}
	if err := m.limits.Validate(b); err != nil {
		return nil, err
	}

	logger.Info("Creating booking", "booking", b.String())

	var created []Booking
	err := m.retry.Do(ctx, "conflict", persister.IsConflict, func() error {
		return m.retry.OnThrottle(ctx, func() error {
			version, existing, err := m.versionedBookings(ctx, b.Date)
			if err != nil {
				return err
			}
			for _, e := range existing {
				if Overlaps(e, b) {
					logger.Info("Booking clashes with an existing booking", "booking", b.String(), "existing", e.String())
					metrics.RecordConflict("booking")
					return ErrBookingCreationFailed
				}
			}

			if _, err := m.persister.Put(ctx, b.Date, version, b.Attribute()); err != nil {
				return err
			}
			created = append(existing, b)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordBooking("created", source(isEndUserCall))
	return created, nil
}

// DeleteBooking removes b and returns the date's remaining bookings.
// Deleting a booking that does not exist is not an error.
func (m *Manager) DeleteBooking(ctx context.Context, b Booking, isEndUserCall bool) ([]Booking, error) {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return nil, err
	}

	logger.Info("Deleting booking", "booking", b.String())
	if err := m.deleteBooking(ctx, b); err != nil {
		return nil, err
	}
	metrics.RecordBooking("deleted", source(isEndUserCall))

	var remaining []Booking
	err := m.retry.OnThrottle(ctx, func() error {
		var err error
		_, remaining, err = m.versionedBookings(ctx, b.Date)
		return err
	})
	return remaining, err
}

func (m *Manager) DeleteAllBookings(ctx context.Context, isEndUserCall bool) error {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return err
	}

	bookings, err := m.GetAllBookings(ctx, false)
	if err != nil {
		return err
	}

	logger.Info("Deleting all bookings", "count", len(bookings))
	for _, b := range bookings {
		if err := m.deleteBooking(ctx, b); err != nil {
			return err
		}
		metrics.RecordBooking("deleted", source(isEndUserCall))
	}
	return nil
}

// DeleteYesterdaysBookings clears the item for yesterday's date. A failure is
// reported on the admin topic as well as returned.
func (m *Manager) DeleteYesterdaysBookings(ctx context.Context, isEndUserCall bool) error {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return err
	}

	yesterday := FormatDate(m.clock.Today().AddDate(0, 0, -1))
	logger.Info("Deleting yesterday's bookings", "date", yesterday)

	if err := m.persister.DeleteAllAttributes(ctx, yesterday); err != nil {
		logger.Error("Failed to delete yesterday's bookings", "date", yesterday, "error", err)
		body := fmt.Sprintf("Apologies - but there was an error deleting the bookings for %s. "+
			"Please delete them manually instead. The error message was: %v", yesterday, err)
		notify.BestEffort(ctx, m.publisher, m.adminTopic, "Court booking: failed to delete yesterday's bookings", body)
		return err
	}
	return nil
}

func (m *Manager) deleteBooking(ctx context.Context, b Booking) error {
	return m.retry.OnThrottle(ctx, func() error {
		return m.persister.Delete(ctx, b.Date, b.Attribute())
	})
}

func (m *Manager) versionedBookings(ctx context.Context, date string) (*int, []Booking, error) {
	item, err := m.persister.Get(ctx, date)
	if err != nil {
		return nil, nil, err
	}

	bookings := make([]Booking, 0, len(item.Attributes))
	for _, a := range item.Attributes {
		b, err := FromAttribute(date, a)
		if err != nil {
			return nil, nil, err
		}
		bookings = append(bookings, b)
	}
	return item.Version, bookings, nil
}

func source(isEndUserCall bool) string {
	if isEndUserCall {
		return "user"
	}
	return "system"
}
