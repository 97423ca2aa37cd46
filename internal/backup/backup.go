// Package backup copies bookings and rules to the blob store and the backup
// topic, and restores them from a backup document.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"courtbooking/internal/blob"
	"courtbooking/internal/booking"
	"courtbooking/internal/logger"
	"courtbooking/internal/metrics"
	"courtbooking/internal/notify"
	"courtbooking/internal/retry"
	"courtbooking/internal/rule"
)

const (
	AllKey           = "AllBookingsAndBookingRules"
	LatestBookingKey = "LatestBooking"
	LatestRuleKey    = "LatestBookingRule"
	subjectAll       = "Court booking all-bookings and booking rules backup"
	subjectBooking   = "Court booking single booking backup"
	subjectRule      = "Court booking single booking rule backup"
)

var ErrInvalidDateFormat = errors.New("invalid date format in restore data")

// Document is the full backup, and also the body of a restore request.
type Document struct {
	Bookings           []booking.Booking `json:"bookings"`
	BookingRules       []rule.Rule       `json:"bookingRules"`
	ClearBeforeRestore bool              `json:"clearBeforeRestore"`
}

type BookingStore interface {
	GetAllBookings(ctx context.Context, isEndUserCall bool) ([]booking.Booking, error)
	CreateBooking(ctx context.Context, b booking.Booking, isEndUserCall bool) ([]booking.Booking, error)
	DeleteAllBookings(ctx context.Context, isEndUserCall bool) error
	ValidateBooking(b booking.Booking) error
}

type RuleStore interface {
	GetRules(ctx context.Context, isEndUserCall bool) ([]rule.Rule, error)
	CreateRule(ctx context.Context, r rule.Rule, isEndUserCall bool) ([]rule.Rule, error)
	DeleteAllBookingRules(ctx context.Context, isEndUserCall bool) error
}

type Manager struct {
	bookings  BookingStore
	rules     RuleStore
	blobs     blob.Store
	publisher notify.Publisher
	bucket    string
	topic     string
	retry     retry.Policy
}

func NewManager(bookings BookingStore, rules RuleStore, blobs blob.Store, publisher notify.Publisher, bucket, topic string, policy retry.Policy) *Manager {
	return &Manager{
		bookings:  bookings,
		rules:     rules,
		blobs:     blobs,
		publisher: publisher,
		bucket:    bucket,
		topic:     topic,
		retry:     policy,
	}
}

// BackupAllBookingsAndBookingRules uploads every booking and rule as one
// document, publishes it to the backup topic and returns what it saved.
func (m *Manager) BackupAllBookingsAndBookingRules(ctx context.Context) (*Document, error) {
	bookings, err := m.bookings.GetAllBookings(ctx, false)
	if err != nil {
		return nil, err
	}
	rules, err := m.rules.GetRules(ctx, false)
	if err != nil {
		return nil, err
	}

	doc := &Document{Bookings: bookings, BookingRules: rules, ClearBeforeRestore: true}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	logger.Info("Backing up all bookings and booking rules", "bookings", len(bookings), "rules", len(rules))
	if err := m.save(ctx, "all", AllKey, subjectAll, data); err != nil {
		return nil, err
	}
	return doc, nil
}

func (m *Manager) BackupSingleBooking(ctx context.Context, b booking.Booking, isCreation bool) error {
	prefix := "Booking deleted: "
	if isCreation {
		prefix = "Booking created: "
	}
	return m.backupSingle(ctx, "booking", LatestBookingKey, subjectBooking, prefix, b)
}

func (m *Manager) BackupSingleBookingRule(ctx context.Context, r rule.Rule, isNotDeletion bool) error {
	prefix := "Booking rule deleted: "
	if isNotDeletion {
		prefix = "Booking rule updated: "
	}
	return m.backupSingle(ctx, "rule", LatestRuleKey, subjectRule, prefix, r)
}

// LatestFullBackup returns the most recent document saved by
// BackupAllBookingsAndBookingRules.
func (m *Manager) LatestFullBackup(ctx context.Context) (*Document, error) {
	data, err := m.blobs.Download(ctx, m.bucket, AllKey)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	return &doc, nil
}

// RestoreAllBookingsAndBookingRules recreates the given bookings and rules,
// first deleting everything when clearExisting is set. All dates are checked
// before anything is changed.
func (m *Manager) RestoreAllBookingsAndBookingRules(ctx context.Context, bookings []booking.Booking, rules []rule.Rule, clearExisting bool) error {
	if err := checkDates(bookings, rules); err != nil {
		return err
	}

	if clearExisting {
		logger.Info("Clearing bookings and booking rules before restore")
		if err := m.bookings.DeleteAllBookings(ctx, false); err != nil {
			return err
		}
		if err := m.rules.DeleteAllBookingRules(ctx, false); err != nil {
			return err
		}
	}

	logger.Info("Restoring bookings", "count", len(bookings))
	for _, b := range bookings {
		if err := m.bookings.ValidateBooking(b); err != nil {
			return err
		}
		err := m.retry.OnThrottle(ctx, func() error {
			_, err := m.bookings.CreateBooking(ctx, b, false)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to restore booking %s: %w", b.String(), err)
		}
	}

	logger.Info("Restoring booking rules", "count", len(rules))
	for _, r := range rules {
		if err := m.bookings.ValidateBooking(r.Booking); err != nil {
			return err
		}
		err := m.retry.OnThrottle(ctx, func() error {
			_, err := m.rules.CreateRule(ctx, r, false)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to restore booking rule %s: %w", r.String(), err)
		}
	}

	metrics.RecordBackup("restore", "success")
	return nil
}

func (m *Manager) backupSingle(ctx context.Context, kind, key, subject, prefix string, v interface{}) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}

	logger.Info("Backing up single mutation", "kind", kind, "key", key)
	return m.save(ctx, kind, key, subject, []byte(prefix+"\n"+string(encoded)))
}

func (m *Manager) save(ctx context.Context, kind, key, subject string, data []byte) error {
	if err := m.blobs.Upload(ctx, m.bucket, key, data); err != nil {
		logger.Error("Failed to upload backup", "key", key, "error", err)
		metrics.RecordBackup(kind, "failed")
		return err
	}
	if err := m.publisher.Publish(ctx, m.topic, subject, string(data)); err != nil {
		logger.Error("Failed to publish backup", "topic", m.topic, "error", err)
		metrics.RecordBackup(kind, "failed")
		return err
	}
	metrics.RecordBackup(kind, "success")
	return nil
}

func checkDates(bookings []booking.Booking, rules []rule.Rule) error {
	for _, b := range bookings {
		if _, err := booking.ParseDate(b.Date); err != nil {
			return fmt.Errorf("%w: booking date %q", ErrInvalidDateFormat, b.Date)
		}
	}
	for _, r := range rules {
		if _, err := booking.ParseDate(r.Booking.Date); err != nil {
			return fmt.Errorf("%w: rule date %q", ErrInvalidDateFormat, r.Booking.Date)
		}
		for _, d := range r.DatesToExclude {
			if _, err := booking.ParseDate(d); err != nil {
				return fmt.Errorf("%w: rule exclusion %q", ErrInvalidDateFormat, d)
			}
		}
	}
	return nil
}
