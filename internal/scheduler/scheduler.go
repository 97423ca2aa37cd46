// Package scheduler runs the daily housekeeping jobs: applying booking rules
// to the day about to become bookable, clearing yesterday's bookings and
// taking a full backup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courtbooking/internal/backup"
	"courtbooking/internal/booking"
	"courtbooking/internal/logger"
)

type RuleApplier interface {
	ApplyRules(ctx context.Context, date string) ([]booking.Booking, error)
}

type BookingCleaner interface {
	DeleteYesterdaysBookings(ctx context.Context, isEndUserCall bool) error
}

type Backuper interface {
	BackupSingleBooking(ctx context.Context, b booking.Booking, isCreation bool) error
	BackupAllBookingsAndBookingRules(ctx context.Context) (*backup.Document, error)
}

type Scheduler struct {
	rules      RuleApplier
	bookings   BookingCleaner
	backups    Backuper
	clock      booking.Clock
	windowDays int
	interval   time.Duration
}

func New(rules RuleApplier, bookings BookingCleaner, backups Backuper, clock booking.Clock, windowDays int, interval time.Duration) *Scheduler {
	return &Scheduler{
		rules:      rules,
		bookings:   bookings,
		backups:    backups,
		clock:      clock,
		windowDays: windowDays,
		interval:   interval,
	}
}

// Start runs the jobs once per interval until ctx is cancelled. The first run
// waits a full interval, so a restart does not re-apply the rules already
// applied today.
func (s *Scheduler) Start(ctx context.Context) {
	logger.Info("Scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			logger.Error("Scheduled jobs finished with errors", "error", err)
		}
	}
}

// RunOnce runs every job in order. A failing job does not stop the later
// ones; all failures are returned together.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	if err := s.applyRules(ctx); err != nil {
		errs = append(errs, fmt.Errorf("apply rules: %w", err))
	}
	if err := s.bookings.DeleteYesterdaysBookings(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("delete yesterday's bookings: %w", err))
	}
	if _, err := s.backups.BackupAllBookingsAndBookingRules(ctx); err != nil {
		errs = append(errs, fmt.Errorf("backup: %w", err))
	}
	return errors.Join(errs...)
}

// NextBookableDate is the first date after the current booking window.
func (s *Scheduler) NextBookableDate() string {
	return booking.FormatDate(s.clock.Today().AddDate(0, 0, s.windowDays))
}

func (s *Scheduler) applyRules(ctx context.Context) error {
	date := s.NextBookableDate()
	created, err := s.rules.ApplyRules(ctx, date)
	if err != nil {
		return err
	}

	logger.Info("Applied booking rules", "date", date, "bookings", len(created))
	for _, b := range created {
		if err := s.backups.BackupSingleBooking(ctx, b, true); err != nil {
			logger.Warn("Failed to back up rule booking", "booking", b.String(), "error", err)
		}
	}
	return nil
}
