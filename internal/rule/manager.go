package rule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"courtbooking/internal/booking"
	"courtbooking/internal/logger"
	"courtbooking/internal/metrics"
	"courtbooking/internal/notify"
	"courtbooking/internal/persister"
	"courtbooking/internal/retry"
	"courtbooking/internal/store"
)

// ItemName is the single item holding every rule.
const ItemName = "BookingRulesAndExclusions"

var (
	ErrRuleCreationFailed      = errors.New("Booking rule creation failed")
	ErrRuleClash               = fmt.Errorf("%w - rule would clash", ErrRuleCreationFailed)
	ErrExclusionAdditionFailed = errors.New("Booking rule exclusion addition failed")
	ErrTooManyExclusions       = fmt.Errorf("%w - too many exclusions", ErrExclusionAdditionFailed)
	ErrExclusionDeletionFailed = errors.New("Booking rule exclusion deletion failed - latent clash exists")
)

type BookingCreator interface {
	CreateBooking(ctx context.Context, b booking.Booking, isEndUserCall bool) ([]booking.Booking, error)
}

type Options struct {
	MaxExclusions int
	Retry         retry.Policy
	Clock         booking.Clock
	AdminTopic    string
}

type Manager struct {
	persister     persister.OptimisticPersister
	lifecycle     booking.Gate
	bookings      BookingCreator
	publisher     notify.Publisher
	maxExclusions int
	retry         retry.Policy
	clock         booking.Clock
	adminTopic    string
}

func NewManager(p persister.OptimisticPersister, gate booking.Gate, bookings BookingCreator, publisher notify.Publisher, opts Options) *Manager {
	return &Manager{
		persister:     p,
		lifecycle:     gate,
		bookings:      bookings,
		publisher:     publisher,
		maxExclusions: opts.MaxExclusions,
		retry:         opts.Retry,
		clock:         opts.Clock,
		adminTopic:    opts.AdminTopic,
	}
}

func (m *Manager) GetRules(ctx context.Context, isEndUserCall bool) ([]Rule, error) {
	if err := m.lifecycle.CheckOperation(ctx, true, isEndUserCall); err != nil {
		return nil, err
	}

	_, rules, err := m.versionedRules(ctx)
	return rules, err
}

// CreateRule stores r unless it clashes with an existing rule, and returns
// the rules including r. A non-recurring rule may not start in the past
// unless it carries exclusions, which only restored rules do.
func (m *Manager) CreateRule(ctx context.Context, r Rule, isEndUserCall bool) ([]Rule, error) {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return nil, err
	}

	start, err := booking.ParseDate(r.Booking.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleCreationFailed, err)
	}
	if !r.IsRecurring && len(r.DatesToExclude) == 0 && start.Before(m.clock.Today()) {
		logger.Info("Rejecting non-recurring rule in the past", "rule", r.String())
		return nil, ErrRuleCreationFailed
	}
	if len(r.DatesToExclude) > m.maxExclusions {
		logger.Info("Rejecting rule with too many exclusions", "rule", r.String(), "max", m.maxExclusions)
		return nil, ErrRuleCreationFailed
	}
	for _, d := range r.DatesToExclude {
		excluded, err := booking.ParseDate(d)
		if err != nil || excluded.Weekday() != start.Weekday() || excluded.Before(start) {
			logger.Info("Rejecting rule with an invalid exclusion", "rule", r.String(), "exclusion", d)
			return nil, ErrRuleCreationFailed
		}
	}

	logger.Info("Creating booking rule", "rule", r.String())

	var created []Rule
	err = m.retry.Do(ctx, "conflict", persister.IsConflict, func() error {
		version, rules, err := m.versionedRules(ctx)
		if err != nil {
			return err
		}
		for _, existing := range rules {
			clash, err := Clashes(r, existing)
			if err != nil {
				return err
			}
			if clash {
				logger.Info("Booking rule clashes with an existing rule", "rule", r.String(), "existing", existing.String())
				metrics.RecordConflict("rule")
				return ErrRuleClash
			}
		}

		if _, err := m.persister.Put(ctx, ItemName, version, r.Attribute()); err != nil {
			return err
		}
		created = append(rules, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteRule removes the stored rule with r's booking and recurrence,
// whatever exclusions it has gained since r was read. Deleting a rule that
// does not exist is not an error.
func (m *Manager) DeleteRule(ctx context.Context, r Rule, isEndUserCall bool) error {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return err
	}

	logger.Info("Deleting booking rule", "rule", r.String())
	return m.retry.OnThrottle(ctx, func() error {
		return m.deleteRule(ctx, r)
	})
}

func (m *Manager) DeleteAllBookingRules(ctx context.Context, isEndUserCall bool) error {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return err
	}

	_, rules, err := m.versionedRules(ctx)
	if err != nil {
		return err
	}

	logger.Info("Deleting all booking rules", "count", len(rules))
	for _, r := range rules {
		err := m.retry.OnThrottle(ctx, func() error {
			return m.deleteRule(ctx, r)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// AddRuleExclusion stops the recurring rule r from applying on date. It
// returns nil and no error when date is already excluded.
func (m *Manager) AddRuleExclusion(ctx context.Context, date string, r Rule, isEndUserCall bool) (*Rule, error) {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return nil, err
	}

	excluded, err := booking.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExclusionAdditionFailed, err)
	}

	logger.Info("Adding booking rule exclusion", "rule", r.String(), "date", date)

	var updated *Rule
	err = m.retry.Do(ctx, "conflict", persister.IsConflict, func() error {
		updated = nil
		version, rules, err := m.versionedRules(ctx)
		if err != nil {
			return err
		}

		existing, ok := find(rules, r)
		if !ok || !existing.IsRecurring {
			logger.Info("Exclusion target is missing or not recurring", "rule", r.String())
			return ErrExclusionAdditionFailed
		}
		if existing.Excludes(date) {
			return nil
		}

		start, err := booking.ParseDate(existing.Booking.Date)
		if err != nil {
			return err
		}
		if excluded.Weekday() != start.Weekday() || excluded.Before(start) || excluded.Before(m.clock.Today()) {
			logger.Info("Exclusion date does not fall on a future occurrence", "rule", r.String(), "date", date)
			return ErrExclusionAdditionFailed
		}
		if len(existing.DatesToExclude) >= m.maxExclusions {
			logger.Info("Booking rule already has the maximum number of exclusions", "limit", m.maxExclusions)
			return ErrTooManyExclusions
		}

		next := existing
		next.DatesToExclude = sortedWith(existing.DatesToExclude, date)
		if _, err := m.persister.Put(ctx, ItemName, version, next.Attribute()); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRuleExclusion lets r apply on date again, unless that would make it
// clash with another rule. It returns nil and no error when the rule or the
// exclusion no longer exists.
func (m *Manager) DeleteRuleExclusion(ctx context.Context, date string, r Rule, isEndUserCall bool) (*Rule, error) {
	if err := m.lifecycle.CheckOperation(ctx, false, isEndUserCall); err != nil {
		return nil, err
	}

	logger.Info("Deleting booking rule exclusion", "rule", r.String(), "date", date)

	var updated *Rule
	err := m.retry.Do(ctx, "conflict", persister.IsConflict, func() error {
		updated = nil
		version, rules, err := m.versionedRules(ctx)
		if err != nil {
			return err
		}

		existing, ok := find(rules, r)
		if !ok || !existing.Excludes(date) {
			return nil
		}

		next := existing
		next.DatesToExclude = without(existing.DatesToExclude, date)
		for _, other := range rules {
			if other.AttributeName() == existing.AttributeName() {
				continue
			}
			clash, err := Clashes(next, other)
			if err != nil {
				return err
			}
			if clash {
				logger.Info("Removing exclusion would expose a clash", "rule", r.String(), "other", other.String())
				metrics.RecordConflict("exclusion")
				return ErrExclusionDeletionFailed
			}
		}

		if _, err := m.persister.Put(ctx, ItemName, version, next.Attribute()); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ApplyRules books every rule occurrence falling on date and returns the
// bookings made. Dates in the past get no bookings. A failure is reported on
// the admin topic before it is returned. Expired rules and exclusions are
// purged afterwards.
func (m *Manager) ApplyRules(ctx context.Context, date string) ([]booking.Booking, error) {
	created, err := m.applyRules(ctx, date)
	if err != nil {
		logger.Error("Failed to apply booking rules", "date", date, "error", err)
		metrics.RecordRulesApplied("failed")
		body := fmt.Sprintf("Apologies - but there was an error applying the booking rules for %s. "+
			"Please make the rule bookings for this date manually instead. The error message was: %v", date, err)
		notify.BestEffort(ctx, m.publisher, m.adminTopic, "Court booking rules failed to apply", body)
		return nil, err
	}
	metrics.RecordRulesApplied("success")

	m.purgeExpired(ctx)
	return created, nil
}

func (m *Manager) applyRules(ctx context.Context, date string) ([]booking.Booking, error) {
	target, err := booking.ParseDate(date)
	if err != nil {
		return nil, err
	}

	created := []booking.Booking{}
	if target.Before(m.clock.Today()) {
		logger.Info("Not applying booking rules to a past date", "date", date)
		return created, nil
	}

	_, rules, err := m.versionedRules(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info("Applying booking rules", "date", date, "rules", len(rules))
	for _, r := range rules {
		start, err := booking.ParseDate(r.Booking.Date)
		if err != nil {
			return nil, err
		}

		applies := false
		if r.IsRecurring {
			applies = start.Weekday() == target.Weekday() && !target.Before(start) && !r.Excludes(date)
		} else {
			applies = r.Booking.Date == date
		}
		if !applies {
			continue
		}

		b := r.Booking
		b.Date = date
		if _, err := m.bookings.CreateBooking(ctx, b, false); err != nil {
			return nil, err
		}
		logger.Info("Rule booking created", "booking", b.String())
		created = append(created, b)
	}
	return created, nil
}

// purgeExpired deletes non-recurring rules dated before today and drops past
// exclusions from recurring rules. Failures are logged and left for the next
// run.
func (m *Manager) purgeExpired(ctx context.Context) {
	_, rules, err := m.versionedRules(ctx)
	if err != nil {
		logger.Warn("Failed to read booking rules for purging", "error", err)
		return
	}

	today := m.clock.Today()
	for _, r := range rules {
		start, err := booking.ParseDate(r.Booking.Date)
		if err != nil {
			continue
		}

		if !r.IsRecurring {
			if start.Before(today) {
				logger.Info("Deleting expired booking rule", "rule", r.String())
				if err := m.deleteRule(ctx, r); err != nil {
					logger.Warn("Failed to delete expired booking rule", "rule", r.String(), "error", err)
				}
			}
			continue
		}

		if len(unexpired(r.DatesToExclude, today)) == len(r.DatesToExclude) {
			continue
		}
		if err := m.purgeExclusions(ctx, r, today); err != nil {
			logger.Warn("Failed to purge expired exclusions", "rule", r.String(), "error", err)
		}
	}
}

// purgeExclusions drops the stored exclusions of r dated before today. Each
// attempt works from the read its version came from, so a rule deleted or
// changed meanwhile is never overwritten.
func (m *Manager) purgeExclusions(ctx context.Context, r Rule, today time.Time) error {
	return m.retry.Do(ctx, "conflict", persister.IsConflict, func() error {
		version, rules, err := m.versionedRules(ctx)
		if err != nil {
			return err
		}

		existing, ok := find(rules, r)
		if !ok {
			logger.Info("Booking rule went away before its exclusions were purged", "rule", r.String())
			return nil
		}
		kept := unexpired(existing.DatesToExclude, today)
		if len(kept) == len(existing.DatesToExclude) {
			return nil
		}

		logger.Info("Purging expired exclusions", "rule", existing.String(), "remaining", kept)
		next := existing
		next.DatesToExclude = kept
		_, err = m.persister.Put(ctx, ItemName, version, next.Attribute())
		return err
	})
}

// deleteRule deletes the stored attribute for r's name, using the stored
// exclusions as the value to match.
func (m *Manager) deleteRule(ctx context.Context, r Rule) error {
	item, err := m.persister.Get(ctx, ItemName)
	if err != nil {
		return err
	}
	name := r.AttributeName()
	for _, a := range item.Attributes {
		if a.Name == name {
			return m.persister.Delete(ctx, ItemName, store.Attribute{Name: a.Name, Value: a.Value})
		}
	}
	return nil
}

func (m *Manager) versionedRules(ctx context.Context) (*int, []Rule, error) {
	item, err := m.persister.Get(ctx, ItemName)
	if err != nil {
		return nil, nil, err
	}

	rules := make([]Rule, 0, len(item.Attributes))
	for _, a := range item.Attributes {
		r, err := FromAttribute(a)
		if err != nil {
			return nil, nil, err
		}
		rules = append(rules, r)
	}
	return item.Version, rules, nil
}

func find(rules []Rule, r Rule) (Rule, bool) {
	name := r.AttributeName()
	for _, existing := range rules {
		if existing.AttributeName() == name {
			return existing, true
		}
	}
	return Rule{}, false
}

func sortedWith(dates []string, date string) []string {
	out := append([]string{}, dates...)
	out = append(out, date)
	sort.Strings(out)
	return out
}

func unexpired(dates []string, today time.Time) []string {
	out := []string{}
	for _, d := range dates {
		excluded, err := booking.ParseDate(d)
		if err == nil && excluded.Before(today) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func without(dates []string, date string) []string {
	out := []string{}
	for _, d := range dates {
		if d != date {
			out = append(out, d)
		}
	}
	return out
}
