// Package persister layers optimistic concurrency over an attribute store.
// Every item carries a version attribute that each write must match and bump,
// so concurrent writers to one item are detected instead of overwriting each
// other.
package persister

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"courtbooking/internal/logger"
	"courtbooking/internal/retry"
	"courtbooking/internal/store"
)

const (
	VersionAttribute = "VersionNumber"
	InactivePrefix   = "Inactive"
)

var (
	ErrNotInitialised         = errors.New("the optimistic persister has not been initialised")
	ErrAlreadyInitialised     = errors.New("the optimistic persister has already been initialised")
	ErrConcurrentModification = errors.New("Database put failed - conditional check failed")
	ErrCapacityExceeded       = errors.New("Database put failed - too many attributes")
)

// Item is a read snapshot. Version is nil only when the item has never been
// written.
type Item struct {
	Version    *int
	Attributes []store.Attribute
}

type Persister struct {
	store store.AttributeStore
	retry retry.Policy

	mu            sync.RWMutex
	initialised   bool
	maxAttributes int
}

func New(s store.AttributeStore, policy retry.Policy) *Persister {
	return &Persister{store: s, retry: policy}
}

// Initialise sets the per-item attribute limit. It must be called once before
// any other method.
func (p *Persister) Initialise(maxAttributesPerItem int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialised {
		return ErrAlreadyInitialised
	}
	p.maxAttributes = maxAttributesPerItem
	p.initialised = true
	return nil
}

func (p *Persister) limit() (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.initialised {
		return 0, ErrNotInitialised
	}
	return p.maxAttributes, nil
}

func (p *Persister) Get(ctx context.Context, item string) (*Item, error) {
	if _, err := p.limit(); err != nil {
		return nil, err
	}

	logger.Debug("Getting active attributes", "item", item)
	attrs, err := p.store.Get(ctx, item)
	if err != nil {
		return nil, err
	}

	result := &Item{Attributes: []store.Attribute{}}
	for _, a := range attrs {
		if a.Name == VersionAttribute {
			v, err := strconv.Atoi(a.Value)
			if err != nil {
				return nil, fmt.Errorf("item %s has a malformed version %q: %w", item, a.Value, err)
			}
			result.Version = &v
			continue
		}
		if strings.HasPrefix(a.Value, InactivePrefix) {
			continue
		}
		result.Attributes = append(result.Attributes, a)
	}
	return result, nil
}

// GetAllItems returns every item with its active attributes, keyed by item
// name.
func (p *Persister) GetAllItems(ctx context.Context) ([]store.Item, error) {
	if _, err := p.limit(); err != nil {
		return nil, err
	}

	items, err := p.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]store.Item, 0, len(items))
	for _, it := range items {
		active := []store.Attribute{}
		for _, a := range it.Attributes {
			if a.Name == VersionAttribute || strings.HasPrefix(a.Value, InactivePrefix) {
				continue
			}
			active = append(active, a)
		}
		result = append(result, store.Item{Name: it.Name, Attributes: active})
	}
	return result, nil
}

// Put writes attr if the item's version still equals version, and returns the
// new version. Writes of inactivated values ignore the attribute limit so that
// a full item can still be deleted from.
func (p *Persister) Put(ctx context.Context, item string, version *int, attr store.Attribute) (int, error) {
	max, err := p.limit()
	if err != nil {
		return 0, err
	}

	current, err := p.Get(ctx, item)
	if err != nil {
		return 0, err
	}
	logger.Debug("Putting attribute", "item", item, "attribute", attr.Name, "count", len(current.Attributes))

	if len(current.Attributes) >= max && !strings.HasPrefix(attr.Value, InactivePrefix) {
		logger.Warn("Item is at its attribute limit", "item", item, "limit", max)
		return 0, ErrCapacityExceeded
	}

	cond := store.Condition{Name: VersionAttribute}
	next := 0
	if version != nil {
		cond.Value = strconv.Itoa(*version)
		cond.Exists = true
		next = *version + 1
	}

	attrs := []store.Attribute{
		{Name: VersionAttribute, Value: strconv.Itoa(next)},
		attr,
	}
	if err := p.store.Put(ctx, item, attrs, cond); err != nil {
		if errors.Is(err, store.ErrConditionalCheckFailed) {
			logger.Info("Version precondition failed", "item", item, "attribute", attr.Name)
			return 0, ErrConcurrentModification
		}
		return 0, err
	}
	return next, nil
}

// Delete removes attr from item. The value is first overwritten with an
// inactive marker under the version check, then removed with a precondition
// on the marked value. Deleting an absent attribute is a no-op.
func (p *Persister) Delete(ctx context.Context, item string, attr store.Attribute) error {
	if _, err := p.limit(); err != nil {
		return err
	}

	return p.retry.Do(ctx, "conflict", IsConflict, func() error {
		current, err := p.Get(ctx, item)
		if err != nil {
			return err
		}
		if current.Version == nil || !contains(current.Attributes, attr) {
			logger.Debug("Attribute already absent", "item", item, "attribute", attr.Name)
			return nil
		}

		inactive := store.Attribute{Name: attr.Name, Value: InactivePrefix + attr.Value}
		if _, err := p.Put(ctx, item, current.Version, inactive); err != nil {
			return err
		}

		cond := store.Condition{Name: inactive.Name, Value: inactive.Value, Exists: true}
		err = p.store.Delete(ctx, item, inactive, cond)
		if errors.Is(err, store.ErrAttributeDoesNotExist) {
			logger.Info("Attribute removed by a concurrent delete", "item", item, "attribute", attr.Name)
			return nil
		}
		return err
	})
}

func (p *Persister) DeleteAllAttributes(ctx context.Context, item string) error {
	if _, err := p.limit(); err != nil {
		return err
	}

	logger.Info("Deleting all attributes", "item", item)
	return p.store.DeleteAll(ctx, item)
}

// IsConflict reports whether err is a lost optimistic write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

func contains(attrs []store.Attribute, attr store.Attribute) bool {
	for _, a := range attrs {
		if a == attr {
			return true
		}
	}
	return false
}
