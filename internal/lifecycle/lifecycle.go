// Package lifecycle holds the operational state of the booking service and
// decides which calls that state allows.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"courtbooking/internal/logger"
	"courtbooking/internal/metrics"
	"courtbooking/internal/persister"
	"courtbooking/internal/retry"
	"courtbooking/internal/store"
)

type State string

const (
	Active   State = "ACTIVE"
	ReadOnly State = "READONLY"
	Retired  State = "RETIRED"
)

const (
	ItemName      = "LifecycleState"
	stateAttrName = "State"
	urlAttrName   = "Url"
)

var (
	ErrOperationRejected = errors.New("operation not allowed in the current lifecycle state")
	ErrInvalidURL        = errors.New("Must provide valid url to new service when setting lifecycle state to RETIRED")
	ErrUnknownState      = errors.New("unknown lifecycle state")
)

// RejectedError is returned for end-user calls the current state forbids.
// URL is set when the service is retired.
type RejectedError struct {
	State State
	URL   string
}

func (e *RejectedError) Error() string {
	if e.State == ReadOnly {
		return "Cannot mutate bookings or rules - booking service is temporarily readonly whilst site maintenance is in progress"
	}
	url := e.URL
	if url == "" {
		url = "UrlNotPresent"
	}
	return "Cannot access bookings or rules - there is an updated version of the booking service. Forwarding Url: " + url
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrOperationRejected
}

func (e *RejectedError) Retired() bool {
	return e.State == Retired
}

func ParseState(s string) (State, error) {
	switch State(strings.ToUpper(s)) {
	case Active:
		return Active, nil
	case ReadOnly:
		return ReadOnly, nil
	case Retired:
		return Retired, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

type Manager struct {
	persister persister.OptimisticPersister
	retry     retry.Policy
}

func NewManager(p persister.OptimisticPersister, policy retry.Policy) *Manager {
	return &Manager{persister: p, retry: policy}
}

// GetLifecycleState returns the current state, ACTIVE when none was ever set.
// The forwarding url is returned only for RETIRED.
func (m *Manager) GetLifecycleState(ctx context.Context) (State, string, error) {
	item, err := m.persister.Get(ctx, ItemName)
	if err != nil {
		return "", "", err
	}

	state := Active
	url := ""
	for _, a := range item.Attributes {
		switch a.Name {
		case stateAttrName:
			if state, err = ParseState(a.Value); err != nil {
				return "", "", err
			}
		case urlAttrName:
			url = a.Value
		}
	}
	if state != Retired {
		url = ""
	}
	return state, url, nil
}

// SetLifecycleState moves to state. Retiring requires a url to the
// replacement service. The url and state are written together, and both are
// written again when another writer gets in between.
func (m *Manager) SetLifecycleState(ctx context.Context, state State, url string) error {
	if _, err := ParseState(string(state)); err != nil {
		return err
	}
	if state == Retired && !strings.HasPrefix(url, "http") {
		logger.Warn("Rejecting retirement without a forwarding url", "url", url)
		return ErrInvalidURL
	}

	logger.Info("Setting lifecycle state", "state", state, "url", url)
	return m.retry.Do(ctx, "conflict", persister.IsConflict, func() error {
		item, err := m.persister.Get(ctx, ItemName)
		if err != nil {
			return err
		}

		// The url goes first so RETIRED is never seen with a stale url.
		version := item.Version
		if url != "" {
			v, err := m.persister.Put(ctx, ItemName, version, store.Attribute{Name: urlAttrName, Value: url})
			if err != nil {
				return err
			}
			version = &v
		}
		_, err = m.persister.Put(ctx, ItemName, version, store.Attribute{Name: stateAttrName, Value: string(state)})
		return err
	})
}

// CheckOperation fails with a *RejectedError when the current state forbids
// the call. Calls not made on behalf of an end user are always allowed.
func (m *Manager) CheckOperation(ctx context.Context, readOnly, isEndUserCall bool) error {
	if !isEndUserCall {
		return nil
	}

	state, url, err := m.GetLifecycleState(ctx)
	if err != nil {
		return err
	}

	switch {
	case state == Active:
		return nil
	case state == ReadOnly && readOnly:
		return nil
	}

	logger.Info("Rejecting end-user call", "state", state, "readOnly", readOnly)
	metrics.RecordLifecycleRejection(string(state))
	return &RejectedError{State: state, URL: url}
}
