// Package store defines the attribute store consumed by the optimistic
// persister: keyed items holding string attributes, with single-attribute
// preconditions on writes and deletes.
package store

import (
	"context"
	"errors"
)

var (
	ErrConditionalCheckFailed = errors.New("conditional check failed")
	ErrAttributeDoesNotExist  = errors.New("attribute does not exist")
	ErrThrottled              = errors.New("store request throttled")
)

type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Item struct {
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes"`
}

// Condition is a precondition on one attribute of an item. With Exists false
// the attribute must be absent; otherwise it must currently hold Value.
type Condition struct {
	Name   string
	Value  string
	Exists bool
}

type AttributeStore interface {
	// Get is a consistent read of every attribute of an item.
	Get(ctx context.Context, item string) ([]Attribute, error)
	// Put replaces the named attributes if the condition holds, and fails
	// with ErrConditionalCheckFailed otherwise.
	Put(ctx context.Context, item string, attrs []Attribute, cond Condition) error
	// Delete removes one attribute if the condition holds. A condition on an
	// absent attribute fails with ErrAttributeDoesNotExist.
	Delete(ctx context.Context, item string, attr Attribute, cond Condition) error
	DeleteAll(ctx context.Context, item string) error
	SelectAll(ctx context.Context) ([]Item, error)
}

// check evaluates cond against the current value (present reports whether
// the conditioned attribute exists). Shared by the backends that evaluate
// preconditions in Go.
func check(cond Condition, current string, present bool) error {
	if !cond.Exists {
		if present {
			return ErrConditionalCheckFailed
		}
		return nil
	}
	if !present || current != cond.Value {
		return ErrConditionalCheckFailed
	}
	return nil
}

func checkDelete(cond Condition, current string, present bool) error {
	if cond.Exists && !present {
		return ErrAttributeDoesNotExist
	}
	return check(cond, current, present)
}
