package persister

import (
	"context"

	"courtbooking/internal/store"
)

// OptimisticPersister is the contract the booking, rule and lifecycle
// managers depend on.
type OptimisticPersister interface {
	Get(ctx context.Context, item string) (*Item, error)
	GetAllItems(ctx context.Context) ([]store.Item, error)
	Put(ctx context.Context, item string, version *int, attr store.Attribute) (int, error)
	Delete(ctx context.Context, item string, attr store.Attribute) error
	DeleteAllAttributes(ctx context.Context, item string) error
}

var _ OptimisticPersister = (*Persister)(nil)
