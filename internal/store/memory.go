package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps items in process memory. It serialises every call, so
// preconditions are evaluated atomically with the write they guard.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, item string) ([]Attribute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return toAttributes(s.items[item]), nil
}

func (s *MemoryStore) Put(ctx context.Context, item string, attrs []Attribute, cond Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, present := s.items[item][cond.Name]
	if err := check(cond, current, present); err != nil {
		return err
	}

	if s.items[item] == nil {
		s.items[item] = make(map[string]string)
	}
	for _, a := range attrs {
		s.items[item][a.Name] = a.Value
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, item string, attr Attribute, cond Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, present := s.items[item][cond.Name]
	if err := checkDelete(cond, current, present); err != nil {
		return err
	}

	delete(s.items[item], attr.Name)
	if len(s.items[item]) == 0 {
		delete(s.items, item)
	}
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, item string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, item)
	return nil
}

func (s *MemoryStore) SelectAll(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.items))
	for name := range s.items {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]Item, 0, len(names))
	for _, name := range names {
		items = append(items, Item{Name: name, Attributes: toAttributes(s.items[name])})
	}
	return items, nil
}

func toAttributes(m map[string]string) []Attribute {
	attrs := make([]Attribute, 0, len(m))
	for name, value := range m {
		attrs = append(attrs, Attribute{Name: name, Value: value})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return attrs
}
