package executor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockResolver implements Resolver over an in-memory entity map and records
// every call, for tests that need to observe resolution behavior.
type MockResolver struct {
	mu sync.Mutex

	// Entities maps type -> id -> data.
	Entities map[string]map[string]map[string]any

	// GetErr / ListErr force failures when set.
	GetErr  error
	ListErr error

	// GetHook, when set, can fail individual Get calls.
	GetHook func(entityType, id string) error

	// Delay is added before every call, to exercise deadlines.
	Delay time.Duration

	calls []ResolverCall
}

// ResolverCall records one Get or List invocation.
type ResolverCall struct {
	Kind        string // "get" or "list"
	EntityType  string
	ID          string
	FilterField string
	First, Skip int
}

// NewMockResolver builds a MockResolver over the given entities.
func NewMockResolver(entities map[string]map[string]map[string]any) *MockResolver {
	return &MockResolver{Entities: entities}
}

// Calls returns a copy of the recorded call log.
func (m *MockResolver) Calls() []ResolverCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ResolverCall(nil), m.calls...)
}

func (m *MockResolver) record(c ResolverCall) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *MockResolver) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockResolver) Get(ctx context.Context, entityType, id string) (map[string]any, error) {
	m.record(ResolverCall{Kind: "get", EntityType: entityType, ID: id})
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if m.GetHook != nil {
		if err := m.GetHook(entityType, id); err != nil {
			return nil, err
		}
	}
	return m.Entities[entityType][id], nil
}

func (m *MockResolver) List(ctx context.Context, entityType, filterField string, filterValue any, first, skip int) ([]map[string]any, error) {
	m.record(ResolverCall{Kind: "list", EntityType: entityType, FilterField: filterField, First: first, Skip: skip})
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	ids := make([]string, 0, len(m.Entities[entityType]))
	for id := range m.Entities[entityType] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []map[string]any
	skipped := 0
	for _, id := range ids {
		data := m.Entities[entityType][id]
		if filterField != "" && data[filterField] != filterValue {
			continue
		}
		if skipped < skip {
			skipped++
			continue
		}
		out = append(out, data)
		if len(out) >= first {
			break
		}
	}
	return out, nil
}
