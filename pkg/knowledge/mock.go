package knowledge

import (
	"context"
	"sync/atomic"
)

// MockStore implements Store for testing.
type MockStore struct {
	MatchFunc func(ctx context.Context, embedding []float64, k int) ([]Snippet, error)

	calls atomic.Int64
}

// NewMockStore returns a store that always answers with snippets.
func NewMockStore(snippets ...Snippet) *MockStore {
	return &MockStore{
		MatchFunc: func(ctx context.Context, embedding []float64, k int) ([]Snippet, error) {
			out := make([]Snippet, len(snippets))
			copy(out, snippets)
			return out, nil
		},
	}
}

// Match calls MatchFunc.
func (m *MockStore) Match(ctx context.Context, embedding []float64, k int) ([]Snippet, error) {
	m.calls.Add(1)
	if m.MatchFunc == nil {
		return nil, nil
	}
	return m.MatchFunc(ctx, embedding, k)
}

// Calls returns how many times Match ran.
func (m *MockStore) Calls() int {
	return int(m.calls.Load())
}

// Close implements Store.
func (m *MockStore) Close() error { return nil }

var _ Store = (*MockStore)(nil)
