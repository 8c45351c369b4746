package core

import (
	"context"
	"time"

	"github.com/agenthands/crosscheck/internal/store"
)

// MockStore wraps the in-memory store and counts lifecycle calls.
type MockStore struct {
	*store.MemoryStore
	SchemaCalls int
	Closed      bool
	EscalateErr error
}

func NewMockStore() *MockStore {
	return &MockStore{MemoryStore: store.NewMemoryStore()}
}

func (m *MockStore) EnsureSchema(ctx context.Context) error {
	m.SchemaCalls++
	return nil
}

func (m *MockStore) Close() error {
	m.Closed = true
	return nil
}

func (m *MockStore) EscalateOverdue(ctx context.Context, engagementID string, cutoff time.Time) ([]string, error) {
	if m.EscalateErr != nil {
		return nil, m.EscalateErr
	}
	return m.MemoryStore.EscalateOverdue(ctx, engagementID, cutoff)
}
