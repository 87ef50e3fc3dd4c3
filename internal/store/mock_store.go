// ABOUTME: Mock ChatStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory ChatStore implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	records map[string][]*ChatRecord // keyed by agent ID
	closed  bool

	// AppendErr, when set, is returned by AppendChat.
	AppendErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{records: make(map[string][]*ChatRecord)}
}

// AppendChat stores a copy of rec.
func (m *MockStore) AppendChat(ctx context.Context, rec *ChatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.AppendErr != nil {
		return m.AppendErr
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	m.records[rec.AgentID] = append(m.records[rec.AgentID], &cp)
	return nil
}

// RecentChat returns copies of the newest records for agentID, oldest first.
func (m *MockStore) RecentChat(ctx context.Context, agentID string, limit int) ([]*ChatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	all := m.records[agentID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*ChatRecord, len(all))
	for i, rec := range all {
		cp := *rec
		out[i] = &cp
	}
	return out, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
