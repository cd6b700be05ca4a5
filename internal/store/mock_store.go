// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping version and append-only semantics

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fluxmind/internal/domain"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[domain.ConversationID]domain.Snapshot
	stats         map[domain.ConversationID]*ConversationStats
	processed     map[uuid.UUID]bool

	// SaveErr, when set, is returned by the next Save and then cleared.
	SaveErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[domain.ConversationID]domain.Snapshot),
		stats:         make(map[domain.ConversationID]*ConversationStats),
		processed:     make(map[uuid.UUID]bool),
	}
}

// Get retrieves a conversation by ID.
func (m *MockStore) Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Restore copies the message slice
	return domain.Restore(snap, nil), nil
}

// Save stores a conversation, enforcing the same version check as SQLiteStore.
func (m *MockStore) Save(ctx context.Context, c *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		err := m.SaveErr
		m.SaveErr = nil
		return err
	}

	existing, ok := m.conversations[c.ID]
	switch {
	case c.Version() == 0 && ok:
		return ErrConflict
	case c.Version() != 0 && !ok:
		return ErrNotFound
	case c.Version() != 0 && existing.Version != c.Version():
		return ErrConflict
	}

	start, _ := c.Uncommitted()
	if ok && start != len(existing.Messages) {
		return ErrConflict
	}

	snap := c.Snapshot()
	snap.Version = c.Version() + 1
	if ok && existing.Archived {
		snap.Archived = true
	}
	m.conversations[c.ID] = snap
	c.MarkCommitted(snap.Version)
	return nil
}

// ListOldUnarchived returns unarchived conversations updated before olderThan, oldest first.
func (m *MockStore) ListOldUnarchived(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []domain.Snapshot
	for _, snap := range m.conversations {
		if !snap.Archived && snap.UpdatedAt.Before(olderThan) {
			matches = append(matches, snap)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].ID.String() < matches[j].ID.String()
		}
		return matches[i].UpdatedAt.Before(matches[j].UpdatedAt)
	})

	if limit <= 0 {
		return []*domain.Conversation{}, nil
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]*domain.Conversation, len(matches))
	for i, snap := range matches {
		out[i] = domain.Restore(snap, nil)
	}
	return out, nil
}

// IncrementAssistantMessages bumps the assistant counter for a conversation.
func (m *MockStore) IncrementAssistantMessages(ctx context.Context, id domain.ConversationID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.increment(id, at)
	return nil
}

// IncrementAssistantMessagesOnce bumps the counter unless eventID was already applied.
func (m *MockStore) IncrementAssistantMessagesOnce(ctx context.Context, eventID uuid.UUID, id domain.ConversationID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed[eventID] {
		return false, nil
	}
	m.processed[eventID] = true
	m.increment(id, at)
	return true, nil
}

func (m *MockStore) increment(id domain.ConversationID, at time.Time) {
	st, ok := m.stats[id]
	if !ok {
		st = &ConversationStats{ConversationID: id, LastMessageAt: at.UTC()}
		m.stats[id] = st
	}
	st.AssistantMessages++
	if at.After(st.LastMessageAt) {
		st.LastMessageAt = at.UTC()
	}
}

// GetConversationStats returns a copy of the analytics row.
func (m *MockStore) GetConversationStats(ctx context.Context, id domain.ConversationID) (*ConversationStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.stats[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *st
	return &result, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
