// ABOUTME: Storage interface and types for conversations and analytics.
// ABOUTME: Implemented by SQLiteStore for production and MockStore for tests.

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fluxmind/internal/domain"
)

// Common errors
var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)

// ConversationStats is the analytics read model for one conversation.
type ConversationStats struct {
	ConversationID    domain.ConversationID
	AssistantMessages int64
	LastMessageAt     time.Time
}

// Store is everything fluxmind persists.
type Store interface {
	// Conversations
	Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	Save(ctx context.Context, c *domain.Conversation) error
	ListOldUnarchived(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Conversation, error)

	// Analytics
	IncrementAssistantMessages(ctx context.Context, id domain.ConversationID, at time.Time) error
	IncrementAssistantMessagesOnce(ctx context.Context, eventID uuid.UUID, id domain.ConversationID, at time.Time) (bool, error)
	GetConversationStats(ctx context.Context, id domain.ConversationID) (*ConversationStats, error)

	Close() error
}
