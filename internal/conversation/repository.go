// ABOUTME: Repository contract for conversation persistence.
// ABOUTME: Implemented by the SQLite store and the in-memory mock store.

package conversation

import (
	"context"
	"time"

	"github.com/2389/fluxmind/internal/domain"
)

// Repository persists conversation aggregates.
type Repository interface {
	// Get loads a conversation with all of its messages.
	// Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)

	// Save persists the conversation. Messages appended since load are
	// inserted; existing messages are never rewritten. Returns
	// domain.ErrConflict if the stored version moved since load.
	Save(ctx context.Context, c *domain.Conversation) error

	// ListOldUnarchived returns unarchived conversations last updated
	// strictly before olderThan, oldest first, at most limit.
	ListOldUnarchived(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Conversation, error)
}
