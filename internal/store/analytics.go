// ABOUTME: SQLite implementation for per-conversation analytics counters
// ABOUTME: Upserts assistant reply counts, optionally once per event id via processed_events

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fluxmind/internal/domain"
)

const incrementQuery = `
	INSERT INTO conversation_analytics (conversation_id, assistant_message_count, last_message_at)
	VALUES (?, 1, ?)
	ON CONFLICT(conversation_id) DO UPDATE SET
		assistant_message_count = assistant_message_count + 1,
		last_message_at = MAX(last_message_at, excluded.last_message_at)
`

// IncrementAssistantMessages adds one assistant reply to a conversation's
// counters. last_message_at keeps the latest of the stored and given times.
func (s *SQLiteStore) IncrementAssistantMessages(ctx context.Context, id domain.ConversationID, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, incrementQuery, id.String(), formatTime(at)); err != nil {
		return fmt.Errorf("incrementing analytics: %w", err)
	}

	s.logger.Debug("incremented assistant count", "conversation_id", id)
	return nil
}

// IncrementAssistantMessagesOnce applies the increment only if eventID has
// not been applied before. The event id is recorded in processed_events in
// the same transaction as the increment, so a redelivery after a restart is
// still recognized. Reports whether the increment was applied.
func (s *SQLiteStore) IncrementAssistantMessagesOnce(ctx context.Context, eventID uuid.UUID, id domain.ConversationID, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events (event_id, conversation_id, processed_at) VALUES (?, ?, ?)`,
		eventID.String(), id.String(), formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("recording event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording event %s: %w", eventID, err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, incrementQuery, id.String(), formatTime(at)); err != nil {
		return false, fmt.Errorf("incrementing analytics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("incremented assistant count", "conversation_id", id, "event_id", eventID)
	return true, nil
}

// GetConversationStats returns the analytics row for a conversation.
// Returns ErrNotFound if nothing has been recorded yet.
func (s *SQLiteStore) GetConversationStats(ctx context.Context, id domain.ConversationID) (*ConversationStats, error) {
	query := `
		SELECT assistant_message_count, last_message_at
		FROM conversation_analytics
		WHERE conversation_id = ?
	`

	stats := ConversationStats{ConversationID: id}
	var lastStr string
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&stats.AssistantMessages, &lastStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying analytics: %w", err)
	}

	stats.LastMessageAt, err = parseTime(lastStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	return &stats, nil
}
