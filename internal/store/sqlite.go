// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Conversations are version-checked; messages are insert-only rows ordered by position

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/fluxmind/internal/domain"
)

// timeLayout is fixed width so text comparison in SQL orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps per-connection pragmas in effect
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			archived   INTEGER NOT NULL DEFAULT 0,
			version    INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_stale
			ON conversations(archived, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			UNIQUE (conversation_id, seq),
			CHECK (role IN ('user', 'assistant', 'system'))
		);

		CREATE TABLE IF NOT EXISTS conversation_analytics (
			conversation_id         TEXT PRIMARY KEY,
			assistant_message_count INTEGER NOT NULL DEFAULT 0,
			last_message_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS processed_events (
			event_id        TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			processed_at    TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations upgrades databases created before conversations were versioned
func (s *SQLiteStore) runMigrations() error {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('conversations') WHERE name = 'version'`).Scan(&exists)
	if err == nil {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE conversations ADD COLUMN version INTEGER NOT NULL DEFAULT 1`); err != nil {
		return fmt.Errorf("adding version column to conversations: %w", err)
	}
	s.logger.Info("applied migration", "column", "version", "table", "conversations")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Get retrieves a conversation and its messages.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	query := `
		SELECT archived, version, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	snap := domain.Snapshot{ID: id}
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(
		&snap.Archived,
		&snap.Version,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	snap.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	snap.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	snap.Messages, err = s.listMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	return domain.Restore(snap, nil), nil
}

func (s *SQLiteStore) listMessages(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	query := `
		SELECT id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []domain.Message
	for rows.Next() {
		var idStr, roleStr, createdAtStr string
		msg := domain.Message{ConversationID: id}
		if err := rows.Scan(&idStr, &roleStr, &msg.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if msg.ID, err = domain.ParseMessageID(idStr); err != nil {
			return nil, err
		}
		if msg.Role, err = domain.ParseRole(roleStr); err != nil {
			return nil, err
		}
		if msg.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// Save persists a conversation. New conversations are inserted at version 1;
// existing ones are updated only if the stored version still matches the
// loaded one. Messages appended since load are inserted in the same
// transaction. Returns ErrConflict on a version mismatch.
func (s *SQLiteStore) Save(ctx context.Context, c *domain.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var newVersion int64
	if c.Version() == 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, archived, version, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)
		`,
			c.ID.String(),
			c.Archived(),
			formatTime(c.CreatedAt),
			formatTime(c.UpdatedAt()),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("inserting conversation: %w", err)
		}
		newVersion = 1
	} else {
		// archived never goes back to 0
		result, err := tx.ExecContext(ctx, `
			UPDATE conversations
			SET archived = MAX(archived, ?), updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?
		`,
			c.Archived(),
			formatTime(c.UpdatedAt()),
			c.ID.String(),
			c.Version(),
		)
		if err != nil {
			return fmt.Errorf("updating conversation: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, c.ID.String()).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("checking conversation: %w", err)
			}
			return ErrConflict
		}
		newVersion = c.Version() + 1
	}

	start, pending := c.Uncommitted()
	for i, msg := range pending {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			msg.ID.String(),
			c.ID.String(),
			start+i,
			msg.Role.String(),
			msg.Content,
			formatTime(msg.CreatedAt),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}
	c.MarkCommitted(newVersion)

	s.logger.Debug("saved conversation",
		"id", c.ID,
		"version", newVersion,
		"new_messages", len(pending),
		"archived", c.Archived())
	return nil
}

// ListOldUnarchived returns unarchived conversations last updated before
// olderThan, oldest first, at most limit.
func (s *SQLiteStore) ListOldUnarchived(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		return []*domain.Conversation{}, nil
	}

	query := `
		SELECT id
		FROM conversations
		WHERE archived = 0 AND updated_at < ?
		ORDER BY updated_at ASC, id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, formatTime(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale conversations: %w", err)
	}

	var ids []domain.ConversationID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		id, err := domain.ParseConversationID(idStr)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	// Release the connection before loading each conversation
	_ = rows.Close()

	convs := make([]*domain.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
