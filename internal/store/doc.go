// Package store provides persistent storage for conversations using SQLite.
//
// # Architecture
//
// Store combines two contracts:
//
//   - conversation.Repository: Get, Save, and ListOldUnarchived for the
//     Conversation aggregate
//   - analytics.Counter: per-conversation assistant reply counters, with an
//     idempotent variant that records each applied event id in
//     processed_events inside the same transaction
//
// SQLiteStore is the production implementation. MockStore keeps snapshots in
// memory with the same version semantics and is used by tests across packages.
//
// # Concurrency
//
// Every conversation row carries a version. Save inserts a conversation whose
// version is zero, otherwise it updates the row only where the stored version
// matches and bumps it. A mismatch returns ErrConflict; a missing row returns
// ErrNotFound. Messages are append-only: Save inserts just the messages added
// since the aggregate was loaded, each with a positional seq that is unique
// per conversation, so two writers racing on the same conversation cannot
// overwrite each other's messages.
//
// The archived flag is written as MAX(stored, new) so it never returns to false.
//
// # Schema
//
//   - conversations: id, archived, version, created_at, updated_at
//   - messages: id, conversation_id, seq, role, content, created_at
//   - conversation_analytics: conversation_id, assistant_message_count, last_message_at
//   - processed_events: event_id, conversation_id, processed_at
//
// Timestamps are stored as fixed-width UTC strings so that lexical order
// matches chronological order in range queries.
//
// # SQLite Configuration
//
// The database runs with a single open connection, WAL journaling, foreign
// keys enabled, and a busy timeout. Parent directories are created on open.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/fluxmind/fluxmind.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	svc := conversation.New(s, logger)
package store
