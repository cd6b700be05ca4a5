// Package domain holds the conversation aggregate and the values shared by
// every other package in fluxmind.
//
// # Overview
//
// A Conversation is an ordered, append-only log of Messages plus an archived
// flag. Messages are never edited or removed once appended, and the archived
// flag only ever moves from false to true.
//
// # Concurrency
//
// The aggregate itself is not safe for concurrent use. Concurrent writers are
// reconciled at the repository: every persisted Conversation carries a version
// stamp, and a save against a stale version fails with [ErrConflict]. Messages
// appended since the aggregate was loaded are reported by
// [Conversation.Uncommitted] so a repository can write them as inserts only.
//
// # Time
//
// Timestamps come from an injected [Clock]. All timestamps are UTC.
package domain
