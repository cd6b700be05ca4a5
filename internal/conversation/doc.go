// Package conversation orchestrates reads and writes of conversation
// aggregates.
//
// # Overview
//
// The Service is the only writer of conversations. Ingress collaborators, the
// responder loop and the archival sweeper all go through it:
//
//	svc := conversation.New(repo, logger)
//
// Key operations:
//
//   - CreateConversation(ctx, initial): new conversation, optional first USER message
//   - AddMessage(ctx, id, role, content): append a message
//   - ArchiveConversation(ctx, id): idempotent archive
//   - ListStaleUnarchived(ctx, olderThan, limit): oldest unarchived conversations first
//   - GetConversation / ListMessages: reads
//
// # Consistency
//
// Every mutation is load, mutate, save. The [Repository] rejects a save whose
// version is stale with [domain.ErrConflict], so two concurrent appends to the
// same conversation can never silently drop a message. The Service does not
// retry; callers decide whether a conflict is worth another attempt.
package conversation
