// Package events defines the closed set of conversation lifecycle events and
// their wire encoding.
//
// # Variants
//
//   - [MessageReceived]: a message was appended by an ingress collaborator
//   - [AssistantResponded]: the responder appended an assistant reply
//   - [ConversationArchived]: the sweeper archived a conversation
//   - [MessageFlagged]: a message was flagged for review
//
// Every variant embeds an [Envelope] (event id, occurrence time, metadata) and
// names its conversation, which is also its partition key.
//
// # Exhaustive handling
//
// [Event] is sealed: only this package can implement it. Consumers implement
// [Handler], which has one method per variant, and call [Dispatch]. Adding a
// variant adds a method to Handler, so every consumer fails to compile until it
// handles the new case.
//
// # Wire schema
//
// Events are encoded as a JSON envelope:
//
//	{
//	  "schema": 1,
//	  "type": "message_received",
//	  "event_id": "6f1c…",
//	  "occurred_at": "2025-01-01T00:00:00.000000001Z",
//	  "metadata": {"source": "api"},
//	  "data": {"conversation_id": "…", "message_id": "…", "role": "user", "content": "…"}
//	}
//
// Identifiers are canonical UUID strings, timestamps RFC 3339 with nanoseconds
// in UTC, roles lowercase names. A [Registry] maps the "type" discriminator to a
// decoder. Unregistered discriminators and newer schema versions decode to
// [ErrUnknownKind] and [ErrUnsupportedSchema] so a subscriber can skip them.
package events
