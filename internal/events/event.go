// ABOUTME: Event variants and their common envelope.
// ABOUTME: Events are immutable values; metadata is copied in and out.

package events

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fluxmind/internal/domain"
)

// Kind is the stable discriminator of an event variant.
type Kind string

const (
	KindMessageReceived      Kind = "message_received"
	KindAssistantResponded   Kind = "assistant_responded"
	KindConversationArchived Kind = "conversation_archived"
	KindMessageFlagged       Kind = "message_flagged"
)

// Event is implemented by the four variants in this package only.
type Event interface {
	Kind() Kind
	Meta() Envelope
	// Conversation is the conversation the event concerns. Its string form is
	// the partition key.
	Conversation() domain.ConversationID
	sealed()
}

// Envelope carries the fields every event shares.
type Envelope struct {
	ID         uuid.UUID
	OccurredAt time.Time
	metadata   map[string]string
}

// Option customizes an Envelope at construction.
type Option func(*Envelope)

// WithID sets the event id instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(e *Envelope) { e.ID = id }
}

// WithOccurredAt sets the occurrence time instead of using the current time.
func WithOccurredAt(t time.Time) Option {
	return func(e *Envelope) { e.OccurredAt = t.UTC() }
}

// WithMetadata adds a metadata entry.
func WithMetadata(key, value string) Option {
	return func(e *Envelope) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// withMetadataMap replaces metadata with a copy of m. Used by the decoder.
func withMetadataMap(m map[string]string) Option {
	return func(e *Envelope) { e.metadata = maps.Clone(m) }
}

func newEnvelope(opts []Option) Envelope {
	e := Envelope{
		ID:         uuid.New(),
		OccurredAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Meta returns the envelope.
func (e Envelope) Meta() Envelope { return e }

// Metadata returns a copy of the metadata bag.
func (e Envelope) Metadata() map[string]string {
	return maps.Clone(e.metadata)
}

// MetadataValue returns a single metadata entry.
func (e Envelope) MetadataValue(key string) (string, bool) {
	v, ok := e.metadata[key]
	return v, ok
}

// MessageReceived announces that a message was appended to a conversation.
type MessageReceived struct {
	Envelope
	ConversationID domain.ConversationID
	MessageID      domain.MessageID
	Role           domain.Role
	Content        string
}

// NewMessageReceived builds a MessageReceived event.
func NewMessageReceived(conv domain.ConversationID, msg domain.MessageID, role domain.Role, content string, opts ...Option) MessageReceived {
	return MessageReceived{
		Envelope:       newEnvelope(opts),
		ConversationID: conv,
		MessageID:      msg,
		Role:           role,
		Content:        content,
	}
}

func (MessageReceived) Kind() Kind { return KindMessageReceived }
func (e MessageReceived) Conversation() domain.ConversationID { return e.ConversationID }
func (MessageReceived) sealed() {}

// AssistantResponded announces an assistant reply to a user message.
type AssistantResponded struct {
	Envelope
	ConversationID     domain.ConversationID
	UserMessageID      domain.MessageID
	AssistantMessageID domain.MessageID
	Content            string
}

// NewAssistantResponded builds an AssistantResponded event.
func NewAssistantResponded(conv domain.ConversationID, userMsg, assistantMsg domain.MessageID, content string, opts ...Option) AssistantResponded {
	return AssistantResponded{
		Envelope:           newEnvelope(opts),
		ConversationID:     conv,
		UserMessageID:      userMsg,
		AssistantMessageID: assistantMsg,
		Content:            content,
	}
}

func (AssistantResponded) Kind() Kind { return KindAssistantResponded }
func (e AssistantResponded) Conversation() domain.ConversationID { return e.ConversationID }
func (AssistantResponded) sealed() {}

// ConversationArchived announces that a conversation was archived.
type ConversationArchived struct {
	Envelope
	ConversationID domain.ConversationID
}

// NewConversationArchived builds a ConversationArchived event.
func NewConversationArchived(conv domain.ConversationID, opts ...Option) ConversationArchived {
	return ConversationArchived{
		Envelope:       newEnvelope(opts),
		ConversationID: conv,
	}
}

func (ConversationArchived) Kind() Kind { return KindConversationArchived }
func (e ConversationArchived) Conversation() domain.ConversationID { return e.ConversationID }
func (ConversationArchived) sealed() {}

// MessageFlagged announces that a message was flagged for review.
type MessageFlagged struct {
	Envelope
	ConversationID domain.ConversationID
	MessageID      domain.MessageID
	Reason         string
}

// NewMessageFlagged builds a MessageFlagged event.
func NewMessageFlagged(conv domain.ConversationID, msg domain.MessageID, reason string, opts ...Option) MessageFlagged {
	return MessageFlagged{
		Envelope:       newEnvelope(opts),
		ConversationID: conv,
		MessageID:      msg,
		Reason:         reason,
	}
}

func (MessageFlagged) Kind() Kind { return KindMessageFlagged }
func (e MessageFlagged) Conversation() domain.ConversationID { return e.ConversationID }
func (MessageFlagged) sealed() {}

// PartitionKey returns the key events about the same conversation share.
func PartitionKey(ev Event) string {
	return ev.Conversation().String()
}
