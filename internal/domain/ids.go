// ABOUTME: Typed UUID identifiers for conversations and messages.
// ABOUTME: Canonical text form is the lowercase hyphenated UUID string.

package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ConversationID identifies a conversation.
type ConversationID uuid.UUID

// MessageID identifies a message within a conversation.
type MessageID uuid.UUID

// NewConversationID returns a fresh random ConversationID.
func NewConversationID() ConversationID {
	return ConversationID(uuid.New())
}

// NewMessageID returns a fresh random MessageID.
func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

// ParseConversationID parses the canonical string form.
func ParseConversationID(s string) (ConversationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ConversationID{}, fmt.Errorf("parsing conversation id %q: %w", s, err)
	}
	return ConversationID(u), nil
}

// ParseMessageID parses the canonical string form.
func ParseMessageID(s string) (MessageID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return MessageID{}, fmt.Errorf("parsing message id %q: %w", s, err)
	}
	return MessageID(u), nil
}

func (id ConversationID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is the nil UUID.
func (id ConversationID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id ConversationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ConversationID) UnmarshalText(b []byte) error {
	parsed, err := ParseConversationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id MessageID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is the nil UUID.
func (id MessageID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id MessageID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *MessageID) UnmarshalText(b []byte) error {
	parsed, err := ParseMessageID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
