// ABOUTME: Versioned JSON wire encoding for events.
// ABOUTME: Pins field names, identifier and timestamp formats for cross-process compatibility.

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fluxmind/internal/domain"
)

// SchemaVersion is the wire schema version written by Marshal.
const SchemaVersion = 1

// TimeFormat is the wire format for timestamps.
const TimeFormat = time.RFC3339Nano

var (
	// ErrUnknownKind is returned when a payload's discriminator is not registered.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrUnsupportedSchema is returned for payloads written with a newer schema.
	ErrUnsupportedSchema = errors.New("unsupported event schema")

	// ErrMalformed is returned when a payload cannot be parsed.
	ErrMalformed = errors.New("malformed event payload")
)

// wireEnvelope is the outer JSON document.
type wireEnvelope struct {
	Schema     int               `json:"schema"`
	Type       Kind              `json:"type"`
	EventID    string            `json:"event_id"`
	OccurredAt string            `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Data       json.RawMessage   `json:"data"`
}

type messageReceivedData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

type assistantRespondedData struct {
	ConversationID     string `json:"conversation_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	Content            string `json:"content"`
}

type conversationArchivedData struct {
	ConversationID string `json:"conversation_id"`
}

type messageFlaggedData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Reason         string `json:"reason"`
}

// Marshal encodes an event in the current wire schema.
func Marshal(ev Event) ([]byte, error) {
	var data any
	switch e := ev.(type) {
	case MessageReceived:
		data = messageReceivedData{
			ConversationID: e.ConversationID.String(),
			MessageID:      e.MessageID.String(),
			Role:           e.Role.String(),
			Content:        e.Content,
		}
	case AssistantResponded:
		data = assistantRespondedData{
			ConversationID:     e.ConversationID.String(),
			UserMessageID:      e.UserMessageID.String(),
			AssistantMessageID: e.AssistantMessageID.String(),
			Content:            e.Content,
		}
	case ConversationArchived:
		data = conversationArchivedData{ConversationID: e.ConversationID.String()}
	case MessageFlagged:
		data = messageFlaggedData{
			ConversationID: e.ConversationID.String(),
			MessageID:      e.MessageID.String(),
			Reason:         e.Reason,
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, ev)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s data: %w", ev.Kind(), err)
	}

	meta := ev.Meta()
	out, err := json.Marshal(wireEnvelope{
		Schema:     SchemaVersion,
		Type:       ev.Kind(),
		EventID:    meta.ID.String(),
		OccurredAt: meta.OccurredAt.UTC().Format(TimeFormat),
		Metadata:   meta.metadata,
		Data:       raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", ev.Kind(), err)
	}
	return out, nil
}

// Peek returns the discriminator of a payload without decoding its data.
func Peek(payload []byte) (Kind, error) {
	var env struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return env.Type, nil
}

// envelopeOptions converts the parsed outer document into constructor options.
func envelopeOptions(w wireEnvelope) ([]Option, error) {
	id, err := uuid.Parse(w.EventID)
	if err != nil {
		return nil, fmt.Errorf("%w: event_id: %w", ErrMalformed, err)
	}
	at, err := time.Parse(TimeFormat, w.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("%w: occurred_at: %w", ErrMalformed, err)
	}
	return []Option{WithID(id), WithOccurredAt(at), withMetadataMap(w.Metadata)}, nil
}

func decodeMessageReceived(data json.RawMessage, opts []Option) (Event, error) {
	var d messageReceivedData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	conv, err := domain.ParseConversationID(d.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	msg, err := domain.ParseMessageID(d.MessageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	role, err := domain.ParseRole(d.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return NewMessageReceived(conv, msg, role, d.Content, opts...), nil
}

func decodeAssistantResponded(data json.RawMessage, opts []Option) (Event, error) {
	var d assistantRespondedData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	conv, err := domain.ParseConversationID(d.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	userMsg, err := domain.ParseMessageID(d.UserMessageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	assistantMsg, err := domain.ParseMessageID(d.AssistantMessageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return NewAssistantResponded(conv, userMsg, assistantMsg, d.Content, opts...), nil
}

func decodeConversationArchived(data json.RawMessage, opts []Option) (Event, error) {
	var d conversationArchivedData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	conv, err := domain.ParseConversationID(d.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return NewConversationArchived(conv, opts...), nil
}

func decodeMessageFlagged(data json.RawMessage, opts []Option) (Event, error) {
	var d messageFlaggedData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	conv, err := domain.ParseConversationID(d.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	msg, err := domain.ParseMessageID(d.MessageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return NewMessageFlagged(conv, msg, d.Reason, opts...), nil
}
