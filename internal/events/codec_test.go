// ABOUTME: Tests for the event wire schema and registry.
// ABOUTME: Pins field names and formats, and checks skip errors for unknown payloads.

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fluxmind/internal/domain"
)

func TestMarshalPinsWireFormat(t *testing.T) {
	conv := domain.NewConversationID()
	msg := domain.NewMessageID()
	id := uuid.New()
	at := time.Date(2025, 3, 4, 5, 6, 7, 8, time.UTC)

	ev := NewMessageReceived(conv, msg, domain.RoleUser, "hello",
		WithID(id), WithOccurredAt(at), WithMetadata("source", "api"))

	payload, err := Marshal(ev)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(payload, &doc))

	assert.Equal(t, float64(1), doc["schema"])
	assert.Equal(t, "message_received", doc["type"])
	assert.Equal(t, id.String(), doc["event_id"])
	assert.Equal(t, "2025-03-04T05:06:07.000000008Z", doc["occurred_at"])
	assert.Equal(t, map[string]any{"source": "api"}, doc["metadata"])
	assert.Equal(t, map[string]any{
		"conversation_id": conv.String(),
		"message_id":      msg.String(),
		"role":            "user",
		"content":         "hello",
	}, doc["data"])
}

func TestDecodeRestoresEnvelope(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	ev := NewAssistantResponded(domain.NewConversationID(), domain.NewMessageID(), domain.NewMessageID(), "generated",
		WithOccurredAt(at), WithMetadata("trace", "abc"))

	payload, err := Marshal(ev)
	require.NoError(t, err)

	decoded, err := DefaultRegistry().Decode(payload)
	require.NoError(t, err)

	got, ok := decoded.(AssistantResponded)
	require.True(t, ok)
	assert.Equal(t, ev.ID, got.ID)
	assert.True(t, at.Equal(got.OccurredAt))
	assert.Equal(t, time.UTC, got.OccurredAt.Location())
	assert.Equal(t, ev.UserMessageID, got.UserMessageID)
	assert.Equal(t, ev.AssistantMessageID, got.AssistantMessageID)
	assert.Equal(t, "generated", got.Content)
	v, ok := got.MetadataValue("trace")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestDecodeEveryBuiltinKind(t *testing.T) {
	conv := domain.NewConversationID()
	all := []Event{
		NewMessageReceived(conv, domain.NewMessageID(), domain.RoleSystem, "sys"),
		NewAssistantResponded(conv, domain.NewMessageID(), domain.NewMessageID(), "reply"),
		NewConversationArchived(conv),
		NewMessageFlagged(conv, domain.NewMessageID(), "spam"),
	}

	reg := DefaultRegistry()
	for _, ev := range all {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			payload, err := Marshal(ev)
			require.NoError(t, err)

			decoded, err := reg.Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, ev.Kind(), decoded.Kind())
			assert.Equal(t, conv, decoded.Conversation())
			assert.Equal(t, ev.Meta().ID, decoded.Meta().ID)
		})
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	payload := []byte(`{"schema":1,"type":"conversation_renamed","event_id":"` + uuid.NewString() +
		`","occurred_at":"2025-01-01T00:00:00Z","data":{}}`)

	_, err := DefaultRegistry().Decode(payload)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeUnregisteredBuiltin(t *testing.T) {
	reg, err := RegistryFor(KindMessageReceived)
	require.NoError(t, err)

	payload, err := Marshal(NewConversationArchived(domain.NewConversationID()))
	require.NoError(t, err)

	_, err = reg.Decode(payload)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeNewerSchema(t *testing.T) {
	payload := []byte(`{"schema":2,"type":"message_received","event_id":"x","occurred_at":"x","data":{}}`)

	_, err := DefaultRegistry().Decode(payload)
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestDecodeMalformed(t *testing.T) {
	reg := DefaultRegistry()

	_, err := reg.Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	payload := []byte(`{"schema":1,"type":"message_received","event_id":"` + uuid.NewString() +
		`","occurred_at":"2025-01-01T00:00:00Z","data":{"conversation_id":"nope"}}`)
	_, err = reg.Decode(payload)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRegisterDuplicate(t *testing.T) {
	reg := DefaultRegistry()
	err := reg.Register(KindMessageReceived, decodeMessageReceived)
	assert.Error(t, err)
}

func TestRegistryForUnknown(t *testing.T) {
	_, err := RegistryFor(Kind("bogus"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestPeek(t *testing.T) {
	payload, err := Marshal(NewConversationArchived(domain.NewConversationID()))
	require.NoError(t, err)

	kind, err := Peek(payload)
	require.NoError(t, err)
	assert.Equal(t, KindConversationArchived, kind)
}

func TestMetadataIsCopied(t *testing.T) {
	ev := NewConversationArchived(domain.NewConversationID(), WithMetadata("k", "v"))

	m := ev.Metadata()
	m["k"] = "changed"

	v, _ := ev.MetadataValue("k")
	assert.Equal(t, "v", v)
}

func TestPartitionKey(t *testing.T) {
	conv := domain.NewConversationID()
	assert.Equal(t, conv.String(), PartitionKey(NewConversationArchived(conv)))
}
