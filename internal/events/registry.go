// ABOUTME: Discriminator-to-decoder registry used by subscribers.
// ABOUTME: Subscribers decode only the kinds they registered and skip the rest.

package events

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DecodeFunc decodes a variant's data object. The options carry the parsed
// envelope fields and must be passed to the variant constructor.
type DecodeFunc func(data json.RawMessage, opts []Option) (Event, error)

// Registry maps discriminators to decoders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Kind]DecodeFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Kind]DecodeFunc)}
}

// DefaultRegistry returns a registry that decodes every built-in variant.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for kind, fn := range builtinDecoders {
		r.decoders[kind] = fn
	}
	return r
}

// RegistryFor returns a registry that decodes only the given built-in kinds.
func RegistryFor(kinds ...Kind) (*Registry, error) {
	r := NewRegistry()
	for _, kind := range kinds {
		fn, ok := builtinDecoders[kind]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		if err := r.Register(kind, fn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

var builtinDecoders = map[Kind]DecodeFunc{
	KindMessageReceived:      decodeMessageReceived,
	KindAssistantResponded:   decodeAssistantResponded,
	KindConversationArchived: decodeConversationArchived,
	KindMessageFlagged:       decodeMessageFlagged,
}

// Register adds a decoder. Registering the same kind twice is an error.
func (r *Registry) Register(kind Kind, fn DecodeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[kind]; exists {
		return fmt.Errorf("decoder for %q already registered", kind)
	}
	r.decoders[kind] = fn
	return nil
}

// Has reports whether kind has a decoder.
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[kind]
	return ok
}

// Decode parses a wire payload. Unregistered kinds return ErrUnknownKind,
// newer schemas ErrUnsupportedSchema, and unparseable input ErrMalformed.
func (r *Registry) Decode(payload []byte) (Event, error) {
	var w wireEnvelope
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if w.Schema < 1 || w.Schema > SchemaVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedSchema, w.Schema)
	}

	r.mu.RLock()
	fn, ok := r.decoders[w.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}

	opts, err := envelopeOptions(w)
	if err != nil {
		return nil, err
	}
	ev, err := fn(w.Data, opts)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", w.Type, err)
	}
	return ev, nil
}
