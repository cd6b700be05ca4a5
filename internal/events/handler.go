// ABOUTME: Exhaustive per-variant dispatch for consumers.
// ABOUTME: Handler has one method per variant so new variants break callers at compile time.

package events

import (
	"context"
	"fmt"
)

// Handler processes each event variant.
type Handler interface {
	HandleMessageReceived(ctx context.Context, ev MessageReceived) error
	HandleAssistantResponded(ctx context.Context, ev AssistantResponded) error
	HandleConversationArchived(ctx context.Context, ev ConversationArchived) error
	HandleMessageFlagged(ctx context.Context, ev MessageFlagged) error
}

// Dispatch routes ev to the matching Handler method.
func Dispatch(ctx context.Context, h Handler, ev Event) error {
	switch e := ev.(type) {
	case MessageReceived:
		return h.HandleMessageReceived(ctx, e)
	case AssistantResponded:
		return h.HandleAssistantResponded(ctx, e)
	case ConversationArchived:
		return h.HandleConversationArchived(ctx, e)
	case MessageFlagged:
		return h.HandleMessageFlagged(ctx, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, ev)
	}
}
