// ABOUTME: Generator contract and history conversion.
// ABOUTME: Failures wrap ErrGeneration so callers can tell them from storage errors.

package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/fluxmind/internal/domain"
)

// ErrGeneration marks a failed or empty generation.
var ErrGeneration = errors.New("generation failed")

// Turn is one message of history passed to a Generator.
type Turn struct {
	Role    domain.Role
	Content string
}

// Generator produces an assistant reply for a conversation history.
type Generator interface {
	Generate(ctx context.Context, history []Turn, model string) (string, error)
}

// TurnsFromMessages converts stored messages to generator input.
func TurnsFromMessages(msgs []domain.Message) []Turn {
	turns := make([]Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = Turn{Role: m.Role, Content: m.Content}
	}
	return turns
}

// failure wraps err as a generation failure.
func failure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGeneration, fmt.Sprintf(format, args...))
}
