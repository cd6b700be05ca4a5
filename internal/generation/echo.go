// ABOUTME: Echo generator that repeats the latest user message.
// ABOUTME: Needs no model server; used for local runs and tests.

package generation

import (
	"context"
	"fmt"

	"github.com/2389/fluxmind/internal/domain"
)

// Echo replies with "echo: " followed by the latest user message.
type Echo struct{}

// Generate returns the echoed reply, or fails when there is no user message.
func (Echo) Generate(ctx context.Context, history []Turn, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			return "echo: " + history[i].Content, nil
		}
	}
	return "", failure("no user message to echo")
}
