// ABOUTME: Tests for the echo generator.
// ABOUTME: Echoes the latest user turn and fails without one.

package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fluxmind/internal/domain"
)

func TestEcho(t *testing.T) {
	reply, err := Echo{}.Generate(context.Background(), []Turn{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "echo: first"},
		{Role: domain.RoleUser, Content: "second"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "echo: second", reply)

	_, err = Echo{}.Generate(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestTurnsFromMessages(t *testing.T) {
	turns := TurnsFromMessages([]domain.Message{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleAssistant, Content: "b"},
	})
	assert.Equal(t, []Turn{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleAssistant, Content: "b"},
	}, turns)
}
