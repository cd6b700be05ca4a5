// ABOUTME: Gemini generator built on google.golang.org/genai.
// ABOUTME: Maps assistant turns to the model role and system turns to the system instruction.

package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/2389/fluxmind/internal/domain"
)

// DefaultGeminiModel is used when no model is given.
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the slice of *genai.Models the Gemini generator uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates replies with a Gemini model.
type Gemini struct {
	models contentGenerator
	logger *slog.Logger
}

// NewGemini creates a Vertex AI backed generator for project and location.
func NewGemini(ctx context.Context, project, location string, logger *slog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return newGemini(client.Models, logger), nil
}

func newGemini(models contentGenerator, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		models: models,
		logger: logger.With("component", "gemini"),
	}
}

// Generate sends the history as alternating user/model contents.
func (g *Gemini) Generate(ctx context.Context, history []Turn, model string) (string, error) {
	if model == "" {
		model = DefaultGeminiModel
	}

	var (
		contents []*genai.Content
		system   []string
	)
	for _, t := range history {
		switch t.Role {
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		case domain.RoleSystem:
			system = append(system, t.Content)
		default:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", failure("no user or assistant turns to send")
	}

	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	resp, err := g.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate content: %w", ErrGeneration, err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", failure("gemini returned empty text")
	}

	g.logger.Debug("generated reply", "model", model, "history", len(history))
	return text, nil
}
