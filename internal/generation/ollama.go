// ABOUTME: Ollama generator using the OpenAI-compatible chat completions endpoint.
// ABOUTME: Non-2xx responses, transport errors and empty choices are generation failures.

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"
)

// Ollama calls an Ollama server.
type Ollama struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOllama creates an Ollama generator. timeout bounds each HTTP call in
// addition to any context deadline; zero leaves it to the context.
func NewOllama(baseURL string, timeout time.Duration, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "ollama"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends the history and returns the first choice's content.
func (o *Ollama) Generate(ctx context.Context, history []Turn, model string) (string, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	req := chatRequest{Model: model, Stream: false}
	for _, t := range history {
		req.Messages = append(req.Messages, chatMessage{Role: t.Role.String(), Content: t.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: calling ollama: %w", ErrGeneration, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", failure("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding ollama response: %w", ErrGeneration, err)
	}
	if len(out.Choices) == 0 {
		return "", failure("ollama returned no choices")
	}
	content := out.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", failure("ollama returned empty content")
	}

	o.logger.Debug("generated reply",
		"model", model,
		"history", len(history),
		"duration", time.Since(start))
	return content, nil
}
