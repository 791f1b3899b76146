package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicChat wraps the Anthropic Messages API.
type AnthropicChat struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicChat creates a chat client with a default model.
func NewAnthropicChat(apiKey, model string, logger *slog.Logger) *AnthropicChat {
	if model == "" {
		model = string(anthropic.ModelClaude3_5Sonnet20241022)
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicChat{client: &client, model: model, logger: logger}
}

// Complete performs a single-turn completion and returns the concatenated
// text blocks of the response.
func (c *AnthropicChat) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapAnthropicErr(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("llm: empty completion from %s", model)
	}
	return sb.String(), nil
}

func wrapAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: anthropic status %d", ErrUnavailable, apiErr.StatusCode)
		}
		return fmt.Errorf("llm: anthropic: %w", err)
	}
	return fmt.Errorf("%w: anthropic: %v", ErrUnavailable, err)
}
