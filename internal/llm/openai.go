package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIChat wraps the OpenAI Chat Completions API. Pointing baseURL at an
// OpenAI-compatible gateway (DeepSeek, a local proxy) works unchanged.
type OpenAIChat struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIChat creates a chat client with a default model.
func NewOpenAIChat(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIChat {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIChat{client: &client, model: model, logger: logger}
}

// Complete performs a single-turn completion and returns the message text.
func (c *OpenAIChat) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               model,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return "", wrapOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty completion from %s", model)
	}
	return resp.Choices[0].Message.Content, nil
}

// wrapOpenAIErr classifies SDK errors. Throttling, server faults and
// transport failures read as ErrUnavailable; rejected requests do not.
func wrapOpenAIErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: openai status %d", ErrUnavailable, apiErr.StatusCode)
		}
		return fmt.Errorf("llm: openai: %w", err)
	}
	return fmt.Errorf("%w: openai: %v", ErrUnavailable, err)
}
