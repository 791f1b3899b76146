// Package llm provides chat completion and embedding clients for the
// agents. A Chat interface fronts the OpenAI-compatible and Anthropic
// implementations so the provider can be swapped by configuration without
// changing consumers.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable marks failures where the provider could not be reached or
// was throttled, as opposed to a rejected request.
var ErrUnavailable = errors.New("llm: provider unavailable")

const defaultMaxTokens = 2048

// CompleteRequest describes a single-turn completion.
type CompleteRequest struct {
	Model       string // overrides the client default when set
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Chat produces text completions.
type Chat interface {
	Complete(ctx context.Context, req CompleteRequest) (string, error)
}

// Embedder generates vector embeddings from text. Implementations return
// one vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
