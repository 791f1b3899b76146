package tegami

import (
	"context"
	"net/http"
)

// Searcher is a web search provider for the discovery and research stages.
// When provided via WithSearcher, it replaces the Exa client for both
// search queries and page content fetches. Implementations are called
// concurrently and must be safe for concurrent use; a call that fails
// degrades the affected query or facet, never the whole run.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	Contents(ctx context.Context, urls []string, maxChars int) ([]PageContent, error)
}

// Chat produces text completions for the writer stage.
// When provided via WithChat, it replaces the configured OpenAI-compatible
// or Anthropic client. A failed call degrades that one email to a template
// draft.
type Chat interface {
	Complete(ctx context.Context, req CompleteRequest) (string, error)
}

// Embedder generates vector embeddings from text, one vector per input, in
// input order. When provided via WithEmbedder, it replaces the configured
// HTTP embedding client for match scoring.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Geocoder normalizes a free-form city string before discovery queries.
// When provided via WithGeocoder, it replaces the Google Maps client.
// A nil location with a nil error means the lookup found nothing; the raw
// city string is used instead.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Location, error)
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including
// /health and /mcp.
type Middleware func(http.Handler) http.Handler
