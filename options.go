package tegami

import (
	"log/slog"
	"net/http"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port        int
	logger      *slog.Logger
	version     string
	searcher    Searcher
	chat        Chat
	embedder    Embedder
	geocoder    Geocoder
	extraRoutes map[string]http.Handler
	middlewares []Middleware
}

// WithPort overrides the TCP port from config (TEGAMI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithSearcher replaces the Exa web search provider for both discovery
// queries and page content fetches. When set, TEGAMI_EXA_API_KEY is no
// longer required.
func WithSearcher(s Searcher) Option {
	return func(o *resolvedOptions) { o.searcher = s }
}

// WithChat replaces the configured chat model used by the writer stage.
func WithChat(c Chat) Option {
	return func(o *resolvedOptions) { o.chat = c }
}

// WithEmbedder replaces the configured embedding provider used for match
// scoring. Without one (option or TEGAMI_EMBED_API_KEY), scoring falls
// back to keyword overlap.
func WithEmbedder(e Embedder) Option {
	return func(o *resolvedOptions) { o.embedder = e }
}

// WithGeocoder replaces the Google Maps city normalizer.
func WithGeocoder(g Geocoder) Option {
	return func(o *resolvedOptions) { o.geocoder = g }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Patterns use net/http ServeMux syntax. Multiple calls merge; on a
// duplicate pattern the last call wins.
func WithExtraRoutes(routes map[string]http.Handler) Option {
	return func(o *resolvedOptions) {
		if o.extraRoutes == nil {
			o.extraRoutes = make(map[string]http.Handler, len(routes))
		}
		for pattern, handler := range routes {
			o.extraRoutes[pattern] = handler
		}
	}
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
