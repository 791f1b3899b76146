// Package search wraps the web search provider that discovery and research
// are built on. The provider is credit- and rate-limited, so every call goes
// through a process-wide concurrency gate and a bounded retry policy.
package search

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the provider could not serve a call after
// retries. Callers treat the affected query or page as missing rather than
// failing the run.
var ErrUnavailable = errors.New("search: provider unavailable")

// Result is one search hit.
type Result struct {
	Title       string
	URL         string
	PublishedAt string
	Highlights  []string
	Summary     string
}

// Query describes one search call.
type Query struct {
	Text           string
	NumResults     int
	IncludeDomains []string // restrict hits to these domains, empty = open web
	WantText       bool
	WantHighlights bool
}

// PageContent is cleaned page text for one URL.
type PageContent struct {
	URL   string
	Title string
	Text  string
}

// Searcher finds web results for a query.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// ContentFetcher pulls cleaned page text for a set of URLs.
type ContentFetcher interface {
	Contents(ctx context.Context, urls []string, maxChars int) ([]PageContent, error)
}
