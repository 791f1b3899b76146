package tegami

// SearchQuery describes one web search call.
// It mirrors the internal search query for use in the public Searcher
// interface. No internal package imports; safe to use from outside the
// module.
type SearchQuery struct {
	Text           string
	NumResults     int
	IncludeDomains []string // restrict hits to these domains, empty = open web
	WantText       bool
	WantHighlights bool
}

// SearchResult is one search hit.
type SearchResult struct {
	Title       string
	URL         string
	PublishedAt string
	Highlights  []string
	Summary     string
}

// PageContent is cleaned page text for one URL.
type PageContent struct {
	URL   string
	Title string
	Text  string
}

// CompleteRequest describes a single-turn chat completion.
type CompleteRequest struct {
	Model       string // overrides the client default when set
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Location is a resolved city address.
type Location struct {
	Lat       float64
	Lng       float64
	Formatted string
}
