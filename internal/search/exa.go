package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

const (
	searchTimeout   = 40 * time.Second
	contentsTimeout = 60 * time.Second
	maxRetries      = 3
)

// ExaClient talks to the Exa search API. All calls from all runs share one
// semaphore so the process never exceeds the account's concurrency budget,
// and retriable responses (429, 5xx) are retried with exponential backoff
// and jitter before the call is reported unavailable.
type ExaClient struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	sem           *semaphore.Weighted
	logger        *slog.Logger
	retryInterval time.Duration
}

// NewExaClient creates an Exa client. maxConcurrency bounds in-flight calls
// across the whole process.
func NewExaClient(apiKey, baseURL string, maxConcurrency int, logger *slog.Logger) *ExaClient {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &ExaClient{
		apiKey:        apiKey,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: contentsTimeout},
		sem:           semaphore.NewWeighted(int64(maxConcurrency)),
		logger:        logger,
		retryInterval: time.Second,
	}
}

type exaSearchRequest struct {
	Query          string   `json:"query"`
	Type           string   `json:"type"`
	NumResults     int      `json:"numResults"`
	IncludeDomains []string `json:"includeDomains,omitempty"`
	Text           bool     `json:"text,omitempty"`
	Highlights     bool     `json:"highlights,omitempty"`
}

type exaResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	PublishedDate string   `json:"publishedDate"`
	Highlights    []string `json:"highlights"`
	Summary       string   `json:"summary"`
	Text          string   `json:"text"`
}

type exaSearchResponse struct {
	Results []exaResult `json:"results"`
}

type exaContentsRequest struct {
	URLs []string        `json:"urls"`
	Text exaContentsText `json:"text"`
}

type exaContentsText struct {
	MaxCharacters   int  `json:"maxCharacters"`
	IncludeHTMLTags bool `json:"includeHtmlTags"`
}

// Search calls POST /search.
func (c *ExaClient) Search(ctx context.Context, q Query) ([]Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrUnavailable)
	}
	numResults := q.NumResults
	if numResults <= 0 {
		numResults = 8
	}

	body := exaSearchRequest{
		Query:          q.Text,
		Type:           "auto",
		NumResults:     numResults,
		IncludeDomains: q.IncludeDomains,
		Text:           q.WantText,
		Highlights:     q.WantHighlights,
	}

	var parsed exaSearchResponse
	if err := c.post(ctx, "/search", searchTimeout, body, &parsed); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.URL,
			PublishedAt: r.PublishedDate,
			Highlights:  r.Highlights,
			Summary:     r.Summary,
		})
	}
	if len(results) == 0 {
		c.logger.Debug("search: no results", "query", q.Text)
	}
	return results, nil
}

// Contents calls POST /contents for cleaned page text.
func (c *ExaClient) Contents(ctx context.Context, urls []string, maxChars int) ([]PageContent, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrUnavailable)
	}
	if len(urls) == 0 {
		return nil, nil
	}
	if maxChars <= 0 {
		maxChars = 6000
	}

	body := exaContentsRequest{
		URLs: urls,
		Text: exaContentsText{MaxCharacters: maxChars, IncludeHTMLTags: false},
	}

	var parsed exaSearchResponse
	if err := c.post(ctx, "/contents", contentsTimeout, body, &parsed); err != nil {
		return nil, err
	}

	pages := make([]PageContent, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		pages = append(pages, PageContent{URL: r.URL, Title: r.Title, Text: r.Text})
	}
	return pages, nil
}

// post sends one API call under the global concurrency gate. The gate is
// held across retries so a throttled provider is not hammered from other
// slots while this call backs off. Retriable failures (429, 5xx, transport
// errors) surface as ErrUnavailable once retries are exhausted; other HTTP
// statuses fail immediately without the ErrUnavailable mark.
func (c *ExaClient) post(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("search: acquire slot: %w", err)
	}
	defer c.sem.Release(1)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("search: marshal request: %w", err)
	}

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("search: create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: send request: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.logger.Warn("search: retriable provider error",
				"path", path, "status", resp.StatusCode)
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("search: status %d: %s", resp.StatusCode, string(respBody)))
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("search: unmarshal response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxElapsedTime = 0 // the retry count bounds the attempts

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}
