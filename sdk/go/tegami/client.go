package tegami

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Tegami server (e.g. "http://localhost:8787").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used. Timeline streaming always uses a
	// separate client without the request timeout; cancel streams via ctx.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Tegami outreach pipeline API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client // no timeout; SSE streams outlive any request deadline
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tegami: BaseURL is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: baseURL,
		client:  httpClient,
		stream:  &http.Client{Transport: httpClient.Transport},
	}, nil
}

// StartDiscovery kicks off a pipeline run and returns its id. The run
// executes in the background; follow it with Timeline or poll GetRun.
func (c *Client) StartDiscovery(ctx context.Context, req StartDiscoveryRequest) (uuid.UUID, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.post(ctx, "/v1/discovery", req, &resp); err != nil {
		return uuid.Nil, err
	}
	runID, err := uuid.Parse(resp.RunID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("tegami: parse run id %q: %w", resp.RunID, err)
	}
	return runID, nil
}

// GetRun retrieves the current snapshot of a run.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error) {
	var resp RunSnapshot
	if err := c.get(ctx, "/v1/runs/"+runID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForRun polls GetRun until the run reaches a terminal status or ctx
// is cancelled. A non-positive interval defaults to one second.
func (c *Client) WaitForRun(ctx context.Context, runID uuid.UUID, interval time.Duration) (*RunSnapshot, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if snap.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StartOutreach asks the writer to draft emails for a completed run.
// Drafting runs in the background on its own timeline segment; stream it
// with Timeline(resp.SegmentRunID) or poll GetRun on the original run.
func (c *Client) StartOutreach(ctx context.Context, runID uuid.UUID, req OutreachRequest) (*OutreachStarted, error) {
	var resp OutreachStarted
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/outreach", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Timeline streams a run's events, calling fn for each one, history first
// and then live. It returns nil when the stream ends with the terminal
// event, fn's error if fn fails, or ctx's error on cancellation.
func (c *Client) Timeline(ctx context.Context, runID uuid.UUID, fn func(TimelineEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+runID.String()+"/timeline", nil)
	if err != nil {
		return fmt.Errorf("tegami: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("tegami: GET %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return parseErrorResponse(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Frame boundary: dispatch accumulated data.
			if data.Len() > 0 {
				var ev TimelineEvent
				if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
					return fmt.Errorf("tegami: decode timeline event: %w", err)
				}
				data.Reset()
				if err := fn(ev); err != nil {
					return err
				}
				if ev.Type == EventEnd {
					return nil
				}
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event: and comment (keepalive) lines carry no payload.
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("tegami: read timeline stream: %w", err)
	}
	// The server closes the stream after the terminal event; reaching EOF
	// without one means the stream was cut short.
	return fmt.Errorf("tegami: timeline stream ended without terminal event")
}

// UploadResume uploads a resume document (PDF or plain text) and returns
// a token referencing the extracted text. Pass the token as ResumeToken
// when starting discovery.
func (c *Client) UploadResume(ctx context.Context, data []byte) (*UploadResumeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/resume", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tegami: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp UploadResumeResponse
	if err := c.doRequest(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveItem stores a company or email ("company" / "email") for later.
// The item is marshalled to JSON. Returns the saved item's id.
func (c *Client) SaveItem(ctx context.Context, kind string, item any) (int64, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("tegami: marshal item: %w", err)
	}
	body := map[string]any{"kind": kind, "item": json.RawMessage(raw)}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "/v1/saved", body, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// ListSaved retrieves saved items, optionally filtered by kind.
// A non-positive limit uses the server default.
func (c *Client) ListSaved(ctx context.Context, kind string, limit int) ([]SavedItem, error) {
	params := url.Values{}
	if kind != "" {
		params.Set("kind", kind)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/saved"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Items []SavedItem `json:"items"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Health checks the server's health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tegami: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("tegami: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tegami: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tegami: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tegami: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("tegami: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
