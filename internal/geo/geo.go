// Package geo normalizes free-form city names through the Google Maps
// geocoding API. Lookups are best effort: a missing key or an unknown
// address yields no location rather than an error, and callers fall back
// to the raw city string.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Location is a resolved address.
type Location struct {
	Lat       float64
	Lng       float64
	Formatted string
}

// Client calls the geocoding API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a geocoding client. An empty apiKey disables lookups.
func NewClient(apiKey, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves an address. A nil location with a nil error means the
// lookup was skipped or found nothing.
func (c *Client) Geocode(ctx context.Context, address string) (*Location, error) {
	if c.apiKey == "" || address == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/maps/api/geocode/json?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geo: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("geo: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo: unexpected status %d", resp.StatusCode)
	}

	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("geo: unmarshal response: %w", err)
	}

	if parsed.Status != "OK" || len(parsed.Results) == 0 {
		c.logger.Debug("geo: no result",
			"address", address, "status", parsed.Status, "error", parsed.ErrorMessage)
		return nil, nil
	}

	res := parsed.Results[0]
	formatted := res.FormattedAddress
	if formatted == "" {
		formatted = address
	}
	return &Location{
		Lat:       res.Geometry.Location.Lat,
		Lng:       res.Geometry.Location.Lng,
		Formatted: formatted,
	}, nil
}
