package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Field length limits for client-supplied strings. These bound the search
// queries and LLM prompts the values flow into.
const (
	MaxCityLen = 120
	MaxRoleLen = 160

	MinEmailCount     = 1
	MaxEmailCount     = 10
	DefaultEmailCount = 5
)

// Depth selects how wide discovery casts its net.
type Depth string

const (
	DepthLight    Depth = "light"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ParseDepth maps a client string to a Depth, defaulting to standard.
func ParseDepth(s string) Depth {
	switch Depth(strings.ToLower(strings.TrimSpace(s))) {
	case DepthLight:
		return DepthLight
	case DepthDeep:
		return DepthDeep
	default:
		return DepthStandard
	}
}

// DepthPreset bounds how much work one run may do at a given depth.
type DepthPreset struct {
	ResultsPerQuery int // search hits requested per query
	MaxCompanies    int // companies kept after merge and dedup
	ContentChars    int // page text fetched per source, and the research summary budget
}

// Preset returns the resource caps for the depth.
func (d Depth) Preset() DepthPreset {
	switch d {
	case DepthLight:
		return DepthPreset{ResultsPerQuery: 15, MaxCompanies: 8, ContentChars: 6000}
	case DepthDeep:
		return DepthPreset{ResultsPerQuery: 45, MaxCompanies: 20, ContentChars: 12000}
	default:
		return DepthPreset{ResultsPerQuery: 30, MaxCompanies: 15, ContentChars: 9000}
	}
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeNoEligibleCompanies = "NO_ELIGIBLE_COMPANIES"
	ErrCodeResumeUnparseable   = "RESUME_UNPARSEABLE"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeRateLimited         = "RATE_LIMITED"
)

// StartDiscoveryRequest is the request body for POST /v1/discovery.
type StartDiscoveryRequest struct {
	City        string `json:"city"`
	Role        string `json:"role"`
	ResumeToken string `json:"resume_token,omitempty"`
	Depth       string `json:"depth,omitempty"`
	Research    *bool  `json:"research,omitempty"` // nil = server default
}

// Validate checks required fields and limits.
func (r StartDiscoveryRequest) Validate() error {
	if strings.TrimSpace(r.City) == "" {
		return fmt.Errorf("city is required")
	}
	if len(r.City) > MaxCityLen {
		return fmt.Errorf("city exceeds maximum length of %d characters", MaxCityLen)
	}
	if strings.TrimSpace(r.Role) == "" {
		return fmt.Errorf("role is required")
	}
	if len(r.Role) > MaxRoleLen {
		return fmt.Errorf("role exceeds maximum length of %d characters", MaxRoleLen)
	}
	return nil
}

// StartDiscoveryResponse is the response for POST /v1/discovery.
type StartDiscoveryResponse struct {
	RunID string `json:"run_id"`
}

// StartWriterRequest is the request body for POST /v1/runs/{run_id}/outreach.
type StartWriterRequest struct {
	Count    int      `json:"count"`
	MinMatch *float64 `json:"min_match,omitempty"` // nil = server default
	Model    string   `json:"model,omitempty"`
}

// Validate checks count and threshold bounds.
func (r StartWriterRequest) Validate() error {
	if r.Count < MinEmailCount || r.Count > MaxEmailCount {
		return fmt.Errorf("count must be between %d and %d", MinEmailCount, MaxEmailCount)
	}
	if r.MinMatch != nil && (*r.MinMatch < 0 || *r.MinMatch > 100) {
		return fmt.Errorf("min_match must be in [0,100]")
	}
	return nil
}

// StartWriterResponse is the response for POST /v1/runs/{run_id}/outreach.
type StartWriterResponse struct {
	RunID        string `json:"run_id"`
	SegmentRunID string `json:"segment_run_id"`
}

// RunSnapshot is the response for GET /v1/runs/{run_id}.
type RunSnapshot struct {
	ID      string                `json:"id"`
	Status  RunStatus             `json:"status"`
	Phase   Phase                 `json:"phase"`
	Stages  []Stage               `json:"stages"`
	Outputs map[Stage]StageResult `json:"outputs,omitempty"`
	Error   *RunError             `json:"error,omitempty"`
	Created time.Time             `json:"created_at"`
	Updated time.Time             `json:"updated_at"`
}

// SnapshotFromRun converts a store run into its wire form.
func SnapshotFromRun(r *Run) RunSnapshot {
	return RunSnapshot{
		ID:      r.ID.String(),
		Status:  r.Status,
		Phase:   r.Phase,
		Stages:  r.Stages,
		Outputs: r.Outputs,
		Error:   r.Error,
		Created: r.CreatedAt,
		Updated: r.UpdatedAt,
	}
}

// UploadResumeResponse is the response for POST /v1/resume.
type UploadResumeResponse struct {
	Token    string `json:"token"`
	Chars    int    `json:"chars"`
	Filename string `json:"filename,omitempty"`
}

// SavedKind is the closed set of saved-item kinds.
type SavedKind string

const (
	SavedKindCompany SavedKind = "company"
	SavedKindEmail   SavedKind = "email"
)

// SaveItemRequest is the request body for POST /v1/saved.
type SaveItemRequest struct {
	Kind SavedKind       `json:"kind"`
	Item json.RawMessage `json:"item"`
}

// Validate checks the kind tag and payload presence.
func (r SaveItemRequest) Validate() error {
	switch r.Kind {
	case SavedKindCompany, SavedKindEmail:
	default:
		return fmt.Errorf("kind must be %q or %q", SavedKindCompany, SavedKindEmail)
	}
	if len(r.Item) == 0 || string(r.Item) == "null" {
		return fmt.Errorf("item is required")
	}
	if !json.Valid(r.Item) {
		return fmt.Errorf("item must be valid JSON")
	}
	return nil
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	ActiveRuns int    `json:"active_runs"`
	SavedStore string `json:"saved_store"`
	Uptime     int64  `json:"uptime_seconds"`
}
