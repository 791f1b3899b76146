package tegami

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Depth selects how wide discovery casts its net.
type Depth string

const (
	DepthLight    Depth = "light"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Run status values.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StartDiscoveryRequest is the request body for POST /v1/discovery.
type StartDiscoveryRequest struct {
	City        string `json:"city"`
	Role        string `json:"role"`
	ResumeToken string `json:"resume_token,omitempty"`
	Depth       Depth  `json:"depth,omitempty"`
	Research    *bool  `json:"research,omitempty"` // nil = server default
}

// OutreachRequest is the request body for POST /v1/runs/{run_id}/outreach.
type OutreachRequest struct {
	Count    int      `json:"count"`
	MinMatch *float64 `json:"min_match,omitempty"` // nil = server default
	Model    string   `json:"model,omitempty"`
}

// OutreachStarted is the response for POST /v1/runs/{run_id}/outreach.
// SegmentRunID is the timeline segment the drafts stream on; pass it to
// Timeline to follow the drafting live.
type OutreachStarted struct {
	RunID        uuid.UUID `json:"run_id"`
	SegmentRunID uuid.UUID `json:"segment_run_id"`
}

// RunSnapshot mirrors the server's run state for API consumers.
type RunSnapshot struct {
	ID      uuid.UUID              `json:"id"`
	Status  string                 `json:"status"`
	Phase   string                 `json:"phase"`
	Stages  []string               `json:"stages"`
	Outputs map[string]StageResult `json:"outputs,omitempty"`
	Error   *RunError              `json:"error,omitempty"`
	Created time.Time              `json:"created_at"`
	Updated time.Time              `json:"updated_at"`
}

// Terminal reports whether the run has finished, successfully or not.
func (s *RunSnapshot) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Companies returns the most enriched company list the snapshot holds:
// research output when present, discovery output otherwise.
func (s *RunSnapshot) Companies() []CompanyIntel {
	if out, ok := s.Outputs["research"]; ok && out.Research != nil {
		return out.Research.Companies
	}
	if out, ok := s.Outputs["discovery"]; ok && out.Discovery != nil {
		return out.Discovery.Companies
	}
	return nil
}

// Emails returns the drafted outreach emails, or nil before the writer ran.
func (s *RunSnapshot) Emails() []OutreachEmail {
	if out, ok := s.Outputs["writer"]; ok && out.Writer != nil {
		return out.Writer.Emails
	}
	return nil
}

// RunError describes why a run failed.
type RunError struct {
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StageResult is one stage's output. Exactly one of the variant fields is
// set, selected by Stage.
type StageResult struct {
	Stage     string           `json:"stage"`
	Discovery *DiscoveryOutput `json:"discovery,omitempty"`
	Research  *ResearchOutput  `json:"research,omitempty"`
	Writer    *WriterOutput    `json:"writer,omitempty"`
}

// DiscoveryOutput is the discovery stage's result.
type DiscoveryOutput struct {
	City          string         `json:"city"`
	Role          string         `json:"role"`
	Depth         string         `json:"depth"`
	Roles         []string       `json:"roles"`
	Companies     []CompanyIntel `json:"companies"`
	QueryHits     map[string]int `json:"query_hits,omitempty"`
	ResumeExcerpt string         `json:"resume_excerpt,omitempty"`
	FailedQueries int            `json:"failed_queries,omitempty"`
}

// ResearchOutput is the research stage's result.
type ResearchOutput struct {
	Companies    []CompanyIntel `json:"companies"`
	FacetsAsked  []string       `json:"facets_asked"`
	FailedFacets int            `json:"failed_facets,omitempty"`
}

// WriterOutput is the writer stage's result.
type WriterOutput struct {
	Emails       []OutreachEmail `json:"emails"`
	SegmentRunID string          `json:"segment_run_id,omitempty"`
}

// CompanyIntel is one discovered company with its match score and, after
// research, its intelligence facets.
type CompanyIntel struct {
	Name        string       `json:"name"`
	Homepage    string       `json:"homepage"`
	SourceURL   string       `json:"source_url"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	ContactHint string       `json:"contact_hint,omitempty"`
	Score       float64      `json:"score"`
	WhyMatch    string       `json:"why_match,omitempty"`
	MatchedKw   []string     `json:"matched_keywords,omitempty"`
	JobPosting  *JobPosting  `json:"job_posting,omitempty"`
	Intel       *IntelBundle `json:"intel,omitempty"`
}

// JobPosting is an open position found during discovery.
type JobPosting struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// IntelBundle groups the research facets for one company.
type IntelBundle struct {
	News       *Facet  `json:"news,omitempty"`
	TechStack  *Facet  `json:"tech_stack,omitempty"`
	Funding    *Facet  `json:"funding,omitempty"`
	Culture    *Facet  `json:"culture,omitempty"`
	Growth     *Facet  `json:"growth,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Facet is one researched aspect of a company.
type Facet struct {
	Summary string   `json:"summary"`
	Sources []string `json:"sources,omitempty"`
}

// OutreachEmail is one drafted email.
type OutreachEmail struct {
	Company string `json:"company"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Mailto  string `json:"mailto"`
	JobURL  string `json:"job_url,omitempty"`
}

// TimelineEvent is one frame of a run's event stream.
type TimelineEvent struct {
	RunID   uuid.UUID       `json:"run_id"`
	Seq     int64           `json:"seq"`
	Agent   string          `json:"agent"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Level   string          `json:"level"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Timeline event types.
const (
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventSearchPass     = "search_pass"
	EventCompaniesFound = "companies_found"
	EventFacetFetched   = "facet_fetched"
	EventEmailDrafted   = "email_drafted"
	EventDegraded       = "degraded"
	EventStageFailed    = "stage_failed"
	EventEnd            = "end"
)

// UploadResumeResponse is the response for POST /v1/resume. The token
// references the extracted text server-side; pass it as ResumeToken when
// starting discovery.
type UploadResumeResponse struct {
	Token    string `json:"token"`
	Chars    int    `json:"chars"`
	Filename string `json:"filename,omitempty"`
}

// SavedItem is one saved company or email.
type SavedItem struct {
	ID      int64           `json:"id"`
	Kind    string          `json:"kind"`
	Item    json.RawMessage `json:"item"`
	SavedAt time.Time       `json:"saved_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	ActiveRuns int    `json:"active_runs"`
	SavedStore string `json:"saved_store"`
	Uptime     int64  `json:"uptime_seconds"`
}
