package model

import (
	"net/url"
	"strings"
)

// CompanyIntel is one discovered company. Immutable once its producing
// stage completes; research attaches Intel rather than rewriting fields.
type CompanyIntel struct {
	Name        string       `json:"name"`
	Homepage    string       `json:"homepage"`
	SourceURL   string       `json:"source_url"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	ContactHint string       `json:"contact_hint,omitempty"`
	Score       float64      `json:"score"` // [0,100]
	WhyMatch    string       `json:"why_match,omitempty"`
	MatchedKw   []string     `json:"matched_keywords,omitempty"`
	JobPosting  *JobPosting  `json:"job_posting,omitempty"`
	Intel       *IntelBundle `json:"intel,omitempty"`
}

func (c CompanyIntel) clone() CompanyIntel {
	cp := c
	cp.Tags = append([]string(nil), c.Tags...)
	cp.MatchedKw = append([]string(nil), c.MatchedKw...)
	if c.JobPosting != nil {
		j := *c.JobPosting
		cp.JobPosting = &j
	}
	if c.Intel != nil {
		b := c.Intel.clone()
		cp.Intel = &b
	}
	return cp
}

// Domain returns the company's identity key: its normalized homepage domain.
func (c CompanyIntel) Domain() string {
	return NormalizeDomain(c.Homepage)
}

// NormalizeDomain reduces a URL to its dedup key: lowercase host with any
// "www." prefix stripped. Returns "" for unparseable input.
func NormalizeDomain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// JobPosting is an open position attached to a company during discovery.
type JobPosting struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// Facet is one fetched intelligence facet.
type Facet struct {
	Summary string   `json:"summary"`
	Sources []string `json:"sources,omitempty"`
}

// IntelBundle carries the research facets for one company. A nil facet
// means unknown: the provider failed or the facet wasn't requested.
type IntelBundle struct {
	News      *Facet `json:"news,omitempty"`
	TechStack *Facet `json:"tech_stack,omitempty"`
	Funding   *Facet `json:"funding,omitempty"`
	Culture   *Facet `json:"culture,omitempty"`
	Growth    *Facet `json:"growth,omitempty"`

	// Confidence is fetched facets over requested facets, in [0,1].
	Confidence float64 `json:"confidence"`
}

func (b IntelBundle) clone() IntelBundle {
	cp := b
	cp.News = cloneFacet(b.News)
	cp.TechStack = cloneFacet(b.TechStack)
	cp.Funding = cloneFacet(b.Funding)
	cp.Culture = cloneFacet(b.Culture)
	cp.Growth = cloneFacet(b.Growth)
	return cp
}

func cloneFacet(f *Facet) *Facet {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Sources = append([]string(nil), f.Sources...)
	return &cp
}

// FacetName identifies one research facet.
type FacetName string

const (
	FacetNews      FacetName = "news"
	FacetTechStack FacetName = "tech_stack"
	FacetFunding   FacetName = "funding"
	FacetCulture   FacetName = "culture"
	FacetGrowth    FacetName = "growth"
)

// AllFacets is the full facet set in request order.
var AllFacets = []FacetName{FacetNews, FacetTechStack, FacetFunding, FacetCulture, FacetGrowth}

// OutreachEmail is one generated outreach draft.
type OutreachEmail struct {
	Company string `json:"company"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Mailto  string `json:"mailto"`
	JobURL  string `json:"job_url,omitempty"`
}

// DiscoveryOutput is the discovery stage's structured output.
type DiscoveryOutput struct {
	City      string         `json:"city"`
	Role      string         `json:"role"`
	Depth     string         `json:"depth"`
	Roles     []string       `json:"roles"` // requested role plus related roles searched
	Companies []CompanyIntel `json:"companies"`

	// QueryHits maps each fan-out query to its raw hit count; zero-hit
	// queries are the degradations reported on the timeline.
	QueryHits     map[string]int `json:"query_hits,omitempty"`
	ResumeExcerpt string         `json:"resume_excerpt,omitempty"`
	FailedQueries int            `json:"failed_queries,omitempty"`
}

func (d DiscoveryOutput) clone() DiscoveryOutput {
	cp := d
	cp.Roles = append([]string(nil), d.Roles...)
	cp.Companies = make([]CompanyIntel, len(d.Companies))
	for i, c := range d.Companies {
		cp.Companies[i] = c.clone()
	}
	if d.QueryHits != nil {
		cp.QueryHits = make(map[string]int, len(d.QueryHits))
		for k, v := range d.QueryHits {
			cp.QueryHits[k] = v
		}
	}
	return cp
}

// ResearchOutput is the research stage's structured output: the discovery
// companies with intel bundles attached.
type ResearchOutput struct {
	Companies    []CompanyIntel `json:"companies"`
	FacetsAsked  []FacetName    `json:"facets_asked"`
	FailedFacets int            `json:"failed_facets,omitempty"`
}

func (r ResearchOutput) clone() ResearchOutput {
	cp := r
	cp.Companies = make([]CompanyIntel, len(r.Companies))
	for i, c := range r.Companies {
		cp.Companies[i] = c.clone()
	}
	cp.FacetsAsked = append([]FacetName(nil), r.FacetsAsked...)
	return cp
}

// WriterOutput is the writer stage's structured output.
type WriterOutput struct {
	Emails []OutreachEmail `json:"emails"`

	// SegmentRunID is the timeline segment the drafts were streamed on.
	// Writer re-invocations get a fresh segment; earlier segments remain
	// readable under their own ids.
	SegmentRunID string `json:"segment_run_id,omitempty"`
}

func (w WriterOutput) clone() WriterOutput {
	cp := w
	cp.Emails = append([]OutreachEmail(nil), w.Emails...)
	return cp
}
