// Package discovery implements the discovery stage: concurrent role
// queries against a web search provider, content-based match scoring, and
// a merged company list keyed by normalized homepage domain.
//
// One call fans out over the requested role plus its related roles. Each
// query searches curated startup sources first and broadens to the open
// web when those run thin, fetches page content for the top hits, and
// scores candidates against the role profile. Queries degrade
// independently; the stage fails only when every query does.
package discovery

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/geo"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/roles"
	"github.com/ashita-ai/tegami/internal/search"
	"github.com/ashita-ai/tegami/internal/service/match"
	"github.com/ashita-ai/tegami/internal/telemetry"
)

const (
	// minSignalHits is the curated-source floor: a query with fewer hits
	// broadens to the open web before scoring.
	minSignalHits = 6

	maxQueryTerms    = 6
	maxResumeExcerpt = 2500
	maxTags          = 5
	previewNames     = 5
	maxProbed        = 10
)

// signalDomains are the curated startup sources searched before the open
// web. Hits from launch platforms carry a source bonus during scoring.
var signalDomains = []string{
	"producthunt.com/posts",
	"www.ycombinator.com/companies",
	"wellfound.com/company",
	"techcrunch.com",
	"crunchbase.com/organization",
}

// Geocoder normalizes a free-form city string. Implemented by geo.Client.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geo.Location, error)
}

// Deps wires an Agent.
type Deps struct {
	Catalog  *roles.Catalog
	Searcher search.Searcher
	Fetcher  search.ContentFetcher
	Scorer   *match.Scorer
	Geocoder Geocoder // optional, nil skips city normalization
	Fanout   int      // max concurrent queries and enrichment fetches
	Logger   *slog.Logger
}

// Agent implements the discovery stage.
type Agent struct {
	catalog    *roles.Catalog
	searcher   search.Searcher
	fetcher    search.ContentFetcher
	scorer     *match.Scorer
	geocoder   Geocoder
	httpClient *http.Client
	fanout     int
	logger     *slog.Logger

	fanoutFailures metric.Int64Counter
}

// NewAgent creates a discovery agent.
func NewAgent(deps Deps) *Agent {
	meter := telemetry.Meter("tegami/discovery")
	failures, _ := meter.Int64Counter("tegami.fanout.failures",
		metric.WithDescription("Fan-out items that produced no result"),
	)
	return &Agent{
		catalog:        deps.Catalog,
		searcher:       deps.Searcher,
		fetcher:        deps.Fetcher,
		scorer:         deps.Scorer,
		geocoder:       deps.Geocoder,
		httpClient:     &http.Client{Timeout: contactTimeout},
		fanout:         deps.Fanout,
		logger:         deps.Logger,
		fanoutFailures: failures,
	}
}

// roleQuery is one fan-out unit. The index fixes dedup priority: on a
// score tie the earlier query keeps the company.
type roleQuery struct {
	index   int
	role    string
	profile roles.Profile
	query   string // primary query, curated sources first
	broad   string // fallback query without the startup qualifier
}

// queryResult is one completed role query.
type queryResult struct {
	index      int
	query      string
	hits       int
	candidates []model.CompanyIntel
}

// Discover runs the full discovery flow for one run and streams progress
// onto events. The returned output holds up to the depth preset's company
// cap, each with a unique normalized homepage domain and a score in
// [0,100].
func (a *Agent) Discover(ctx context.Context, params engine.DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
	preset := params.Depth.Preset()
	city := a.normalizeCity(ctx, params.City)

	if !a.catalog.Known(params.Role) {
		a.logger.Info("discovery: unknown role, using generic profile", "role", params.Role)
		events <- model.NewEvent(model.AgentDiscovery, model.EventDegraded, model.LevelWarn,
			fmt.Sprintf("no profile for role %q, searching on the role words alone", params.Role),
			model.DegradedPayload{Subject: params.Role, Reason: "unknown role"})
	}

	roleNames := a.catalog.Expand(params.Role)
	queries := make([]roleQuery, len(roleNames))
	for i, name := range roleNames {
		profile := a.catalog.Lookup(name)
		primary, broad := buildQueries(city, profile, name)
		queries[i] = roleQuery{index: i, role: name, profile: profile, query: primary, broad: broad}
	}

	results, failures := engine.MapBounded(ctx, queries,
		func(ctx context.Context, q roleQuery) (queryResult, error) {
			return a.searchRole(ctx, q, city, preset, events)
		}, a.fanout)

	if len(results) == 0 {
		if len(failures) > 0 {
			return nil, fmt.Errorf("discovery: all %d role queries failed: %w", len(queries), failures[0].Err)
		}
		return nil, fmt.Errorf("discovery: no role queries ran")
	}

	// Merge in query submission order so dedup priority does not depend
	// on fan-out completion order.
	slices.SortFunc(results, func(x, y queryResult) int { return cmp.Compare(x.index, y.index) })

	queryHits := make(map[string]int, len(queries))
	failed := 0
	for _, f := range failures {
		failed++
		queryHits[f.Item.query] = 0
		a.logger.Warn("discovery: role query failed", "query", f.Item.query, "error", f.Err)
		events <- model.NewEvent(model.AgentDiscovery, model.EventDegraded, model.LevelWarn,
			fmt.Sprintf("query %q failed, continuing without it", f.Item.query),
			model.DegradedPayload{Subject: f.Item.query, Reason: f.Err.Error()})
	}
	for _, res := range results {
		queryHits[res.query] = res.hits
		if res.hits == 0 {
			failed++
			events <- model.NewEvent(model.AgentDiscovery, model.EventDegraded, model.LevelWarn,
				fmt.Sprintf("query %q matched nothing, continuing without it", res.query),
				model.DegradedPayload{Subject: res.query, Reason: "no results"})
		}
	}
	if failed > 0 {
		a.fanoutFailures.Add(ctx, int64(failed),
			metric.WithAttributes(attribute.String("stage", "discovery")))
	}

	companies := mergeCandidates(results)
	a.enrichContacts(ctx, companies)
	applyBonuses(companies)

	slices.SortFunc(companies, func(x, y model.CompanyIntel) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(x.Name), strings.ToLower(y.Name))
	})
	if len(companies) > preset.MaxCompanies {
		companies = companies[:preset.MaxCompanies]
	}

	if len(companies) > 0 {
		probed := min(len(companies), maxProbed)
		hiring := a.probeJobs(ctx, companies, roleNames)
		events <- model.NewEvent(model.AgentDiscovery, model.EventSearchPass, model.LevelInfo,
			fmt.Sprintf("checked open roles at %d companies, %d hiring", probed, hiring),
			model.SearchPassPayload{Query: "open roles", Hits: hiring})
	}

	preview := make([]string, 0, previewNames)
	for _, co := range companies[:min(len(companies), previewNames)] {
		preview = append(preview, co.Name)
	}
	events <- model.NewEvent(model.AgentDiscovery, model.EventCompaniesFound, model.LevelInfo,
		fmt.Sprintf("found %d companies", len(companies)),
		model.CompaniesFoundPayload{Count: len(companies), Preview: preview})

	a.logger.Info("discovery: done",
		"city", city, "roles", len(roleNames), "companies", len(companies), "failed_queries", failed)

	return &model.DiscoveryOutput{
		City:          city,
		Role:          params.Role,
		Depth:         string(params.Depth),
		Roles:         roleNames,
		Companies:     companies,
		QueryHits:     queryHits,
		ResumeExcerpt: capExcerpt(params.ResumeExcerpt, maxResumeExcerpt),
		FailedQueries: failed,
	}, nil
}

// normalizeCity resolves the free-form city through the geocoder so all
// queries share one canonical form. Best effort: any failure keeps the
// raw string.
func (a *Agent) normalizeCity(ctx context.Context, city string) string {
	if a.geocoder == nil {
		return city
	}
	loc, err := a.geocoder.Geocode(ctx, city)
	if err != nil {
		a.logger.Warn("discovery: geocode failed", "city", city, "error", err)
		return city
	}
	if loc == nil || loc.Formatted == "" {
		return city
	}
	return loc.Formatted
}

// searchRole runs one role query end to end: layered search, content
// fetch, scoring. A query with zero hits is a soft degradation, not an
// error.
func (a *Agent) searchRole(ctx context.Context, q roleQuery, city string, preset model.DepthPreset, events chan<- model.TimelineEvent) (queryResult, error) {
	hits, err := a.gatherHits(ctx, q, preset.ResultsPerQuery)
	if err != nil {
		return queryResult{}, err
	}

	events <- model.NewEvent(model.AgentDiscovery, model.EventSearchPass, model.LevelInfo,
		fmt.Sprintf("searched %q, %d hits", q.query, len(hits)),
		model.SearchPassPayload{Query: q.query, Hits: len(hits)})

	if len(hits) == 0 {
		return queryResult{index: q.index, query: q.query}, nil
	}

	candidates, err := a.buildCandidates(ctx, q, hits, city, preset)
	if err != nil {
		return queryResult{}, err
	}
	return queryResult{index: q.index, query: q.query, hits: len(hits), candidates: candidates}, nil
}

// gatherHits layers the search passes for one query: curated sources,
// then the open web, then the fallback query without the startup
// qualifier. Later passes union into earlier ones, curated hits first.
func (a *Agent) gatherHits(ctx context.Context, q roleQuery, numResults int) ([]search.Result, error) {
	hits, err := a.searcher.Search(ctx, search.Query{
		Text:           q.query,
		NumResults:     numResults,
		IncludeDomains: signalDomains,
		WantHighlights: true,
	})
	if err != nil {
		return nil, fmt.Errorf("curated search: %w", err)
	}
	if len(hits) >= minSignalHits {
		return hits, nil
	}

	open, err := a.searcher.Search(ctx, search.Query{Text: q.query, NumResults: numResults, WantHighlights: true})
	if err != nil {
		return nil, fmt.Errorf("open search: %w", err)
	}
	hits = unionByURL(hits, open)
	if len(hits) >= minSignalHits {
		return hits, nil
	}

	fallback, err := a.searcher.Search(ctx, search.Query{Text: q.broad, NumResults: numResults, WantHighlights: true})
	if err != nil {
		return nil, fmt.Errorf("fallback search: %w", err)
	}
	return unionByURL(hits, fallback), nil
}

// buildCandidates turns one query's hits into scored company cards.
func (a *Agent) buildCandidates(ctx context.Context, q roleQuery, hits []search.Result, city string, preset model.DepthPreset) ([]model.CompanyIntel, error) {
	if len(hits) > preset.MaxCompanies {
		hits = hits[:preset.MaxCompanies]
	}

	urls := make([]string, len(hits))
	for i, h := range hits {
		urls[i] = h.URL
	}
	contents, err := a.fetcher.Contents(ctx, urls, preset.ContentChars)
	if err != nil {
		return nil, fmt.Errorf("page contents: %w", err)
	}
	textByURL := make(map[string]string, len(contents))
	for _, c := range contents {
		textByURL[c.URL] = c.Text
	}

	pages := make([]match.Page, len(hits))
	for i, h := range hits {
		pages[i] = match.Page{URL: h.URL, Title: h.Title, Text: pageText(h, textByURL[h.URL])}
	}
	matches := a.scorer.Score(ctx, roleBlob(q.role, q.profile), pages, q.profile.Keywords)
	matchByURL := make(map[string]match.Match, len(matches))
	for _, m := range matches {
		matchByURL[m.URL] = m
	}

	candidates := make([]model.CompanyIntel, 0, len(hits))
	for _, h := range hits {
		name := companyName(h.Title)
		if name == "" {
			continue
		}
		m := matchByURL[h.URL]
		candidates = append(candidates, model.CompanyIntel{
			Name:        name,
			Homepage:    a.homepageFor(ctx, name, h.URL, textByURL[h.URL]),
			SourceURL:   h.URL,
			Description: blurb(h, textByURL[h.URL]),
			Location:    city,
			Tags:        head(q.profile.Keywords, maxTags),
			Score:       m.Score,
			WhyMatch:    m.Why,
			MatchedKw:   m.MatchedKeywords,
		})
	}
	return candidates, nil
}

// mergeCandidates deduplicates across queries by normalized homepage
// domain. Higher score wins; on a tie the earlier query's instance stays.
func mergeCandidates(results []queryResult) []model.CompanyIntel {
	byDomain := make(map[string]int)
	var merged []model.CompanyIntel
	for _, res := range results {
		for _, co := range res.candidates {
			key := co.Domain()
			if key == "" {
				continue
			}
			at, seen := byDomain[key]
			if !seen {
				byDomain[key] = len(merged)
				merged = append(merged, co)
				continue
			}
			if co.Score > merged[at].Score {
				merged[at] = co
			}
		}
	}
	return merged
}

// buildQueries returns the primary and fallback query text for a role.
func buildQueries(city string, p roles.Profile, role string) (primary, broad string) {
	terms := queryTerms(p, role)
	return fmt.Sprintf("%s %s AI startup", city, terms), fmt.Sprintf("%s %s", city, terms)
}

// queryTerms picks the search terms for a role: its leading keywords, or
// the role name itself for a profile without any.
func queryTerms(p roles.Profile, role string) string {
	if len(p.Keywords) == 0 {
		return role
	}
	return strings.Join(head(p.Keywords, maxQueryTerms), " ")
}

// roleBlob is the role text candidates are scored against.
func roleBlob(role string, p roles.Profile) string {
	var b strings.Builder
	b.WriteString(role)
	if len(p.Keywords) > 0 {
		b.WriteString(". Keywords: ")
		b.WriteString(strings.Join(p.Keywords, ", "))
	}
	if len(p.ValueProps) > 0 {
		b.WriteString(". ")
		b.WriteString(strings.Join(p.ValueProps, ". "))
	}
	return b.String()
}

// pageText picks the text a candidate is scored on: fetched content when
// available, otherwise whatever the search hit carried.
func pageText(h search.Result, fetched string) string {
	if fetched != "" {
		return fetched
	}
	if len(h.Highlights) > 0 {
		return strings.Join(h.Highlights, " ")
	}
	return h.Summary
}

// unionByURL appends extras not already present, keeping first-seen order.
func unionByURL(base, extra []search.Result) []search.Result {
	seen := make(map[string]bool, len(base))
	for _, r := range base {
		seen[r.URL] = true
	}
	for _, r := range extra {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		base = append(base, r)
	}
	return base
}

func head(ss []string, n int) []string {
	if len(ss) > n {
		ss = ss[:n]
	}
	return slices.Clone(ss)
}

// capExcerpt truncates at a rune boundary.
func capExcerpt(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
