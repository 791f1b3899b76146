// Package research implements the research stage: per-company intelligence
// gathering across a fixed set of facets (news, tech stack, funding,
// culture, growth). Every company x facet pair is one bounded fan-out task
// against the search provider; a failed or empty facet is recorded as
// absent and never fails the company or the stage.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/search"
	"github.com/ashita-ai/tegami/internal/telemetry"
)

const (
	// resultsPerFacet keeps provider credit spend flat per company.
	resultsPerFacet = 2

	maxNewsItems  = 3
	minNewsTitle  = 10
	newsItemChars = 100
	cultureChars  = 200
	growthChars   = 100

	// defaultFacetChars caps one facet summary when the caller passes no
	// budget.
	defaultFacetChars = 1200
)

// Deps wires an Agent.
type Deps struct {
	Searcher search.Searcher
	Fanout   int // max concurrent facet fetches across all companies
	Logger   *slog.Logger
}

// Agent implements the research stage.
type Agent struct {
	searcher search.Searcher
	fanout   int
	logger   *slog.Logger

	fanoutFailures metric.Int64Counter
}

// NewAgent creates a research agent.
func NewAgent(deps Deps) *Agent {
	meter := telemetry.Meter("tegami/research")
	failures, _ := meter.Int64Counter("tegami.fanout.failures",
		metric.WithDescription("Fan-out items that produced no result"),
	)
	return &Agent{
		searcher:       deps.Searcher,
		fanout:         deps.Fanout,
		logger:         deps.Logger,
		fanoutFailures: failures,
	}
}

// facetTask is one fan-out unit: fetch one facet for one company.
type facetTask struct {
	companyIdx int
	name       string
	facet      model.FacetName
}

// facetResult carries a fetched facet back to assembly. Data is nil when
// the provider failed or returned no usable signal.
type facetResult struct {
	companyIdx int
	facet      model.FacetName
	data       *model.Facet
}

// Research fetches the intelligence bundle for every company. Companies
// pass through in input order with Intel attached; the input slice is
// never mutated. Facet outcomes are independent: a provider failure or an
// empty extraction leaves that one facet absent and lowers the company's
// confidence. The stage itself fails only on context cancellation.
func (a *Agent) Research(ctx context.Context, params engine.ResearchParams, events chan<- model.TimelineEvent) (*model.ResearchOutput, error) {
	out := &model.ResearchOutput{
		FacetsAsked: append([]model.FacetName(nil), model.AllFacets...),
	}
	if len(params.Companies) == 0 {
		return out, nil
	}

	perFacet := params.CharBudget / len(model.AllFacets)
	if perFacet <= 0 {
		perFacet = defaultFacetChars
	}

	tasks := make([]facetTask, 0, len(params.Companies)*len(model.AllFacets))
	for i, c := range params.Companies {
		for _, facet := range model.AllFacets {
			tasks = append(tasks, facetTask{companyIdx: i, name: c.Name, facet: facet})
		}
	}

	results, failures := engine.MapBounded(ctx, tasks, func(ctx context.Context, task facetTask) (facetResult, error) {
		data, err := a.fetchFacet(ctx, task.name, task.facet, perFacet)
		if err != nil {
			a.logger.Debug("research: facet fetch failed",
				"company", task.name, "facet", task.facet, "error", err)
			data = nil
		}
		emitFacet(events, task, data != nil)
		return facetResult{companyIdx: task.companyIdx, facet: task.facet, data: data}, nil
	}, a.fanout)

	// Workers never return errors, so failures holds only panics and
	// tasks left unstarted by cancellation. Both count as absent facets.
	for _, f := range failures {
		emitFacet(events, f.Item, false)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("research: %w", err)
	}

	bundles := make([]model.IntelBundle, len(params.Companies))
	fetched := make([]int, len(params.Companies))
	for _, r := range results {
		if r.data == nil {
			continue
		}
		setFacet(&bundles[r.companyIdx], r.facet, r.data)
		fetched[r.companyIdx]++
	}

	requested := len(model.AllFacets)
	out.Companies = make([]model.CompanyIntel, len(params.Companies))
	for i, c := range params.Companies {
		bundles[i].Confidence = float64(fetched[i]) / float64(requested)
		out.Companies[i] = c
		out.Companies[i].Intel = &bundles[i]
		out.FailedFacets += requested - fetched[i]
	}
	if out.FailedFacets > 0 {
		a.fanoutFailures.Add(ctx, int64(out.FailedFacets),
			metric.WithAttributes(attribute.String("stage", "research")))
	}

	a.logger.Info("research: gathered intel",
		"companies", len(out.Companies),
		"facets", requested,
		"failed_facets", out.FailedFacets)
	return out, nil
}

func emitFacet(events chan<- model.TimelineEvent, task facetTask, ok bool) {
	level := model.LevelInfo
	message := fmt.Sprintf("fetched %s intel for %s", task.facet, task.name)
	if !ok {
		level = model.LevelWarn
		message = fmt.Sprintf("no %s intel for %s", task.facet, task.name)
	}
	events <- model.NewEvent(model.AgentResearch, model.EventFacetFetched, level, message,
		model.FacetFetchedPayload{Company: task.name, Facet: string(task.facet), OK: ok})
}

func setFacet(b *model.IntelBundle, name model.FacetName, f *model.Facet) {
	switch name {
	case model.FacetNews:
		b.News = f
	case model.FacetTechStack:
		b.TechStack = f
	case model.FacetFunding:
		b.Funding = f
	case model.FacetCulture:
		b.Culture = f
	case model.FacetGrowth:
		b.Growth = f
	}
}

// fetchFacet runs the facet's search query and extracts its summary.
// A nil facet with a nil error means the provider answered but nothing
// usable was found.
func (a *Agent) fetchFacet(ctx context.Context, company string, facet model.FacetName, budget int) (*model.Facet, error) {
	hits, err := a.searcher.Search(ctx, search.Query{
		Text:           facetQuery(company, facet),
		NumResults:     resultsPerFacet,
		WantHighlights: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", facet, err)
	}

	var summary string
	switch facet {
	case model.FacetNews:
		summary = newsSummary(hits)
	case model.FacetTechStack:
		summary = techSummary(hits)
	case model.FacetFunding:
		summary = fundingSummary(hits)
	case model.FacetCulture:
		summary = cultureSummary(hits)
	case model.FacetGrowth:
		summary = growthSummary(hits)
	}
	if summary == "" {
		return nil, nil
	}

	sources := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.URL != "" {
			sources = append(sources, h.URL)
		}
	}
	return &model.Facet{Summary: capText(summary, budget), Sources: sources}, nil
}

func facetQuery(company string, facet model.FacetName) string {
	switch facet {
	case model.FacetNews:
		year := time.Now().Year()
		return fmt.Sprintf("%q news announcement %d %d", company, year-1, year)
	case model.FacetTechStack:
		return fmt.Sprintf("%q technology stack engineering", company)
	case model.FacetFunding:
		return fmt.Sprintf("%q funding investment series", company)
	case model.FacetCulture:
		return fmt.Sprintf("%q company culture values", company)
	case model.FacetGrowth:
		return fmt.Sprintf("%q growth expanding hiring", company)
	}
	return fmt.Sprintf("%q company", company)
}

// newsSummary keeps one line per substantial headline. Short titles are
// usually navigation or bare company names, not news.
func newsSummary(hits []search.Result) string {
	var items []string
	for _, h := range hits {
		if len(items) == maxNewsItems {
			break
		}
		title := strings.TrimSpace(h.Title)
		if len(title) <= minNewsTitle {
			continue
		}
		line := title
		if s := strings.TrimSpace(h.Summary); s != "" {
			line += " - " + capText(s, newsItemChars)
		}
		items = append(items, line)
	}
	return strings.Join(items, "\n")
}

// techKeywords is the stack vocabulary scanned for in result text, in
// report order.
var techKeywords = []string{
	"python", "javascript", "typescript", "react", "node.js", "aws", "gcp",
	"azure", "docker", "kubernetes", "postgresql", "mongodb", "redis",
	"elasticsearch", "tensorflow", "pytorch", "scikit-learn", "pandas",
	"numpy", "fastapi", "django", "flask", "express", "vue.js", "angular",
	"spring", "java", "go", "rust", "terraform", "ansible", "jenkins",
	"github actions", "ci/cd",
}

func techSummary(hits []search.Result) string {
	text := strings.ToLower(resultText(hits))
	var found []string
	for _, kw := range techKeywords {
		if hasTerm(text, kw) {
			found = append(found, kw)
		}
	}
	if len(found) == 0 {
		return ""
	}
	return "Known stack: " + strings.Join(found, ", ")
}

// fundingStages in ascending order; the highest stage mentioned wins.
var fundingStages = []struct{ key, display string }{
	{"seed", "Seed"},
	{"series a", "Series A"},
	{"series b", "Series B"},
	{"series c", "Series C"},
}

var amountRe = regexp.MustCompile(`\$(\d+(?:\.\d+)?[MB])`)

func fundingSummary(hits []search.Result) string {
	raw := resultText(hits)
	text := strings.ToLower(raw)
	var stage string
	for _, s := range fundingStages {
		if strings.Contains(text, s.key) {
			stage = s.display
		}
	}
	var amount string
	if m := amountRe.FindStringSubmatch(raw); m != nil {
		amount = "$" + m[1]
	}

	switch {
	case stage != "" && amount != "":
		return fmt.Sprintf("%s stage, raised %s", stage, amount)
	case stage != "":
		return stage + " stage"
	case amount != "":
		return "Raised " + amount
	}
	return ""
}

var cultureWords = []string{"culture", "values", "team", "remote", "collaborative"}

func cultureSummary(hits []search.Result) string {
	for _, h := range hits {
		text := collapseWS(h.Title + " " + h.Summary + " " + strings.Join(h.Highlights, " "))
		if containsAny(strings.ToLower(text), cultureWords) {
			return capText(text, cultureChars)
		}
	}
	return ""
}

var growthWords = []string{"growth", "hiring", "expanding", "revenue", "users"}

// growthSummary keeps one capped signal line per result that mentions a
// growth word.
func growthSummary(hits []search.Result) string {
	var signals []string
	for _, h := range hits {
		text := collapseWS(h.Title + " " + h.Summary)
		if containsAny(strings.ToLower(text), growthWords) {
			signals = append(signals, capText(text, growthChars))
		}
	}
	return strings.Join(signals, "\n")
}

func resultText(hits []search.Result) string {
	var b strings.Builder
	for _, h := range hits {
		b.WriteString(h.Title)
		b.WriteString(" ")
		b.WriteString(h.Summary)
		b.WriteString(" ")
		b.WriteString(strings.Join(h.Highlights, " "))
		b.WriteString(" ")
	}
	return b.String()
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// hasTerm reports whether term occurs in text bounded by non-alphanumeric
// runes. Plain Contains would flag "go" inside "google" and "java" inside
// "javascript".
func hasTerm(text, term string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func collapseWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// capText truncates to at most max bytes without splitting a rune.
func capText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
