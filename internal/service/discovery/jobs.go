package discovery

// Open-role probing: after the company list settles, the top candidates
// get a short search pass against hosted applicant-tracking systems so
// outreach can link a live posting. Companies without one keep a nil
// posting; nothing is dropped for not hiring.

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/search"
)

const (
	probeResults   = 5
	postingSnippet = 500
)

// atsDomains are hosted applicant-tracking systems where live postings
// actually reside.
var atsDomains = []string{
	"lever.co",
	"greenhouse.io",
	"boards.greenhouse.io",
	"ashbyhq.com",
	"jobs.ashbyhq.com",
	"workable.com",
	"smartrecruiters.com",
	"bamboohr.com",
	"myworkdayjobs.com",
}

// noiseTitleWords disqualify a hit: articles about a company, not roles
// at it.
var noiseTitleWords = []string{
	"article", "blog", "tutorial", "guide", "raises", "seed round",
	"funding", "towards data science",
}

// jobSignalWords mark a hit as hiring-related.
var jobSignalWords = []string{
	"job", "role", "position", "apply", "careers", "hiring",
	"opportunity", "opening", "vacancy", "engineer", "developer", "scientist",
}

// probeJobs attaches an open posting to each of the top companies that
// has one and reports how many do.
func (a *Agent) probeJobs(ctx context.Context, companies []model.CompanyIntel, roleNames []string) int {
	idx := make([]int, min(len(companies), maxProbed))
	for i := range idx {
		idx[i] = i
	}

	found, _ := engine.MapBounded(ctx, idx, func(ctx context.Context, i int) (bool, error) {
		posting := a.findPosting(ctx, companies[i], roleNames)
		if posting == nil {
			return false, nil
		}
		companies[i].JobPosting = posting
		return true, nil
	}, a.fanout)

	hiring := 0
	for _, ok := range found {
		if ok {
			hiring++
		}
	}
	return hiring
}

// findPosting runs up to three narrowing search passes for one company:
// ATS hosts, the company's own domain, then the open web. A failed pass
// is skipped; the posting is optional.
func (a *Agent) findPosting(ctx context.Context, co model.CompanyIntel, roleNames []string) *model.JobPosting {
	role := ""
	if len(roleNames) > 0 {
		role = roleNames[0]
	}

	passes := []search.Query{{
		Text:           fmt.Sprintf("%q %s job", co.Name, role),
		NumResults:     probeResults,
		IncludeDomains: atsDomains,
		WantHighlights: true,
	}}
	if domain := co.Domain(); domain != "" && !isAggregator(co.Homepage) {
		passes = append(passes, search.Query{
			Text:           fmt.Sprintf("%s (careers OR jobs OR hiring)", role),
			NumResults:     probeResults,
			IncludeDomains: []string{domain},
			WantHighlights: true,
		})
	}
	passes = append(passes, search.Query{
		Text:           fmt.Sprintf("%q %s (job OR position OR careers OR hiring)", co.Name, role),
		NumResults:     probeResults,
		WantHighlights: true,
	})

	for _, q := range passes {
		hits, err := a.searcher.Search(ctx, q)
		if err != nil {
			a.logger.Debug("discovery: job probe pass failed", "company", co.Name, "error", err)
			continue
		}
		if posting := pickPosting(hits, roleNames, role); posting != nil {
			return posting
		}
	}
	return nil
}

// pickPosting returns the first hit that reads like a live posting.
func pickPosting(hits []search.Result, roleNames []string, role string) *model.JobPosting {
	for _, h := range hits {
		title := strings.ToLower(h.Title)
		if containsAny(title, noiseTitleWords) {
			continue
		}
		body := strings.ToLower(strings.Join(h.Highlights, " ") + " " + h.Summary)
		if !matchesRole(title, body, roleNames) && !containsAny(body, jobSignalWords) {
			continue
		}
		t := strings.TrimSpace(h.Title)
		if t == "" {
			t = fmt.Sprintf("%s role", role)
		}
		return &model.JobPosting{URL: h.URL, Title: t, Snippet: capExcerpt(snippetOf(h), postingSnippet)}
	}
	return nil
}

func matchesRole(title, body string, roleNames []string) bool {
	for _, rn := range roleNames {
		rn = strings.ToLower(rn)
		if strings.Contains(title, rn) || strings.Contains(body, rn) {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func snippetOf(h search.Result) string {
	if len(h.Highlights) > 0 {
		return strings.TrimSpace(strings.Join(h.Highlights, " "))
	}
	return strings.TrimSpace(h.Summary)
}
