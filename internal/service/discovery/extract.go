package discovery

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/search"
)

// Candidate extraction. Search hits land on aggregator pages more often
// than on company sites, so the name comes from heuristic title cleanup
// and the homepage from links in the page text, with a refining search as
// the last resort.

const (
	blurbChars  = 500
	maxNameLen  = 60
	maxTextURLs = 12 // links scanned per page when deriving a homepage
)

// sourceSuffixes are aggregator branding tails stripped from hit titles.
var sourceSuffixes = []string{
	"| Y Combinator",
	"| Product Hunt",
	"| Wellfound",
	"| Crunchbase",
	"| LinkedIn",
	"| TechCrunch",
	"- Crunchbase Company Profile & Funding",
}

var (
	atNameRe = regexp.MustCompile(`\b(?:at|for|with)\s+([A-Z][\w&.\- ]{3,60})`)
	linkRe   = regexp.MustCompile(`https?://[^\s)\]"'<>]+`)
	wsRe     = regexp.MustCompile(`\s+`)
)

// aggregatorHosts are directory, news, and social sites that can never be
// a company's own homepage.
var aggregatorHosts = map[string]bool{
	"producthunt.com":    true,
	"ycombinator.com":    true,
	"workatastartup.com": true,
	"wellfound.com":      true,
	"angel.co":           true,
	"techcrunch.com":     true,
	"crunchbase.com":     true,
	"linkedin.com":       true,
	"twitter.com":        true,
	"x.com":              true,
	"facebook.com":       true,
	"instagram.com":      true,
	"youtube.com":        true,
	"github.com":         true,
	"medium.com":         true,
	"reddit.com":         true,
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico"}

// companyName extracts a company name from a search hit title. Empty when
// the title yields nothing usable.
func companyName(title string) string {
	t := strings.TrimSpace(title)
	for _, suffix := range sourceSuffixes {
		t = strings.TrimSpace(strings.TrimSuffix(t, suffix))
	}
	if t == "" {
		return ""
	}

	// Job-board style titles name the company after a preposition:
	// "Senior ML Engineer at Acme".
	if m := atNameRe.FindStringSubmatch(t); m != nil {
		if name := trimName(m[1]); len(name) > 3 {
			return name
		}
	}
	// Tagline style: "Acme: AI infrastructure for robots".
	if i := strings.IndexAny(t, ":|–-"); i > 0 {
		if name := trimName(t[:i]); name != "" {
			return name
		}
	}
	fields := strings.Fields(t)
	if len(fields) == 0 {
		return ""
	}
	return trimName(fields[0])
}

func trimName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `.,;!?"'`)
	if len(s) > maxNameLen {
		s = strings.TrimSpace(s[:maxNameLen])
	}
	return s
}

// homepageFor derives the company homepage. Preference order: first
// non-aggregator link in the page text, the source URL's own origin, then
// a refining search when the hit came from an aggregator.
func (a *Agent) homepageFor(ctx context.Context, name, sourceURL, text string) string {
	if link := firstExternalLink(text); link != "" {
		return link
	}
	origin := urlOrigin(sourceURL)
	if origin != "" && !isAggregator(origin) {
		return origin
	}
	if refined := a.refineHomepage(ctx, name); refined != "" {
		return refined
	}
	return origin
}

// firstExternalLink returns the origin of the first plausible
// company-site link in text.
func firstExternalLink(text string) string {
	for _, raw := range linkRe.FindAllString(text, maxTextURLs) {
		link := strings.TrimRight(raw, ".,;")
		if isImageURL(link) || isAggregator(link) {
			continue
		}
		if origin := urlOrigin(link); origin != "" {
			return origin
		}
	}
	return ""
}

// refineHomepage finds a company's own site when discovery only saw
// aggregator pages. One result is enough; a miss leaves the aggregator
// origin in place.
func (a *Agent) refineHomepage(ctx context.Context, name string) string {
	hits, err := a.searcher.Search(ctx, search.Query{
		Text:       fmt.Sprintf("%q homepage official website", name),
		NumResults: 1,
	})
	if err != nil {
		a.logger.Debug("discovery: homepage refine failed", "company", name, "error", err)
		return ""
	}
	if len(hits) == 0 || isAggregator(hits[0].URL) {
		return ""
	}
	return urlOrigin(hits[0].URL)
}

// blurb picks a short description: the provider summary when present,
// otherwise leading page text or highlights.
func blurb(h search.Result, text string) string {
	if s := strings.TrimSpace(h.Summary); s != "" {
		return capExcerpt(s, blurbChars)
	}
	t := strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
	if t == "" && len(h.Highlights) > 0 {
		t = strings.TrimSpace(strings.Join(h.Highlights, " "))
	}
	return capExcerpt(t, blurbChars)
}

// Source bonuses. Launch platforms list companies actively building and
// hiring, so their hits outrank plain news mentions at equal match
// quality.
const (
	bonusLaunchPlatform = 10 // producthunt
	bonusStartupBoard   = 8  // ycombinator, workatastartup, wellfound
	bonusContactHint    = 2
)

// applyBonuses folds source and contact bonuses into each score, clamped
// to [0,100].
func applyBonuses(companies []model.CompanyIntel) {
	for i := range companies {
		co := &companies[i]
		co.Score += sourceBonus(co.SourceURL)
		if co.ContactHint != "" {
			co.Score += bonusContactHint
		}
		if co.Score > 100 {
			co.Score = 100
		}
		if co.Score < 0 {
			co.Score = 0
		}
	}
}

func sourceBonus(sourceURL string) float64 {
	host := model.NormalizeDomain(sourceURL)
	switch {
	case hostIs(host, "producthunt.com"):
		return bonusLaunchPlatform
	case hostIs(host, "ycombinator.com"), hostIs(host, "workatastartup.com"), hostIs(host, "wellfound.com"):
		return bonusStartupBoard
	default:
		return 0
	}
}

func hostIs(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// isAggregator reports whether the URL points at a directory, news, or
// social site rather than a company's own domain.
func isAggregator(rawURL string) bool {
	host := model.NormalizeDomain(rawURL)
	if host == "" {
		return false
	}
	if aggregatorHosts[host] {
		return true
	}
	for agg := range aggregatorHosts {
		if strings.HasSuffix(host, "."+agg) {
			return true
		}
	}
	return false
}

func isImageURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range imageExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// urlOrigin reduces a URL to scheme://host.
func urlOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
