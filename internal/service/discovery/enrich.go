package discovery

// Contact enrichment: one bounded fetch of each company homepage looking
// for a mailto address or a careers page. Best effort; a company whose
// page cannot be fetched or parsed keeps an empty hint.

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
)

const (
	contactTimeout   = 12 * time.Second
	contactReadLimit = 256 << 10
)

var careersMarkers = []string{"/careers", "/jobs", "/join"}

// enrichContacts fills ContactHint for each company from its homepage.
func (a *Agent) enrichContacts(ctx context.Context, companies []model.CompanyIntel) {
	idx := make([]int, len(companies))
	for i := range idx {
		idx[i] = i
	}
	// Workers write disjoint elements, so no locking.
	engine.MapBounded(ctx, idx, func(ctx context.Context, i int) (struct{}, error) {
		companies[i].ContactHint = a.contactHint(ctx, companies[i].Homepage)
		return struct{}{}, nil
	}, a.fanout)
}

// contactHint scrapes one homepage. A mailto address wins over a careers
// link; "" means nothing usable was found.
func (a *Agent) contactHint(ctx context.Context, homepage string) string {
	if homepage == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, homepage, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "tegami/1.0 (+https://github.com/ashita-ai/tegami)")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Debug("discovery: homepage fetch failed", "url", homepage, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, contactReadLimit))
	if err != nil {
		return ""
	}

	var email, careers string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		switch {
		case strings.HasPrefix(href, "mailto:"):
			email = strings.TrimPrefix(href, "mailto:")
			if i := strings.IndexByte(email, '?'); i >= 0 {
				email = email[:i]
			}
		case careers == "" && isCareersPath(href):
			careers = absoluteURL(homepage, href)
		}
		return email == ""
	})
	if email != "" {
		return email
	}
	return careers
}

// isCareersPath reports whether an anchor href looks like a hiring page.
func isCareersPath(href string) bool {
	lower := strings.ToLower(href)
	for _, marker := range careersMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// absoluteURL resolves href against the page it appeared on.
func absoluteURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
