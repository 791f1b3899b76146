// Package match scores how well a discovered page fits a role profile.
// The primary path embeds the role text and page snippets and compares
// them by cosine similarity; when no embedder is configured or the
// provider fails, scoring degrades to keyword overlap instead of failing
// the discovery stage.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ashita-ai/tegami/internal/llm"
)

const (
	snippetChars = 800  // page text embedded per candidate
	keywordChars = 1200 // page text scanned for keyword hits
	maxScore     = 100.0
)

// Page is one discovery candidate to score.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Match is the scored result for a page.
type Match struct {
	URL             string
	Score           float64 // 0..100
	MatchedKeywords []string
	Why             string
}

// Scorer ranks pages against a role profile.
type Scorer struct {
	embedder llm.Embedder // nil disables the embedding path
	logger   *slog.Logger
}

// NewScorer creates a scorer. A nil embedder selects keyword-only scoring.
func NewScorer(embedder llm.Embedder, logger *slog.Logger) *Scorer {
	return &Scorer{embedder: embedder, logger: logger}
}

// Score ranks pages best-first. It never fails: an embedding error logs a
// warning and falls back to keyword scoring.
func (s *Scorer) Score(ctx context.Context, roleText string, pages []Page, keywords []string) []Match {
	if len(pages) == 0 {
		return nil
	}

	matches, err := s.embedScore(ctx, roleText, pages, keywords)
	if err != nil {
		s.logger.Warn("match: embedding unavailable, using keyword scoring", "error", err)
		matches = keywordScore(pages, keywords)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].URL < matches[j].URL
	})
	return matches
}

func (s *Scorer) embedScore(ctx context.Context, roleText string, pages []Page, keywords []string) ([]Match, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	inputs := make([]string, 0, len(pages)+1)
	inputs = append(inputs, roleText)
	for _, p := range pages {
		inputs = append(inputs, snippet(p.Text))
	}

	vecs, err := s.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(inputs))
	}

	roleVec := normalize(vecs[0])
	out := make([]Match, 0, len(pages))
	for i, p := range pages {
		sim := math.Max(0, dot(roleVec, normalize(vecs[i+1])))
		matched := matchedKeywords(p.Text, keywords)
		bonus := math.Min(0.2, 0.04*float64(len(matched)))
		score := math.Min(maxScore, (sim+bonus)*100)

		var why []string
		if len(matched) > 0 {
			why = append(why, "mentions: "+strings.Join(head(matched, 4), ", "))
		}
		if sim > 0.5 {
			why = append(why, "content aligns with role")
		}
		out = append(out, Match{
			URL:             p.URL,
			Score:           round1(score),
			MatchedKeywords: matched,
			Why:             strings.Join(why, "; "),
		})
	}
	return out, nil
}

// keywordScore is the degraded path: a base of 20 plus 15 per matched
// keyword, capped at 100.
func keywordScore(pages []Page, keywords []string) []Match {
	out := make([]Match, 0, len(pages))
	for _, p := range pages {
		matched := matchedKeywords(p.Text, keywords)
		score := math.Min(maxScore, 20+15*float64(len(matched)))
		why := "basic match"
		if len(matched) > 0 {
			why = "mentions: " + strings.Join(head(matched, 4), ", ")
		}
		out = append(out, Match{
			URL:             p.URL,
			Score:           score,
			MatchedKeywords: matched,
			Why:             why,
		})
	}
	return out
}

var spaceRe = regexp.MustCompile(`\s+`)

func snippet(text string) string {
	t := strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
	if len(t) > snippetChars {
		t = t[:snippetChars]
	}
	return t
}

func matchedKeywords(text string, keywords []string) []string {
	scan := text
	if len(scan) > keywordChars {
		scan = scan[:keywordChars]
	}
	scan = strings.ToLower(scan)

	seen := make(map[string]struct{})
	var matched []string
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		if strings.Contains(scan, k) {
			seen[k] = struct{}{}
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	return matched
}

func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = float64(x)
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
