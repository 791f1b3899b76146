package mcp

import (
	"context"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// reviewWindow is how long a run review stays "recent" for the
// review-before-draft nudge.
const reviewWindow = 10 * time.Minute

// reviewTracker records recent tegami_get_run / tegami_get_timeline calls so
// handleDraftOutreach can detect when a caller drafts against a run it never
// looked at, and nudge it to review the companies first.
//
// The tracker is keyed on (session, run) with a time window. In-memory and
// per-process, which is acceptable because the nudge is advisory, not a gate.
type reviewTracker struct {
	mu      sync.Mutex
	reviews map[reviewKey]time.Time
	window  time.Duration
}

type reviewKey struct {
	session string
	runID   string
}

func newReviewTracker(window time.Duration) *reviewTracker {
	return &reviewTracker{
		reviews: make(map[reviewKey]time.Time),
		window:  window,
	}
}

// Record notes that the session looked at this run.
func (t *reviewTracker) Record(session, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reviews[reviewKey{session, runID}] = time.Now()

	// Lazy cleanup so many distinct (session, run) pairs cannot grow the
	// map without bound.
	if len(t.reviews) > 1000 {
		t.purgeStale()
	}
}

// WasReviewed reports whether the session looked at this run within the
// window.
func (t *reviewTracker) WasReviewed(session, runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.reviews[reviewKey{session, runID}]
	if !ok {
		return false
	}
	if time.Since(ts) > t.window {
		delete(t.reviews, reviewKey{session, runID})
		return false
	}
	return true
}

// purgeStale removes entries older than the window. Must be called with mu
// held.
func (t *reviewTracker) purgeStale() {
	now := time.Now()
	for k, ts := range t.reviews {
		if now.Sub(ts) > t.window {
			delete(t.reviews, k)
		}
	}
}

// sessionKey identifies the calling MCP session, or "" when the request
// carries no session (direct handler calls in tests).
func sessionKey(ctx context.Context) string {
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		return session.SessionID()
	}
	return ""
}
