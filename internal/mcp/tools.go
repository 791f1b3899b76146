package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/savedstore"
	"github.com/ashita-ai/tegami/internal/timeline"
)

func (s *Server) registerTools() {
	// tegami_start_discovery — kick off a company discovery run.
	s.mcpServer.AddTool(
		mcplib.NewTool("tegami_start_discovery",
			mcplib.WithDescription(`Start a company discovery run for a role in a city.

WHEN TO USE: FIRST, before any other tegami tool. Discovery finds and
scores startups hiring for the role; everything else operates on the run
it creates.

The run executes in the background. Poll tegami_get_run until status is
"completed" (or "failed"), or read tegami_get_timeline to watch progress.

WHAT YOU GET BACK:
- run_id: the run identifier every other tool needs
- status: "started"

EXAMPLE: tegami_start_discovery with city="Austin",
role="AI Engineer", depth="standard".`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("city",
				mcplib.Description("City to search in, free form (\"Austin\", \"Berlin, Germany\")"),
				mcplib.Required(),
			),
			mcplib.WithString("role",
				mcplib.Description("Job role to match against, free form (\"AI Engineer\", \"Data Scientist\"). Read the tegami://roles resource for roles with curated search profiles; any string is accepted."),
				mcplib.Required(),
			),
			mcplib.WithString("depth",
				mcplib.Description("How much work the run may do. light = fast scan, standard = balanced, deep = thorough but slow."),
				mcplib.Enum("light", "standard", "deep"),
			),
			mcplib.WithBoolean("research",
				mcplib.Description("Whether to gather per-company intelligence (news, tech stack, funding, culture, growth) after discovery. Omit to use the server default."),
			),
			mcplib.WithString("resume_text",
				mcplib.Description("Optional plain-text resume excerpt to personalize matching and outreach"),
			),
		),
		s.handleStartDiscovery,
	)

	// tegami_get_run — snapshot of a run's state and companies.
	s.mcpServer.AddTool(
		mcplib.NewTool("tegami_get_run",
			mcplib.WithDescription(`Get the current state of a run: phase, discovered companies with
match scores, and drafted emails when outreach has happened.

WHEN TO USE: After tegami_start_discovery, poll this until status is
"completed". ALWAYS review the companies here before calling
tegami_draft_outreach, so you can tune count and min_match to the
actual scores.

WHAT YOU GET BACK:
- status/phase: where the run is ("completed" + "discovery_done" or
  "research_done" means ready for outreach)
- companies: scored 0-100, best first, with match reasoning and any
  research intel
- emails: outreach drafts, once tegami_draft_outreach has run`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("Run identifier returned by tegami_start_discovery"),
				mcplib.Required(),
			),
		),
		s.handleGetRun,
	)

	// tegami_get_timeline — the run's event narrative.
	s.mcpServer.AddTool(
		mcplib.NewTool("tegami_get_timeline",
			mcplib.WithDescription(`Read a run's timeline: the ordered narrative of what every agent did,
including search passes, fetched intel, degradations, and failures.

WHEN TO USE: To watch a run progress, or to understand WHY a run
produced the companies it did (which queries ran, what degraded).
Outreach segment ids from tegami_draft_outreach work here too.

Events are chronological. A type="end" event means the segment is
finished and no more events will come.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("Run identifier, or an outreach segment identifier"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum events to return (the most recent ones)"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleGetTimeline,
	)

	// tegami_draft_outreach — draft outreach emails for a finished run.
	s.mcpServer.AddTool(
		mcplib.NewTool("tegami_draft_outreach",
			mcplib.WithDescription(`Draft personalized outreach emails for the best-matching companies of
a finished discovery run.

IMPORTANT: Call tegami_get_run FIRST and review the companies and
their scores. Drafting without reviewing risks emailing weak matches.

WHEN TO USE: After a run reports status="completed". This call WAITS
for drafting to finish and returns the emails directly; expect it to
take a little while.

WHAT YOU GET BACK:
- emails: one draft per company (subject, body, mailto link)
- segment_run_id: a fresh timeline id for this drafting pass

Re-invoking on the same run drafts a new batch and replaces the run's
emails; earlier segments stay readable under their own ids.

EXAMPLE: tegami_draft_outreach with run_id=..., count=3,
min_match=60 drafts for the top three companies scoring 60 or better.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("Run identifier returned by tegami_start_discovery"),
				mcplib.Required(),
			),
			mcplib.WithNumber("count",
				mcplib.Description("How many emails to draft"),
				mcplib.Min(1),
				mcplib.Max(10),
				mcplib.DefaultNumber(5),
			),
			mcplib.WithNumber("min_match",
				mcplib.Description("Only draft for companies scoring at least this (0-100)"),
				mcplib.Min(0),
				mcplib.Max(100),
				mcplib.DefaultNumber(40),
			),
			mcplib.WithString("model",
				mcplib.Description("Optional model override for drafting"),
			),
		),
		s.handleDraftOutreach,
	)

	// tegami_save_item — pin a company or email for later.
	s.mcpServer.AddTool(
		mcplib.NewTool("tegami_save_item",
			mcplib.WithDescription(`Save a company or a drafted email so it survives run eviction.

WHEN TO USE: Runs are evicted after an idle TTL; anything worth keeping
(a promising company, a good draft) should be saved. Pass the item
exactly as it appeared in tegami_get_run or tegami_draft_outreach
output.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("kind",
				mcplib.Description("What the item is"),
				mcplib.Enum("company", "email"),
				mcplib.Required(),
			),
			mcplib.WithString("item",
				mcplib.Description("The item to save, as a JSON object"),
				mcplib.Required(),
			),
		),
		s.handleSaveItem,
	)

	// tegami_list_saved — list previously saved items.
	s.mcpServer.AddTool(
		mcplib.NewTool("tegami_list_saved",
			mcplib.WithDescription(`List previously saved companies and emails, newest first.

WHEN TO USE: At the start of a session to recall what was kept from
earlier runs, or to collect the final shortlist.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("kind",
				mcplib.Description("Only list items of this kind; omit for all"),
				mcplib.Enum("company", "email"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum items to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListSaved,
	)
}

func (s *Server) handleStartDiscovery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	city := strings.TrimSpace(request.GetString("city", ""))
	role := strings.TrimSpace(request.GetString("role", ""))
	if city == "" || role == "" {
		return errorResult("city and role are required"), nil
	}

	// Tri-state: an omitted research flag defers to the server default.
	var research *bool
	if v, ok := request.GetArguments()["research"].(bool); ok {
		research = &v
	}

	runID, err := s.controller.StartDiscovery(ctx, engine.DiscoveryRequest{
		City:          city,
		Role:          role,
		Depth:         model.ParseDepth(request.GetString("depth", "")),
		Research:      research,
		ResumeExcerpt: request.GetString("resume_text", ""),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("failed to start discovery: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"run_id": runID.String(),
		"status": "started",
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, ok := parseRunID(request)
	if !ok {
		return errorResult("run_id must be a UUID"), nil
	}

	run, err := s.controller.Snapshot(ctx, runID)
	if errors.Is(err, runstore.ErrNotFound) {
		return errorResult(fmt.Sprintf("run %s not found (runs are evicted after an idle TTL)", runID)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("failed to load run: %v", err)), nil
	}

	s.reviews.Record(sessionKey(ctx), runID.String())

	resultData, _ := json.MarshalIndent(compactRun(run), "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleGetTimeline(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, ok := parseRunID(request)
	if !ok {
		return errorResult("run_id must be a UUID"), nil
	}
	if !s.bus.Exists(runID) {
		return errorResult(fmt.Sprintf("no timeline for run %s", runID)), nil
	}

	limit := request.GetInt("limit", 50)
	if limit < 1 {
		limit = 1
	}

	events := s.bus.History(runID)
	total := len(events)
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	compacted := make([]map[string]any, len(events))
	for i, ev := range events {
		compacted[i] = compactEvent(ev)
	}

	s.reviews.Record(sessionKey(ctx), runID.String())

	payload := map[string]any{
		"run_id": runID.String(),
		"total":  total,
		"events": compacted,
	}
	if total > len(compacted) {
		payload["note"] = fmt.Sprintf("showing the last %d of %d events", len(compacted), total)
	}
	resultData, _ := json.MarshalIndent(payload, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleDraftOutreach(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, ok := parseRunID(request)
	if !ok {
		return errorResult("run_id must be a UUID"), nil
	}
	count := request.GetInt("count", model.DefaultEmailCount)
	if count < model.MinEmailCount || count > model.MaxEmailCount {
		return errorResult(fmt.Sprintf("count must be between %d and %d", model.MinEmailCount, model.MaxEmailCount)), nil
	}
	minMatch := request.GetFloat("min_match", engine.DefaultMinMatch)
	if minMatch < 0 || minMatch > 100 {
		return errorResult("min_match must be in [0,100]"), nil
	}

	segmentID, err := s.controller.StartWriter(ctx, runID, engine.WriterRequest{
		Count:    count,
		MinMatch: minMatch,
		Model:    request.GetString("model", ""),
	})
	switch {
	case errors.Is(err, runstore.ErrNotFound):
		return errorResult(fmt.Sprintf("run %s not found (runs are evicted after an idle TTL)", runID)), nil
	case errors.Is(err, engine.ErrNoEligibleCompanies):
		return errorResult(err.Error() + ". Lower min_match, or run discovery again at a deeper depth."), nil
	case errors.Is(err, runstore.ErrConflict):
		return errorResult(err.Error() + ". Wait for the run to finish, then retry."), nil
	case err != nil:
		return errorResult(fmt.Sprintf("failed to start outreach: %v", err)), nil
	}

	// Drain the drafting segment so the reply carries the finished emails.
	// The terminal event is published after the run's writer output lands,
	// so the snapshot below reads the final state.
	sub, err := s.bus.Subscribe(segmentID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to follow drafting: %v", err)), nil
	}
	defer sub.Close()
	for {
		if _, err := sub.Next(ctx); err != nil {
			if errors.Is(err, timeline.ErrSubscriptionDone) {
				break
			}
			return errorResult(fmt.Sprintf("drafting interrupted: %v", err)), nil
		}
	}

	run, err := s.controller.Snapshot(ctx, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to load run: %v", err)), nil
	}
	if run.Error != nil {
		return errorResult(fmt.Sprintf("drafting failed: %s", run.Error.Message)), nil
	}
	out, ok := run.Outputs[model.StageWriter]
	if !ok || out.Writer == nil {
		return errorResult("drafting produced no output"), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"run_id":         runID.String(),
		"segment_run_id": segmentID.String(),
		"emails":         out.Writer.Emails,
		"total":          len(out.Writer.Emails),
	}, "", "  ")

	contents := []mcplib.Content{
		mcplib.TextContent{Type: "text", Text: string(resultData)},
	}

	// Nudge: if the caller never looked at the run before drafting, remind
	// it. The draft still succeeds; this is advisory, not a gate.
	if !s.reviews.WasReviewed(sessionKey(ctx), runID.String()) {
		contents = append(contents, mcplib.TextContent{
			Type: "text",
			Text: "NOTE: tegami_get_run was not called for this run before drafting. " +
				"Reviewing the companies and their scores first lets you tune count and min_match. " +
				"Next time, call tegami_get_run before tegami_draft_outreach.",
		})
	}

	return &mcplib.CallToolResult{Content: contents}, nil
}

func (s *Server) handleSaveItem(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.saved == nil {
		return errorResult("saved items are not configured on this server"), nil
	}
	kind := request.GetString("kind", "")
	if kind == "" {
		return errorResult("kind is required"), nil
	}

	// Accept the item as a JSON object or as a pre-encoded string; agents
	// send both.
	var item json.RawMessage
	switch v := request.GetArguments()["item"].(type) {
	case nil:
		return errorResult("item is required"), nil
	case string:
		if !json.Valid([]byte(v)) {
			return errorResult("item must be valid JSON"), nil
		}
		item = json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return errorResult(fmt.Sprintf("item is not serializable: %v", err)), nil
		}
		item = data
	}

	id, err := s.saved.Add(ctx, kind, item)
	if errors.Is(err, savedstore.ErrInvalidKind) {
		return errorResult(fmt.Sprintf("unknown kind %q: use company or email", kind)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("failed to save: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"id":     id,
		"status": "saved",
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleListSaved(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.saved == nil {
		return errorResult("saved items are not configured on this server"), nil
	}
	kind := request.GetString("kind", "")
	if kind != "" && !savedstore.ValidKind(kind) {
		return errorResult(fmt.Sprintf("unknown kind %q: use company or email", kind)), nil
	}

	items, err := s.saved.List(ctx, kind, request.GetInt("limit", 20))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list saved items: %v", err)), nil
	}
	if items == nil {
		items = []savedstore.SavedItem{}
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"items": items,
		"total": len(items),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

// parseRunID reads the run_id argument as a UUID.
func parseRunID(request mcplib.CallToolRequest) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(request.GetString("run_id", "")))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
