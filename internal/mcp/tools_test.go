package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/roles"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/savedstore"
	"github.com/ashita-ai/tegami/internal/timeline"
)

type stubDiscovery struct{}

func (stubDiscovery) Discover(ctx context.Context, params engine.DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
	events <- model.NewEvent(model.AgentDiscovery, model.EventCompaniesFound, model.LevelInfo,
		"found 2 companies", model.CompaniesFoundPayload{Count: 2, Preview: []string{"acme", "globex"}})
	return &model.DiscoveryOutput{
		City:  params.City,
		Role:  params.Role,
		Depth: string(params.Depth),
		Companies: []model.CompanyIntel{
			{Name: "acme", Homepage: "https://acme.dev", Score: 80, WhyMatch: "strong AI platform signals"},
			{Name: "globex", Homepage: "https://globex.io", Score: 55},
		},
		ResumeExcerpt: params.ResumeExcerpt,
	}, nil
}

type stubResearch struct{}

func (stubResearch) Research(ctx context.Context, params engine.ResearchParams, events chan<- model.TimelineEvent) (*model.ResearchOutput, error) {
	return &model.ResearchOutput{Companies: params.Companies}, nil
}

type stubWriter struct{}

func (stubWriter) Draft(ctx context.Context, params engine.WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error) {
	out := &model.WriterOutput{}
	for _, co := range params.Companies {
		events <- model.NewEvent(model.AgentWriter, model.EventEmailDrafted, model.LevelInfo,
			"drafted email for "+co.Name, model.EmailDraftedPayload{Company: co.Name, Subject: "hello"})
		out.Emails = append(out.Emails, model.OutreachEmail{
			Company: co.Name,
			Subject: "hello " + co.Name,
			Body:    "I'd love to talk about " + params.Role + " work.",
			Mailto:  "mailto:hello@" + co.Domain(),
		})
	}
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := timeline.NewBus()
	store := runstore.NewStore(bus, logger, time.Hour)
	saved, err := savedstore.Open(filepath.Join(t.TempDir(), "saved.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = saved.Close() })

	catalog, err := roles.Load("")
	require.NoError(t, err)

	controller := engine.NewController(engine.ControllerDeps{
		Store:     store,
		Bus:       bus,
		Executor:  engine.NewExecutor(store, bus, logger),
		Discovery: stubDiscovery{},
		Research:  stubResearch{},
		Writer:    stubWriter{},
		Logger:    logger,
	})

	return New(Deps{
		Controller: controller,
		Bus:        bus,
		Saved:      saved,
		Catalog:    catalog,
		Version:    "test",
		Logger:     logger,
	})
}

// toolRequest builds a CallToolRequest with the given arguments.
func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

// startDiscoveryRun starts a run through the tool surface and returns its id.
func startDiscoveryRun(t *testing.T, s *Server) uuid.UUID {
	t.Helper()
	result, err := s.handleStartDiscovery(context.Background(), toolRequest("tegami_start_discovery", map[string]any{
		"city":  "Austin",
		"role":  "AI Engineer",
		"depth": "light",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "started", resp.Status)

	runID, err := uuid.Parse(resp.RunID)
	require.NoError(t, err)
	return runID
}

// waitForRun polls the controller until the run reaches a terminal status.
func waitForRun(t *testing.T, s *Server, runID uuid.UUID) *model.Run {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		run, err := s.controller.Snapshot(context.Background(), runID)
		require.NoError(t, err)
		if run.Terminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status")
	return nil
}

func TestStartDiscoveryAndGetRun(t *testing.T) {
	s := newTestServer(t)
	runID := startDiscoveryRun(t, s)
	waitForRun(t, s, runID)

	result, err := s.handleGetRun(context.Background(), toolRequest("tegami_get_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var snapshot struct {
		Status    string `json:"status"`
		Phase     string `json:"phase"`
		Companies []struct {
			Name     string  `json:"name"`
			Score    float64 `json:"score"`
			WhyMatch string  `json:"why_match"`
		} `json:"companies"`
		Emails []any `json:"emails"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &snapshot))

	assert.Equal(t, "completed", snapshot.Status)
	assert.Equal(t, string(model.PhaseDiscoveryDone), snapshot.Phase)
	require.Len(t, snapshot.Companies, 2)
	assert.Equal(t, "acme", snapshot.Companies[0].Name)
	assert.Equal(t, 80.0, snapshot.Companies[0].Score)
	assert.Equal(t, "strong AI platform signals", snapshot.Companies[0].WhyMatch)
	assert.Empty(t, snapshot.Emails, "no emails before outreach")
}

func TestStartDiscoveryValidation(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleStartDiscovery(context.Background(), toolRequest("tegami_start_discovery", map[string]any{
		"city": "Austin",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "city and role are required")
}

func TestGetRunErrors(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleGetRun(context.Background(), toolRequest("tegami_get_run", map[string]any{
		"run_id": "not-a-uuid",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "must be a UUID")

	result, err = s.handleGetRun(context.Background(), toolRequest("tegami_get_run", map[string]any{
		"run_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found")
}

func TestGetTimeline(t *testing.T) {
	s := newTestServer(t)
	runID := startDiscoveryRun(t, s)
	waitForRun(t, s, runID)

	result, err := s.handleGetTimeline(context.Background(), toolRequest("tegami_get_timeline", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp struct {
		Total  int `json:"total"`
		Events []struct {
			Seq     int64  `json:"seq"`
			Agent   string `json:"agent"`
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))

	require.NotEmpty(t, resp.Events)
	assert.Equal(t, resp.Total, len(resp.Events))
	assert.Equal(t, string(model.EventStageStarted), resp.Events[0].Type)
	assert.Equal(t, string(model.EventEnd), resp.Events[len(resp.Events)-1].Type)
	for i, ev := range resp.Events {
		assert.Equal(t, int64(i+1), ev.Seq, "seq must be contiguous from 1")
	}
}

func TestGetTimelineLimitKeepsNewest(t *testing.T) {
	s := newTestServer(t)
	runID := startDiscoveryRun(t, s)
	waitForRun(t, s, runID)

	result, err := s.handleGetTimeline(context.Background(), toolRequest("tegami_get_timeline", map[string]any{
		"run_id": runID.String(),
		"limit":  2,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Total  int    `json:"total"`
		Note   string `json:"note"`
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))

	require.Len(t, resp.Events, 2)
	assert.Greater(t, resp.Total, 2)
	assert.Contains(t, resp.Note, "showing the last 2")
	assert.Equal(t, string(model.EventEnd), resp.Events[1].Type, "tail must include the terminal event")
}

func TestGetTimelineUnknownRun(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleGetTimeline(context.Background(), toolRequest("tegami_get_timeline", map[string]any{
		"run_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "no timeline")
}

func TestDraftOutreachWaitsAndReturnsEmails(t *testing.T) {
	s := newTestServer(t)
	runID := startDiscoveryRun(t, s)
	waitForRun(t, s, runID)

	// Review first so the draft carries no nudge.
	_, err := s.handleGetRun(context.Background(), toolRequest("tegami_get_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)

	result, err := s.handleDraftOutreach(context.Background(), toolRequest("tegami_draft_outreach", map[string]any{
		"run_id": runID.String(),
		"count":  1,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	assert.Len(t, result.Content, 1, "reviewed runs draft without a nudge")

	var resp struct {
		RunID        string `json:"run_id"`
		SegmentRunID string `json:"segment_run_id"`
		Emails       []struct {
			Company string `json:"company"`
			Subject string `json:"subject"`
			Body    string `json:"body"`
		} `json:"emails"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))

	assert.Equal(t, runID.String(), resp.RunID)
	assert.NotEqual(t, runID.String(), resp.SegmentRunID)
	require.Len(t, resp.Emails, 1)
	assert.Equal(t, "acme", resp.Emails[0].Company, "best match drafts first")
	assert.NotEmpty(t, resp.Emails[0].Body)

	// The call returned after drafting finished.
	run, err := s.controller.Snapshot(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseWriterDone, run.Phase)
	assert.Equal(t, model.RunStatusCompleted, run.Status)

	// The segment id works on the timeline tool.
	tl, err := s.handleGetTimeline(context.Background(), toolRequest("tegami_get_timeline", map[string]any{
		"run_id": resp.SegmentRunID,
	}))
	require.NoError(t, err)
	require.False(t, tl.IsError)
	assert.Contains(t, parseToolText(t, tl), string(model.EventEmailDrafted))
}

func TestDraftOutreachNudgesUnreviewedRun(t *testing.T) {
	s := newTestServer(t)
	runID := startDiscoveryRun(t, s)
	waitForRun(t, s, runID)

	result, err := s.handleDraftOutreach(context.Background(), toolRequest("tegami_draft_outreach", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	require.Len(t, result.Content, 2)
	nudge, ok := result.Content[1].(mcplib.TextContent)
	require.True(t, ok)
	assert.Contains(t, nudge.Text, "tegami_get_run was not called")
}

func TestDraftOutreachRejections(t *testing.T) {
	s := newTestServer(t)
	runID := startDiscoveryRun(t, s)
	waitForRun(t, s, runID)

	// Threshold above every score.
	result, err := s.handleDraftOutreach(context.Background(), toolRequest("tegami_draft_outreach", map[string]any{
		"run_id":    runID.String(),
		"min_match": 99.0,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "no company scored at least 99")

	// Unknown run.
	result, err = s.handleDraftOutreach(context.Background(), toolRequest("tegami_draft_outreach", map[string]any{
		"run_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found")

	// Count out of range.
	result, err = s.handleDraftOutreach(context.Background(), toolRequest("tegami_draft_outreach", map[string]any{
		"run_id": runID.String(),
		"count":  99,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "count must be between")
}

func TestSaveItemVariants(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// Item as a JSON string.
	result, err := s.handleSaveItem(ctx, toolRequest("tegami_save_item", map[string]any{
		"kind": "company",
		"item": `{"name":"acme","score":80}`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	var saveResp struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &saveResp))
	assert.Equal(t, "saved", saveResp.Status)
	assert.GreaterOrEqual(t, saveResp.ID, int64(1))

	// Item as a JSON object.
	result, err = s.handleSaveItem(ctx, toolRequest("tegami_save_item", map[string]any{
		"kind": "email",
		"item": map[string]any{"company": "acme", "subject": "hello"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	// Invalid JSON string.
	result, err = s.handleSaveItem(ctx, toolRequest("tegami_save_item", map[string]any{
		"kind": "company",
		"item": `{"name":`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "valid JSON")

	// Missing item.
	result, err = s.handleSaveItem(ctx, toolRequest("tegami_save_item", map[string]any{
		"kind": "company",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "item is required")

	// Unknown kind.
	result, err = s.handleSaveItem(ctx, toolRequest("tegami_save_item", map[string]any{
		"kind": "bookmark",
		"item": `{}`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), `unknown kind "bookmark"`)
}

func TestListSaved(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, save := range []map[string]any{
		{"kind": "company", "item": `{"name":"acme"}`},
		{"kind": "email", "item": `{"company":"acme","subject":"hello"}`},
	} {
		result, err := s.handleSaveItem(ctx, toolRequest("tegami_save_item", save))
		require.NoError(t, err)
		require.False(t, result.IsError, parseToolText(t, result))
	}

	result, err := s.handleListSaved(ctx, toolRequest("tegami_list_saved", map[string]any{
		"kind": "company",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var resp struct {
		Total int `json:"total"`
		Items []struct {
			Kind string `json:"kind"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "company", resp.Items[0].Kind)

	result, err = s.handleListSaved(ctx, toolRequest("tegami_list_saved", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 2, resp.Total)

	result, err = s.handleListSaved(ctx, toolRequest("tegami_list_saved", map[string]any{
		"kind": "bookmark",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSavedToolsWithoutStore(t *testing.T) {
	s := newTestServer(t)
	s.saved = nil

	result, err := s.handleSaveItem(context.Background(), toolRequest("tegami_save_item", map[string]any{
		"kind": "company",
		"item": `{}`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not configured")

	result, err = s.handleListSaved(context.Background(), toolRequest("tegami_list_saved", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not configured")
}

func TestRolesResource(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleRolesResource(context.Background(), mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", text.MIMEType)
	assert.Contains(t, text.Text, "ai engineer")
	assert.Contains(t, text.Text, "keywords")
}

func TestRunResource(t *testing.T) {
	s := newTestServer(t)
	runID := startDiscoveryRun(t, s)
	waitForRun(t, s, runID)

	req := mcplib.ReadResourceRequest{}
	req.Params.URI = "tegami://runs/" + runID.String()
	contents, err := s.handleRunResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	// The resource carries the full snapshot, stage outputs included.
	assert.Contains(t, text.Text, `"acme"`)
	assert.Contains(t, text.Text, `"outputs"`)

	req.Params.URI = "tegami://runs/not-a-uuid"
	_, err = s.handleRunResource(context.Background(), req)
	require.Error(t, err)
}

func TestJobSearchPrompt(t *testing.T) {
	s := newTestServer(t)

	req := mcplib.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"city": "Austin", "role": "AI Engineer"}
	result, err := s.handleJobSearchPrompt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)

	text, ok := result.Messages[0].Content.(mcplib.TextContent)
	require.True(t, ok)
	for _, tool := range []string{"tegami_start_discovery", "tegami_get_run", "tegami_draft_outreach", "tegami_save_item"} {
		assert.Contains(t, text.Text, tool)
	}
	assert.True(t, strings.Contains(text.Text, "Austin"))

	req.Params.Arguments = map[string]string{"city": "Austin"}
	_, err = s.handleJobSearchPrompt(context.Background(), req)
	require.Error(t, err)
}
