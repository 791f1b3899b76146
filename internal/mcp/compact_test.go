package mcp

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tegami/internal/model"
)

func sampleRun() *model.Run {
	now := time.Now()
	return &model.Run{
		ID:     uuid.New(),
		Status: model.RunStatusCompleted,
		Phase:  model.PhaseDiscoveryDone,
		Stages: []model.Stage{model.StageDiscovery},
		Outputs: map[model.Stage]model.StageResult{
			model.StageDiscovery: {
				Stage: model.StageDiscovery,
				Discovery: &model.DiscoveryOutput{
					City:  "Austin",
					Role:  "AI Engineer",
					Depth: "standard",
					Companies: []model.CompanyIntel{
						{Name: "acme", Homepage: "https://acme.dev", Score: 80, WhyMatch: "ships LLM infra"},
					},
					QueryHits:     map[string]int{"ai startups austin": 9},
					ResumeExcerpt: "ten years of Go and distributed systems",
				},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCompactRunDropsBookkeeping(t *testing.T) {
	run := sampleRun()

	raw, err := json.Marshal(compactRun(run))
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, `"acme"`)
	assert.Contains(t, text, `"score":80`)
	assert.NotContains(t, text, "query_hits")
	assert.NotContains(t, text, "resume_excerpt")
	assert.NotContains(t, text, "emails", "no emails before the writer runs")
}

func TestCompactRunPrefersResearchCompanies(t *testing.T) {
	run := sampleRun()
	run.Outputs[model.StageResearch] = model.StageResult{
		Stage: model.StageResearch,
		Research: &model.ResearchOutput{
			Companies: []model.CompanyIntel{
				{
					Name:     "acme",
					Homepage: "https://acme.dev",
					Score:    80,
					Intel: &model.IntelBundle{
						News:       &model.Facet{Summary: "raised a Series B last quarter"},
						Confidence: 0.8,
					},
				},
			},
		},
	}

	m := compactRun(run)
	companies, ok := m["companies"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, companies, 1)
	intel, ok := companies[0]["intel"].(map[string]any)
	require.True(t, ok, "research companies carry intel")
	assert.Equal(t, 0.8, intel["confidence"])
	assert.Equal(t, "raised a Series B last quarter", intel["news"])
}

func TestCompactRunIncludesEmailsInFull(t *testing.T) {
	run := sampleRun()
	body := strings.Repeat("a long paragraph about the company. ", 20)
	run.Outputs[model.StageWriter] = model.StageResult{
		Stage: model.StageWriter,
		Writer: &model.WriterOutput{
			Emails:       []model.OutreachEmail{{Company: "acme", Subject: "hello", Body: body}},
			SegmentRunID: uuid.NewString(),
		},
	}

	m := compactRun(run)
	emails, ok := m["emails"].([]model.OutreachEmail)
	require.True(t, ok)
	require.Len(t, emails, 1)
	assert.Equal(t, body, emails[0].Body, "email bodies are never truncated")
	assert.NotEmpty(t, m["segment_run_id"])
}

func TestCompactRunCarriesError(t *testing.T) {
	run := sampleRun()
	run.Status = model.RunStatusFailed
	run.Error = &model.RunError{Stage: model.StageDiscovery, Code: "PROVIDER_UNAVAILABLE", Message: "search provider down"}

	m := compactRun(run)
	require.NotNil(t, m["error"])

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "PROVIDER_UNAVAILABLE")
}

func TestCompactCompanyOmitsEmptyFields(t *testing.T) {
	m := compactCompany(model.CompanyIntel{Name: "acme", Homepage: "https://acme.dev", Score: 42})

	assert.Len(t, m, 3)
	for _, key := range []string{"name", "homepage", "score"} {
		assert.Contains(t, m, key)
	}
}

func TestCompactCompanyTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", maxCompactChars+50)
	m := compactCompany(model.CompanyIntel{Name: "acme", Description: long, WhyMatch: long})

	desc, ok := m["description"].(string)
	require.True(t, ok)
	assert.Len(t, desc, maxCompactChars+3)
	assert.True(t, strings.HasSuffix(desc, "..."))
}

func TestCompactEvent(t *testing.T) {
	ev := model.TimelineEvent{Seq: 3, Agent: model.AgentDiscovery, Type: model.EventSearchPass, Message: "pass 1", Level: model.LevelInfo}
	m := compactEvent(ev)
	assert.Equal(t, int64(3), m["seq"])
	assert.NotContains(t, m, "level", "info is the default and stays implicit")
	assert.NotContains(t, m, "payload")

	ev.Level = model.LevelWarn
	m = compactEvent(ev)
	assert.Equal(t, model.LevelWarn, m["level"])
}

func TestTruncateRespectsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	long := strings.Repeat("日", maxCompactChars+5)
	got := truncate(long, maxCompactChars)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, maxCompactChars+3, len([]rune(got)))
	assert.Equal(t, strings.Repeat("日", maxCompactChars), strings.TrimSuffix(got, "..."))
}
