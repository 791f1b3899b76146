package mcp

import (
	"github.com/ashita-ai/tegami/internal/model"
)

const maxCompactChars = 200

// compactRun returns a minimal representation of a run for MCP responses.
// Drops internal bookkeeping (query hit maps, resume excerpts, raw stage
// outputs) that agents don't act on, and flattens the most enriched company
// list to the top level. Writer emails pass through in full because they
// are the deliverable.
func compactRun(r *model.Run) map[string]any {
	m := map[string]any{
		"id":         r.ID.String(),
		"status":     r.Status,
		"phase":      r.Phase,
		"stages":     r.Stages,
		"created_at": r.CreatedAt,
		"updated_at": r.UpdatedAt,
	}
	if r.Error != nil {
		m["error"] = r.Error
	}

	if companies := bestCompanies(r); len(companies) > 0 {
		compacted := make([]map[string]any, len(companies))
		for i, co := range companies {
			compacted[i] = compactCompany(co)
		}
		m["companies"] = compacted
	}
	if out, ok := r.Outputs[model.StageWriter]; ok && out.Writer != nil {
		m["emails"] = out.Writer.Emails
		m["segment_run_id"] = out.Writer.SegmentRunID
	}
	return m
}

// bestCompanies returns the most enriched company list the run holds:
// research output when present, discovery output otherwise.
func bestCompanies(r *model.Run) []model.CompanyIntel {
	if out, ok := r.Outputs[model.StageResearch]; ok && out.Research != nil {
		return out.Research.Companies
	}
	if out, ok := r.Outputs[model.StageDiscovery]; ok && out.Discovery != nil {
		return out.Discovery.Companies
	}
	return nil
}

// compactCompany keeps the fields an agent needs to pick outreach targets.
func compactCompany(co model.CompanyIntel) map[string]any {
	m := map[string]any{
		"name":     co.Name,
		"homepage": co.Homepage,
		"score":    co.Score,
	}
	if co.Location != "" {
		m["location"] = co.Location
	}
	if co.Description != "" {
		m["description"] = truncate(co.Description, maxCompactChars)
	}
	if co.WhyMatch != "" {
		m["why_match"] = truncate(co.WhyMatch, maxCompactChars)
	}
	if co.JobPosting != nil {
		m["job_posting"] = map[string]any{
			"title": co.JobPosting.Title,
			"url":   co.JobPosting.URL,
		}
	}
	if co.Intel != nil {
		m["intel"] = compactIntel(co.Intel)
	}
	return m
}

// compactIntel flattens an intel bundle to facet summary strings.
func compactIntel(b *model.IntelBundle) map[string]any {
	m := map[string]any{"confidence": b.Confidence}
	for facet, f := range map[string]*model.Facet{
		"news":       b.News,
		"tech_stack": b.TechStack,
		"funding":    b.Funding,
		"culture":    b.Culture,
		"growth":     b.Growth,
	} {
		if f != nil && f.Summary != "" {
			m[facet] = truncate(f.Summary, maxCompactChars)
		}
	}
	return m
}

// compactEvent keeps the narrative fields of a timeline event. The payload
// is dropped; the message carries the human-readable line.
func compactEvent(ev model.TimelineEvent) map[string]any {
	m := map[string]any{
		"seq":     ev.Seq,
		"agent":   ev.Agent,
		"type":    ev.Type,
		"message": ev.Message,
	}
	if ev.Level != model.LevelInfo {
		m["level"] = ev.Level
	}
	return m
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
