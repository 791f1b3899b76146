package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// job-search — walks the agent through one full pipeline run.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("job-search",
			mcplib.WithPromptDescription("Run a full job-search pipeline: discover companies, review them, draft outreach"),
			mcplib.WithArgument("city",
				mcplib.ArgumentDescription("City to search in"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("role",
				mcplib.ArgumentDescription("Job role to match against"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleJobSearchPrompt,
	)

	// agent-setup — system prompt snippet explaining the Tegami workflow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the Tegami discovery and outreach workflow"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleJobSearchPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	city := request.Params.Arguments["city"]
	role := request.Params.Arguments["role"]
	if city == "" || role == "" {
		return nil, fmt.Errorf("city and role arguments are required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Find %s roles in %s and draft outreach", role, city),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Run a job search for "%s" roles in %s, end to end:

1. START discovery: call tegami_start_discovery with city="%s" and
   role="%s". Check the tegami://roles resource first; if a curated
   role matches the intent, use its exact name.

2. WAIT for the run: poll tegami_get_run until status is "completed".
   If it is "failed", read tegami_get_timeline to see which stage broke
   and report why instead of continuing.

3. REVIEW the companies: look at scores, match reasoning, and any
   research intel. Decide how many are worth contacting and what score
   cutoff separates strong matches from noise.

4. DRAFT outreach: call tegami_draft_outreach with the count and
   min_match you chose in step 3. The call waits and returns the
   emails.

5. KEEP the best: call tegami_save_item for each company and email
   worth keeping. Runs are evicted after an idle TTL; saved items
   are not.`, role, city, city, role),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Tegami discovery and outreach workflow for AI agents",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to Tegami, a job-outreach pipeline. It discovers startups
hiring for a role in a city, researches them, and drafts personalized
outreach emails.

## The Pattern: Discover, Review, Draft, Save

### Discover
Call tegami_start_discovery with a city and role. The run executes in
the background; poll tegami_get_run until status is "completed".
Depth controls effort: light is a fast scan, deep is thorough but slow.

### Review
Read the companies from tegami_get_run before drafting. Scores run
0-100; why_match explains each score. tegami_get_timeline shows the
full narrative, including which queries degraded.

### Draft
Call tegami_draft_outreach with a count and a min_match cutoff chosen
from the actual scores. The call waits for drafting and returns the
emails.

### Save
Runs are evicted after an idle TTL. Call tegami_save_item for any
company or email worth keeping, and tegami_list_saved to recall them.

## Available Tools

- tegami_start_discovery: Start a discovery run (use FIRST)
- tegami_get_run: Poll run state and review companies
- tegami_get_timeline: Read the run's event narrative
- tegami_draft_outreach: Draft emails for the best matches (use AFTER reviewing)
- tegami_save_item: Keep a company or email past run eviction
- tegami_list_saved: List what was kept

## Reading Scores

- 70-100: strong match, draft with confidence
- 40-69: plausible match, check why_match before drafting
- below 40: weak signal, usually not worth an email`,
				},
			},
		},
	}, nil
}
