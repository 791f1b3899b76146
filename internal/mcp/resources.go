package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/runstore"
)

func (s *Server) registerResources() {
	// tegami://roles — the curated role catalog.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"tegami://roles",
			"Role Catalog",
			mcplib.WithResourceDescription("Roles with curated search profiles; any role string works, these search better"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRolesResource,
	)

	// tegami://runs/{run_id} — full run snapshot.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"tegami://runs/{run_id}",
			"Run Snapshot",
			mcplib.WithTemplateDescription("Full state of a pipeline run, including complete stage outputs"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleRunResource,
	)
}

// handleRolesResource lists the curated roles with the keywords and related
// roles that shape their discovery queries.
func (s *Server) handleRolesResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	names := s.catalog.Names()
	roleList := make([]map[string]any, 0, len(names))
	for _, name := range names {
		profile := s.catalog.Lookup(name)
		entry := map[string]any{"name": name}
		if len(profile.Keywords) > 0 {
			entry["keywords"] = profile.Keywords
		}
		if len(profile.Related) > 0 {
			entry["related"] = profile.Related
		}
		roleList = append(roleList, entry)
	}

	data, err := json.MarshalIndent(map[string]any{"roles": roleList}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal roles: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "tegami://roles",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// handleRunResource serves the full, uncompacted run snapshot. Tools return
// compact views; this resource is the escape hatch for everything.
func (s *Server) handleRunResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	runID, err := uuid.Parse(strings.TrimPrefix(uri, "tegami://runs/"))
	if err != nil {
		return nil, fmt.Errorf("mcp: invalid run URI %q: %w", uri, err)
	}

	run, err := s.controller.Snapshot(ctx, runID)
	if errors.Is(err, runstore.ErrNotFound) {
		return nil, fmt.Errorf("mcp: run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("mcp: load run: %w", err)
	}

	data, err := json.MarshalIndent(model.SnapshotFromRun(run), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal run: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
