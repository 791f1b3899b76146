// Package mcp implements the Model Context Protocol server for Tegami.
//
// The MCP server exposes the pipeline through MCP tools, resources, and
// prompts, so MCP-compatible AI agents can run discovery, follow run
// timelines, and draft outreach without speaking the REST surface. It is
// mounted on the HTTP server as a streamable HTTP endpoint.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/roles"
	"github.com/ashita-ai/tegami/internal/savedstore"
	"github.com/ashita-ai/tegami/internal/timeline"
)

// Server wraps the MCP server around Tegami's pipeline.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	controller *engine.Controller
	bus        *timeline.Bus
	saved      *savedstore.Store
	catalog    *roles.Catalog
	logger     *slog.Logger

	reviews *reviewTracker
}

// Deps wires a Server. Saved may be nil when the saved-items store is not
// configured; the save tools then report that to the caller.
type Deps struct {
	Controller *engine.Controller
	Bus        *timeline.Bus
	Saved      *savedstore.Store
	Catalog    *roles.Catalog
	Version    string
	Logger     *slog.Logger
}

// New creates and configures an MCP server with all tools, resources, and
// prompts registered.
func New(deps Deps) *Server {
	s := &Server{
		controller: deps.Controller,
		bus:        deps.Bus,
		saved:      deps.Saved,
		catalog:    deps.Catalog,
		logger:     deps.Logger,
		reviews:    newReviewTracker(reviewWindow),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"tegami",
		deps.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
