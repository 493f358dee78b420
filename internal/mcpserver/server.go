// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes diagram rendering tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mdbook-plantuml/internal/apperr"
	"github.com/starford/mdbook-plantuml/internal/diagramservice"
)

const formatsURI = "plantuml://formats"

// Server wraps the MCP server with diagram tools.
type Server struct {
	mcp *server.MCPServer
	svc *diagramservice.Service
}

// New creates a new MCP server with all diagram tools registered.
func New(svc *diagramservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"mdbook-plantuml",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("render_diagram",
		mcp.WithDescription("Render PlantUML source to an image file. "+
			"Identical sources are rendered once and reused. See the "+
			formatsURI+" resource for output formats."),
		mcp.WithString("source", mcp.Required(), mcp.Description("PlantUML source including @startuml/@enduml")),
		mcp.WithString("format", mcp.Description("Output format (default svg; ditaa defaults to png)")),
	), s.renderDiagram)

	s.mcp.AddTool(mcp.NewTool("render_from_url",
		mcp.WithDescription("Fetch PlantUML source from an http(s) URL or a base64 data URI and render it."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:text/plain;base64,... URI")),
		mcp.WithString("format", mcp.Description("Output format (default svg)")),
	), s.renderFromURL)

	s.mcp.AddTool(mcp.NewTool("list_artifacts",
		mcp.WithDescription("List rendered diagram artifacts, newest first."),
		mcp.WithString("format", mcp.Description("Optional format filter (e.g. svg, png)")),
	), s.listArtifacts)

	s.mcp.AddTool(mcp.NewTool("search_diagrams",
		mcp.WithDescription("Search rendered diagrams by PlantUML source text or chapter path."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDiagrams)

	s.mcp.AddTool(mcp.NewTool("read_diagram_source",
		mcp.WithDescription("Return the PlantUML source behind a rendered artifact."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Artifact file name (<sha256>.<ext>)")),
	), s.readDiagramSource)

	s.mcp.AddResource(
		mcp.NewResource(formatsURI, "PlantUML Output Formats",
			mcp.WithResourceDescription("Output formats accepted by render_diagram and the file extension each produces."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func (s *Server) renderDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.render(ctx, source, optionalString(req, "format"))
}

func (s *Server) render(ctx context.Context, source, format string) (*mcp.CallToolResult, error) {
	res, err := s.svc.Render(ctx, source, format)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) listArtifacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, total, err := s.svc.ListArtifacts(ctx, 100, 0, optionalString(req, "format"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if total == 0 {
		return mcp.NewToolResultText("no artifacts"), nil
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = r.Path
		if r.Chapter != "" {
			lines[i] += "\t" + r.Chapter
		}
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) searchDiagrams(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) readDiagramSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	src, err := s.svc.ReadSource(ctx, file)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", file)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(src), nil
}

func (s *Server) readFormatsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatsURI,
			MIMEType: "text/markdown",
			Text:     FormatsDocument(),
		},
	}, nil
}

// jsonResult renders v as indented JSON. Diagram sources are full of
// arrows, so HTML escaping stays off.
func jsonResult(v any) *mcp.CallToolResult {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(strings.TrimSuffix(buf.String(), "\n"))
}
