package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mdbook-plantuml/internal/diagramservice"
	"github.com/starford/mdbook-plantuml/internal/identity"
	"github.com/starford/mdbook-plantuml/internal/render/rendertest"
	"github.com/starford/mdbook-plantuml/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	svc, _ := testutil.TestService(t, rendertest.CopySource)
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "render_diagram":
		result, err = srv.renderDiagram(ctx, req)
	case "render_from_url":
		result, err = srv.renderFromURL(ctx, req)
	case "list_artifacts":
		result, err = srv.listArtifacts(ctx, req)
	case "search_diagrams":
		result, err = srv.searchDiagrams(ctx, req)
	case "read_diagram_source":
		result, err = srv.readDiagramSource(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestRenderAndReadSource(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "render_diagram", map[string]interface{}{"source": testutil.Diagram})
	if r.IsError {
		t.Fatalf("render error: %s", resultText(r))
	}
	var res diagramservice.RenderResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("render result not JSON: %v", err)
	}
	if res.File != identity.Name(testutil.Diagram, "svg") {
		t.Errorf("file = %q", res.File)
	}

	r = callTool(t, srv, "read_diagram_source", map[string]interface{}{"file": res.File})
	if resultText(r) != testutil.Diagram {
		t.Errorf("source = %q", resultText(r))
	}
}

func TestRenderDiagram_Errors(t *testing.T) {
	srv := testServer(t)
	if r := callTool(t, srv, "render_diagram", map[string]interface{}{}); !r.IsError {
		t.Error("missing source should error")
	}
	r := callTool(t, srv, "render_diagram", map[string]interface{}{"source": testutil.Diagram, "format": "gif"})
	if !r.IsError || !strings.Contains(resultText(r), "unsupported format") {
		t.Errorf("bad format: %q", resultText(r))
	}
}

func TestListArtifacts(t *testing.T) {
	srv := testServer(t)
	if got := resultText(callTool(t, srv, "list_artifacts", map[string]interface{}{})); got != "no artifacts" {
		t.Errorf("empty list = %q", got)
	}

	_ = callTool(t, srv, "render_diagram", map[string]interface{}{"source": testutil.Diagram, "format": "png"})
	_ = callTool(t, srv, "render_diagram", map[string]interface{}{"source": testutil.Diagram, "format": "svg"})

	text := resultText(callTool(t, srv, "list_artifacts", map[string]interface{}{"format": "png"}))
	if text != identity.Name(testutil.Diagram, "png") {
		t.Errorf("png list = %q", text)
	}
}

func TestSearchDiagrams(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "render_diagram", map[string]interface{}{"source": "@startuml\nAlice -> Bob\n@enduml\n"})

	text := resultText(callTool(t, srv, "search_diagrams", map[string]interface{}{"query": "Alice"}))
	if !strings.Contains(text, "Alice -> Bob") {
		t.Errorf("search = %q", text)
	}
	if strings.Contains(text, `\u003e`) {
		t.Errorf("arrows should not be HTML-escaped: %q", text)
	}
	var results []map[string]interface{}
	if err := json.Unmarshal([]byte(text), &results); err != nil || len(results) != 1 {
		t.Errorf("search result is not a one-element JSON array: %v (%q)", err, text)
	}
}

func TestReadSourceMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_diagram_source", map[string]interface{}{"file": "nope.svg"})
	if !r.IsError {
		t.Error("expected error for missing artifact")
	}
}

func TestRenderFromDataURI(t *testing.T) {
	srv := testServer(t)
	uri := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte(testutil.Diagram))

	r := callTool(t, srv, "render_from_url", map[string]interface{}{"url": uri, "format": "png"})
	if r.IsError {
		t.Fatalf("render_from_url: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), identity.Name(testutil.Diagram, "png")) {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestRenderFromURL_Rejects(t *testing.T) {
	srv := testServer(t)
	cases := []string{
		"data:text/plain," + testutil.Diagram,
		"data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("not a diagram")),
		"ftp://example.com/a.puml",
		"http://127.0.0.1/a.puml",
		"http://169.254.169.254/latest",
	}
	for _, u := range cases {
		if r := callTool(t, srv, "render_from_url", map[string]interface{}{"url": u}); !r.IsError {
			t.Errorf("%q should be rejected", u)
		}
	}
}

func TestFormatsResource(t *testing.T) {
	srv := testServer(t)
	contents, err := srv.readFormatsResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	for _, want := range []string{"| `txt` | `atxt` |", "| `braille` | `braille.png` |", "@startditaa"} {
		if !strings.Contains(text, want) {
			t.Errorf("formats document missing %q", want)
		}
	}
}
