package mcp

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lilybot/lily/internal/agent"
	"github.com/lilybot/lily/internal/log"
)

// echoTool records the last args it was called with and returns a canned
// payload, or a scripted error.
type echoTool struct {
	name     string
	payload  string
	err      error
	lastArgs map[string]any
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "test tool " + e.name }

func (e *echoTool) Call(_ context.Context, args map[string]any) (string, error) {
	e.lastArgs = args
	if e.err != nil {
		return "", e.err
	}
	return e.payload, nil
}

func testTools() (repairs, blogs, parts, symptoms *echoTool, all []agent.Tool) {
	repairs = &echoTool{name: "search_repairs", payload: "repair docs"}
	blogs = &echoTool{name: "search_blogs", payload: "blog docs"}
	parts = &echoTool{name: "lookup_parts", payload: "part details"}
	symptoms = &echoTool{name: "common_symptoms", payload: "symptom list"}
	all = []agent.Tool{repairs, blogs, parts, symptoms}
	return
}

// connectServer builds an MCP server over the given tools and an SDK
// client joined via in-memory transports.
func connectServer(t *testing.T, tools []agent.Tool) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(Config{
		Name:    "lily-test",
		Version: "0.0.1",
		Tools:   tools,
		Logger:  log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func TestNewServer_Validation(t *testing.T) {
	_, _, _, _, all := testTools()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing name", cfg: Config{Version: "1.0.0", Tools: all}},
		{name: "missing version", cfg: Config{Name: "lily", Tools: all}},
		{name: "no tools", cfg: Config{Name: "lily", Version: "1.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.cfg); err == nil {
				t.Error("NewServer() expected error, got nil")
			}
		})
	}
}

func TestListTools(t *testing.T) {
	_, _, _, _, all := testTools()
	session := connectServer(t, all)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}

	var names []string
	for _, tool := range result.Tools {
		if tool.Description == "" {
			t.Errorf("tool %q has empty description", tool.Name)
		}
		names = append(names, tool.Name)
	}
	slices.Sort(names)

	want := []string{"common_symptoms", "lookup_parts", "search_blogs", "search_repairs"}
	if !slices.Equal(names, want) {
		t.Errorf("ListTools() = %v, want %v", names, want)
	}
}

func TestListTools_SkipsMissingTools(t *testing.T) {
	repairs, _, _, _, _ := testTools()
	session := connectServer(t, []agent.Tool{repairs})

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "search_repairs" {
		t.Errorf("ListTools() returned %d tools, want just search_repairs", len(result.Tools))
	}
}

func TestCallTool_Search(t *testing.T) {
	repairs, _, _, _, all := testTools()
	session := connectServer(t, all)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "search_repairs",
		Arguments: map[string]any{"query": "ice maker not working"},
	})
	if err != nil {
		t.Fatalf("CallTool(search_repairs) unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatal("CallTool(search_repairs) returned error result")
	}

	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] type = %T, want *mcp.TextContent", result.Content[0])
	}
	if text.Text != "repair docs" {
		t.Errorf("CallTool text = %q, want %q", text.Text, "repair docs")
	}
	if got := repairs.lastArgs["query"]; got != "ice maker not working" {
		t.Errorf("tool received query %v", got)
	}
}

func TestCallTool_SymptomsArguments(t *testing.T) {
	_, _, _, symptoms, all := testTools()
	session := connectServer(t, all)

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "common_symptoms",
		Arguments: map[string]any{"product": "Refrigerator", "symptom": "Leaking"},
	})
	if err != nil {
		t.Fatalf("CallTool(common_symptoms) unexpected error: %v", err)
	}

	if got := symptoms.lastArgs["product"]; got != "Refrigerator" {
		t.Errorf("product arg = %v, want Refrigerator", got)
	}
	if got := symptoms.lastArgs["symptom"]; got != "Leaking" {
		t.Errorf("symptom arg = %v, want Leaking", got)
	}
}

func TestCallTool_FailureBecomesErrorResult(t *testing.T) {
	_, _, parts, _, all := testTools()
	parts.err = errors.New("catalog offline")
	session := connectServer(t, all)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "lookup_parts",
		Arguments: map[string]any{"part_number": "PS11752778"},
	})
	if err != nil {
		t.Fatalf("CallTool(lookup_parts) unexpected protocol error: %v", err)
	}
	if !result.IsError {
		t.Fatal("CallTool(lookup_parts) IsError = false, want true")
	}
	text := result.Content[0].(*mcp.TextContent)
	if !strings.Contains(text.Text, "catalog offline") {
		t.Errorf("error text = %q, want to mention the cause", text.Text)
	}
}

func TestCallTool_Unknown(t *testing.T) {
	_, _, _, _, all := testTools()
	session := connectServer(t, all)

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "nonexistent_tool",
	})
	if err == nil {
		t.Fatal("CallTool(nonexistent_tool) expected error, got nil")
	}
}
