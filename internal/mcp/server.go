// Package mcp exposes the assistant's retrieval tools over the Model
// Context Protocol, so external agents can query the same parts catalog
// and knowledge base the assistant uses internally.
package mcp

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lilybot/lily/internal/agent"
	"github.com/lilybot/lily/internal/log"
)

// Server wraps the MCP SDK server around the assistant's tool set.
type Server struct {
	mcpServer *mcp.Server
	tools     map[string]agent.Tool
	logger    log.Logger
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Tools   []agent.Tool
	Logger  log.Logger
}

// NewServer creates an MCP server and registers every known tool. Tools
// absent from cfg.Tools are simply not exposed; an empty tool set is an
// error because the server would be useless.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if len(cfg.Tools) == 0 {
		return nil, fmt.Errorf("at least one tool is required")
	}

	byName := make(map[string]agent.Tool, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		byName[tool.Name()] = tool
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		tools:  byName,
		logger: cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return s, nil
}

// Run starts the MCP server on the given transport. Blocks until the
// context is cancelled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// SearchInput is the input schema shared by the document search tools.
type SearchInput struct {
	Query string `json:"query" jsonschema:"The search query describing the symptom or topic"`
}

// PartsInput is the input schema for the part lookup tool.
type PartsInput struct {
	PartNumber string `json:"part_number,omitempty" jsonschema:"Exact part number or manufacturer part number"`
	Query      string `json:"query,omitempty" jsonschema:"Free-text search over part names, symptoms, and brands"`
}

// SymptomsInput is the input schema for the common symptoms tool.
type SymptomsInput struct {
	Product string `json:"product" jsonschema:"Appliance type, e.g. Refrigerator or Dishwasher"`
	Symptom string `json:"symptom,omitempty" jsonschema:"Optional symptom to narrow the results"`
}

func (s *Server) registerTools() error {
	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search tools: %w", err)
	}
	partsSchema, err := jsonschema.For[PartsInput](nil)
	if err != nil {
		return fmt.Errorf("schema for parts tool: %w", err)
	}
	symptomsSchema, err := jsonschema.For[SymptomsInput](nil)
	if err != nil {
		return fmt.Errorf("schema for symptoms tool: %w", err)
	}

	register(s, "search_repairs",
		"Search refrigerator and dishwasher repair guides by symptom using semantic similarity.",
		searchSchema,
		func(in SearchInput) map[string]any {
			return map[string]any{"query": in.Query}
		})

	register(s, "search_blogs",
		"Search appliance maintenance and troubleshooting articles using semantic similarity.",
		searchSchema,
		func(in SearchInput) map[string]any {
			return map[string]any{"query": in.Query}
		})

	register(s, "lookup_parts",
		"Look up appliance parts by exact part number, or search the catalog by name, symptom, or brand.",
		partsSchema,
		func(in PartsInput) map[string]any {
			return map[string]any{"part_number": in.PartNumber, "query": in.Query}
		})

	register(s, "common_symptoms",
		"List the most common failure symptoms for an appliance, with the parts that usually fix them.",
		symptomsSchema,
		func(in SymptomsInput) map[string]any {
			return map[string]any{"product": in.Product, "symptom": in.Symptom}
		})

	return nil
}

// register wires one named tool into the MCP server, building the response
// inline the way net/http handlers do. A missing tool is skipped so a
// partially wired deployment still serves what it has.
func register[T any](s *Server, name, description string, schema *jsonschema.Schema, args func(T) map[string]any) {
	tool, ok := s.tools[name]
	if !ok {
		if s.logger != nil {
			s.logger.Warn("tool not available, skipping MCP registration", "tool", name)
		}
		return
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in T) (*mcp.CallToolResult, any, error) {
		text, err := tool.Call(ctx, args(in))
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s failed: %v", name, err)}},
				IsError: true,
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil, nil
	})
}
