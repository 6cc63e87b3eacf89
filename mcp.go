package strategist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the strategist tools on an MCP server.
func (s *Strategist) RegisterMCP(srv *mcp.Server) {
	s.registerAnalyzeTool(srv)
	s.registerSchemasTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(errors.New(err.Error()))
	return &res
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Errorf("marshal result: %w", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

// --- analyze ---

type analyzeReq struct {
	HTML  string `json:"html"`
	Query string `json:"query"`
}

func (s *Strategist) registerAnalyzeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "strategist_analyze",
		Description: "Analyze an HTML document against a natural-language extraction intent " +
			"and return a validated extraction schema: container selector, item selector, and " +
			"per-field primary + fallback CSS selectors with confidence scores.",
		InputSchema: inputSchema(map[string]any{
			"html":  map[string]any{"type": "string", "description": "Raw HTML document to analyze"},
			"query": map[string]any{"type": "string", "description": "What to extract, in natural language"},
		}, []string{"html", "query"}),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var a analyzeReq
		if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if a.HTML == "" || a.Query == "" {
			return toolError(errors.New("html and query are required")), nil
		}
		schema, err := s.Analyze(ctx, a.HTML, a.Query)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(schema)
	})
}

// --- schemas ---

type schemasReq struct {
	Limit int `json:"limit"`
}

func (s *Strategist) registerSchemasTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "strategist_schemas",
		Description: "List recently generated extraction schemas from the schema store, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum number of schemas to return (default 50)"},
		}, nil),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.store == nil {
			return toolError(errors.New("no schema store configured")), nil
		}
		var q schemasReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &q); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		recs, err := s.store.List(ctx, q.Limit)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(recs)
	})
}
