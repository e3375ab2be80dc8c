package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mpetrov/procdex/internal/chat"
	"github.com/mpetrov/procdex/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server. Both tools run over the
// same retriever and answerer as the HTTP API.
type MCPDeps struct {
	Search Searcher
	Chat   Answerer
}

// NewMCPServer creates an MCP server exposing procedure search and grounded
// question answering as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"procdex",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("procdex — searchable index of operating procedures with grounded question answering."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_procedures",
			mcp.WithDescription("Search operating-procedure sections by semantic similarity, with a lexical fallback."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("department", mcp.Description("Optional department filter (e.g. customer_service)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 8)")),
		),
		mcpSearchProcedures(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_procedures",
			mcp.WithDescription("Answer a question grounded in the stored operating procedures, citing the sections used."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("department", mcp.Description("Optional department filter")),
		),
		mcpAskProcedures(deps),
	)

	return s
}

func mcpSearchProcedures(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 0)
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Search.Retrieve(ctx, retrieval.Query{
			Text:       query,
			Department: req.GetString("department", ""),
			Limit:      limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskProcedures(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		result, err := deps.Chat.Answer(ctx, chat.Request{
			Message:    question,
			Department: req.GetString("department", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}

		payload := map[string]any{
			"response": result.Response,
			"sources":  result.Sources,
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
