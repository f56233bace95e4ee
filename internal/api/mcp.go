package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rada-agent/rada/internal/agent"
	"github.com/rada-agent/rada/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Agent *agent.Agent
}

// NewMCPServer creates an MCP server exposing the agent's analyze, context
// and feedback operations as tools, with stats and recent interactions as
// resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"rada",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rada — self-improving data analysis agent: submit tasks, teach it with context, rate its answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze",
			mcp.WithDescription("Run a natural-language data analysis task: code is generated, executed in a sandbox, and the result returned."),
			mcp.WithString("query", mcp.Description("The analysis task in plain language"), mcp.Required()),
		),
		mcpAnalyze(deps),
	)

	s.AddTool(
		mcp.NewTool("add_context",
			mcp.WithDescription("Store a knowledge snippet that future analyses can retrieve."),
			mcp.WithString("content", mcp.Description("The text content to store"), mcp.Required()),
			mcp.WithString("topic", mcp.Description("Optional topic label")),
		),
		mcpAddContext(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Rate a past analysis; positive feedback teaches the agent to reuse the pattern."),
			mcp.WithString("interaction_id", mcp.Description("ID of the interaction to rate"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("Free-text feedback"), mcp.Required()),
		),
		mcpSubmitFeedback(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"rada://stats",
			"Agent Statistics",
			mcp.WithResourceDescription("Interaction counts, success rate and knowledge base size"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"rada://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 analysis interactions (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAnalyze(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := deps.Agent.Analyze(ctx, query)
		if err != nil {
			var execErr *agent.ExecutionError
			if errors.As(err, &execErr) {
				return mcpError(fmt.Sprintf("generated code failed:\n%s\n\ncode:\n%s", execErr.Trace, execErr.GeneratedCode)), nil
			}
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"interaction_id": res.InteractionID,
			"result":         res.Result,
			"generated_code": res.GeneratedCode,
			"success_score":  res.SuccessScore,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		var metadata map[string]any
		if topic := req.GetString("topic", ""); topic != "" {
			metadata = map[string]any{"topic": topic}
		}

		id, err := deps.Agent.AddContext(ctx, content, metadata)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store context: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored context entry %s", id)), nil
	}
}

func mcpSubmitFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		interactionID, err := req.RequireString("interaction_id")
		if err != nil {
			return mcpError("interaction_id is required"), nil
		}
		feedback, err := req.RequireString("feedback")
		if err != nil {
			return mcpError("feedback is required"), nil
		}

		score, err := deps.Agent.SubmitFeedback(ctx, interactionID, feedback, nil)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("interaction not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record feedback: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Feedback recorded, new score %.2f", score)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Agent.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Agent.ListInteractions(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list interactions: %w", err)
		}

		type interactionSummary struct {
			ID           string  `json:"id"`
			CreatedAt    string  `json:"created_at"`
			Query        string  `json:"query"`
			Status       string  `json:"status"`
			SuccessScore float64 `json:"success_score"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			query := ix.UserQuery
			if utf8.RuneCountInString(query) > 200 {
				runes := []rune(query)
				query = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:           ix.ID,
				CreatedAt:    ix.CreatedAt.Format(time.RFC3339),
				Query:        query,
				Status:       ix.Status,
				SuccessScore: ix.SuccessScore,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
