package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fieldguide/internal/metrics"
	"github.com/kalambet/fieldguide/internal/pipeline"
	"github.com/kalambet/fieldguide/internal/session"
)

const defaultIndexWait = 2 * time.Minute

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	// Index blocks until the shared index is ready or its build failed.
	Index    func(ctx context.Context) (pipeline.Searcher, error)
	Answerer session.QuestionAnswerer
	Sources  SourceLister // optional; if nil, protocols://sources is not registered
	Metrics  *metrics.Metrics
	// IndexWait bounds how long a tool call waits for the index.
	IndexWait time.Duration
}

// GateIndex adapts an IndexGate to MCPDeps.Index.
func GateIndex(g *pipeline.IndexGate) func(ctx context.Context) (pipeline.Searcher, error) {
	return func(ctx context.Context) (pipeline.Searcher, error) {
		ix, err := g.Wait(ctx)
		if err != nil {
			return nil, err
		}
		return ix, nil
	}
}

// NewMCPServer creates an MCP server with the protocol tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"fieldguide",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fieldguide answers questions about military emergency protocols from a fixed set of official PDF manuals."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_protocol",
			mcp.WithDescription("Answer an emergency-protocol question from the indexed manuals. Returns the answer followed by its source pages."),
			mcp.WithString("question", mcp.Description("The question to answer")),
			mcp.WithString("preset", mcp.Description("ID of a quick-access preset to ask instead of a question")),
		),
		mcpAskProtocol(deps),
	)

	s.AddTool(
		mcp.NewTool("search_protocols",
			mcp.WithDescription("Return the manual passages most similar to a query, best first."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 4)")),
		),
		mcpSearchProtocols(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"protocols://presets",
			"Quick-access presets",
			mcp.WithResourceDescription("The preset emergency questions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePresets(),
	)

	if deps.Sources != nil {
		s.AddResource(
			mcp.NewResource(
				"protocols://sources",
				"Indexed manuals",
				mcp.WithResourceDescription("Per-file ingestion results as JSON"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceSources(deps),
		)
	}

	return s
}

func waitIndex(ctx context.Context, deps MCPDeps) (pipeline.Searcher, error) {
	wait := deps.IndexWait
	if wait <= 0 {
		wait = defaultIndexWait
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ix, err := deps.Index(wctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, pipeline.ErrIndexPending
	}
	return ix, err
}

func mcpAskProtocol(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question := strings.TrimSpace(req.GetString("question", ""))
		if presetID := req.GetString("preset", ""); presetID != "" {
			p, ok := session.LookupPreset(presetID)
			if !ok {
				return mcpError(fmt.Sprintf("unknown preset %q", presetID)), nil
			}
			question = p.Question
		}
		if question == "" {
			return mcpError("question or preset is required"), nil
		}

		ix, err := waitIndex(ctx, deps)
		if err != nil {
			return mcpError(fmt.Sprintf("index not available: %v", err)), nil
		}

		ans, err := deps.Answerer.Answer(ctx, ix, question)
		if err != nil {
			deps.Metrics.QueryFailed("mcp")
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		deps.Metrics.ObserveQuery("mcp", string(ans.Shape), ans.Latency)

		var sb strings.Builder
		sb.WriteString(ans.Text)
		if len(ans.References) > 0 {
			sb.WriteString("\n\nSources:\n")
			for _, h := range ans.References {
				fmt.Fprintf(&sb, "- %s, page %d (score %.2f)\n", h.File, h.Page, h.Score)
			}
		}
		return mcpText(sb.String()), nil
	}
}

func mcpSearchProtocols(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 4)
		if limit <= 0 {
			limit = 4
		}
		if limit > 20 {
			limit = 20
		}

		ix, err := waitIndex(ctx, deps)
		if err != nil {
			return mcpError(fmt.Sprintf("index not available: %v", err)), nil
		}

		hits, err := ix.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePresets() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(session.Presets())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal presets: %w", err)
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

func mcpResourceSources(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		srcs, err := deps.Sources.ListSources()
		if err != nil {
			return nil, fmt.Errorf("failed to list sources: %w", err)
		}
		b, err := json.Marshal(srcs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sources: %w", err)
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
