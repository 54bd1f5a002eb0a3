// CLAUDE:SUMMARY Registers visionbridge MCP tools: apply rules to an HTML document, dry-run selection, analytics snapshot.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/visionbridge/dom"
	"github.com/hazyhaar/visionbridge/env"
	"github.com/hazyhaar/visionbridge/kit"
	"github.com/hazyhaar/visionbridge/kv"
)

// RegisterMCP registers the visionbridge tools on an MCP server.
func (b *Bridge) RegisterMCP(srv *mcp.Server) {
	b.registerApplyTool(srv)
	b.registerSelectTool(srv)
	b.registerAnalyticsTool(srv)
}

var pageProperties = map[string]any{
	"page_url":   map[string]any{"type": "string", "description": "URL the document was loaded from"},
	"user_agent": map[string]any{"type": "string", "description": "User agent string for userAgentIncludes conditions"},
	"cookie":     map[string]any{"type": "string", "description": "Cookie string (a=1; b=2)"},
	"storage":    map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}, "description": "localStorage entries"},
}

type pageRequest struct {
	PageURL   string            `json:"page_url"`
	UserAgent string            `json:"user_agent,omitempty"`
	Cookie    string            `json:"cookie,omitempty"`
	Storage   map[string]string `json:"storage,omitempty"`
}

func (r *pageRequest) pageContext() (*env.Context, error) {
	return env.New(r.PageURL, r.UserAgent, r.Cookie, kv.NewMemory(r.Storage))
}

// --- apply ---

type applyRequest struct {
	pageRequest
	HTML   string `json:"html"`
	Format string `json:"format,omitempty"`
}

type applyResponse struct {
	Document string  `json:"document"`
	Format   string  `json:"format"`
	Report   *Report `json:"report"`
}

func (b *Bridge) registerApplyTool(srv *mcp.Server) {
	props := map[string]any{
		"html":   map[string]any{"type": "string", "description": "Full HTML document"},
		"format": map[string]any{"type": "string", "enum": []any{"html", "markdown"}, "description": "Output format (default html)"},
	}
	for k, v := range pageProperties {
		props[k] = v
	}
	tool := &mcp.Tool{
		Name:        "visionbridge_apply",
		Description: "Load the rule configurations, select one for the page and apply its actions to the given HTML. Returns the rewritten document and a run report.",
		InputSchema: kit.InputSchema(props, []string{"html", "page_url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*applyRequest)
		format := strings.ToLower(r.Format)
		if format == "" {
			format = "html"
		}
		if format != "html" && format != "markdown" {
			return nil, fmt.Errorf("unsupported format %q", r.Format)
		}
		pc, err := r.pageContext()
		if err != nil {
			return nil, err
		}
		doc, err := dom.ParseString(r.HTML)
		if err != nil {
			return nil, err
		}
		report, err := b.Run(ctx, doc, pc)
		if err != nil {
			return nil, err
		}
		out := doc.String()
		if format == "markdown" {
			if out, err = doc.Markdown(r.PageURL); err != nil {
				return nil, err
			}
		}
		return &applyResponse{Document: out, Format: format, Report: report}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[applyRequest], kit.Logging(b.logger, tool.Name))
}

// --- select ---

func (b *Bridge) registerSelectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "visionbridge_select",
		Description: "Dry run: show which configuration applies to a page, by which tier, and which resolved actions are eligible.",
		InputSchema: kit.InputSchema(pageProperties, []string{"page_url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		pc, err := req.(*pageRequest).pageContext()
		if err != nil {
			return nil, err
		}
		return b.Preview(ctx, pc)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[pageRequest], kit.Logging(b.logger, tool.Name))
}

// --- analytics ---

func (b *Bridge) registerAnalyticsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "visionbridge_analytics",
		Description: "Snapshot of applied-action counts, the recent action log and the last fetch status.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return b.Analytics(), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[struct{}], kit.Logging(b.logger, tool.Name))
}
