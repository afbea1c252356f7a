// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/evanschultz/indexplan/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the indexing tools.
func NewHandler(cfg Config, indexing common.IndexingService) (*Handler, error) {
	if indexing == nil {
		return nil, fmt.Errorf("indexing service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerChangeTools(mcpSrv, indexing)
	registerPlanTools(mcpSrv, indexing)
	registerDocumentTools(mcpSrv, indexing)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "indexplan"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerChangeTools registers the `indexplan.record_change` tool.
func registerChangeTools(srv *mcpserver.MCPServer, indexing common.IndexingService) {
	srv.AddTool(
		mcp.NewTool(
			"indexplan.record_change",
			mcp.WithDescription("Record one change as its own unit of work. The change is indexed on the next flush."),
			mcp.WithString("type", mcp.Required(), mcp.Description("Entity type from the mapping catalog")),
			mcp.WithString("kind", mcp.Description("Change kind"), mcp.Enum(
				common.KindPut, "add", "update", "delete", "purge", "collection", "index", "purge_all", "delete_by_query",
			)),
			mcp.WithString("id", mcp.Description("Entity identifier (not used by purge_all or delete_by_query)")),
			mcp.WithString("tenant_id", mcp.Description("Tenant identifier (defaults to the configured tenant)")),
			mcp.WithObject("fields", mcp.Description("Record fields for put, add and update")),
			mcp.WithString("query_field", mcp.Description("Document field matched by delete_by_query")),
			mcp.WithString("query_value", mcp.Description("Value matched by delete_by_query")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var change common.ChangeRequest
			if err := req.BindArguments(&change); err != nil {
				return mcp.NewToolResultError("invalid_request: " + err.Error()), nil
			}
			if strings.TrimSpace(change.Type) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "type" not found`), nil
			}
			receipt, err := indexing.RecordChanges(ctx, common.RecordChangesRequest{Changes: []common.ChangeRequest{change}})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(receipt)
			if err != nil {
				return nil, fmt.Errorf("encode record_change result: %w", err)
			}
			return result, nil
		},
	)
}

// registerPlanTools registers the plan and flush tools.
func registerPlanTools(srv *mcpserver.MCPServer, indexing common.IndexingService) {
	srv.AddTool(
		mcp.NewTool(
			"indexplan.plan",
			mcp.WithDescription("Compute the index operations the pending journal would produce, without applying them."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			plan, err := indexing.Plan(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(plan)
			if err != nil {
				return nil, fmt.Errorf("encode plan result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"indexplan.flush",
			mcp.WithDescription("Plan and apply the pending journal to the document index."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			flushed, err := indexing.Flush(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(flushed)
			if err != nil {
				return nil, fmt.Errorf("encode flush result: %w", err)
			}
			return result, nil
		},
	)
}

// registerDocumentTools registers document and type listing tools.
func registerDocumentTools(srv *mcpserver.MCPServer, indexing common.IndexingService) {
	srv.AddTool(
		mcp.NewTool(
			"indexplan.documents",
			mcp.WithDescription("List indexed documents for one tenant, optionally filtered by type."),
			mcp.WithString("tenant_id", mcp.Description("Tenant identifier (defaults to the configured tenant)")),
			mcp.WithString("type", mcp.Description("Entity type filter")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			docs, err := indexing.ListDocuments(ctx, common.DocumentsRequest{
				TenantID: req.GetString("tenant_id", ""),
				Type:     req.GetString("type", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"documents": docs,
			})
			if err != nil {
				return nil, fmt.Errorf("encode documents result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"indexplan.types",
			mcp.WithDescription("List entity types known to the mapping catalog."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			types, err := indexing.ListTypes(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"types": types,
			})
			if err != nil {
				return nil, fmt.Errorf("encode types result: %w", err)
			}
			return result, nil
		},
	)
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrUnknownType):
		return mcp.NewToolResultError("unknown_type: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
