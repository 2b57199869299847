// Package mcp exposes the tracker search controller as MCP tools over streamable HTTP.
package mcp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	mcp "github.com/mark3labs/mcp-go/mcp"
	srv "github.com/mark3labs/mcp-go/server"

	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/search"
	"github.com/Laisky/tracker-search/library/sites"
)

const (
	serverName        = "tracker-search"
	serverVersion     = "1.0.0"
	defaultWaitSecond = 20
)

// Server wraps the MCP server state for the HTTP transport.
type Server struct {
	handler  http.Handler
	logger   logSDK.Logger
	ctrl     *search.Controller
	registry *sites.Registry
	maxWait  time.Duration
}

// NewServer constructs a remote MCP server exposing the search tools under a single handler.
// maxWait bounds how long tracker_search may block waiting for sources.
func NewServer(ctrl *search.Controller,
	registry *sites.Registry,
	maxWait time.Duration,
	logger logSDK.Logger) (*Server, error) {
	if ctrl == nil {
		return nil, errors.New("search controller is required")
	}
	if registry == nil {
		return nil, errors.New("site registry is required")
	}
	if logger == nil {
		logger = log.Logger
	}
	if maxWait <= 0 {
		maxWait = time.Minute
	}

	mcpServer := srv.NewMCPServer(
		serverName,
		serverVersion,
		srv.WithToolCapabilities(true),
		srv.WithInstructions("Use tracker_search to query every tracker of a solution at once, "+
			"then tracker_search_status to follow slow sources and tracker_search_retry to retry failed ones."),
		srv.WithRecovery(),
		srv.WithHooks(newMCPHooks(logger.Named("mcp_hooks"))),
	)

	s := &Server{
		handler:  srv.NewStreamableHTTPServer(mcpServer),
		logger:   logger.Named("mcp"),
		ctrl:     ctrl,
		registry: registry,
		maxWait:  maxWait,
	}

	mcpServer.AddTool(mcp.NewTool(
		"tracker_search",
		mcp.WithDescription("Start a fresh search across every source of a solution and return merged, deduplicated results."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Plain text search query."),
		),
		mcp.WithString("solution",
			mcp.Description("Solution id naming the set of sources. Empty selects the default solution."),
		),
		mcp.WithNumber("wait_seconds",
			mcp.Description("How long to wait for sources before returning partial results."),
			mcp.DefaultNumber(defaultWaitSecond),
			mcp.Min(0),
		),
		mcp.WithOpenWorldHintAnnotation(true),
	), s.handleSearch)

	mcpServer.AddTool(mcp.NewTool(
		"tracker_search_status",
		mcp.WithDescription("Report per-source progress of the current search, optionally with the merged results."),
		mcp.WithBoolean("include_results",
			mcp.Description("Include merged results in the response."),
			mcp.DefaultBool(false),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	), s.handleStatus)

	mcpServer.AddTool(mcp.NewTool(
		"tracker_search_retry",
		mcp.WithDescription("Re-run the sources of the current search that ended in one of the given error statuses."),
		mcp.WithArray("statuses",
			mcp.Description("Error statuses to retry. Empty retries every retryable status."),
			mcp.Items(map[string]any{"type": "string", "enum": errorStatusNames()}),
		),
		mcp.WithOpenWorldHintAnnotation(true),
	), s.handleRetry)

	return s, nil
}

// Handler returns the HTTP handler that should be mounted to serve MCP traffic.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func errorStatusNames() []string {
	var names []string
	for _, st := range search.AllStatuses {
		if st.IsError() {
			names = append(names, string(st))
		}
	}
	return names
}

func newMCPHooks(logger logSDK.Logger) *srv.Hooks {
	if logger == nil {
		return nil
	}

	hooks := &srv.Hooks{}

	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcp.MCPMethod, message any) {
		logger.Debug("mcp request received", hookLogFields(ctx, id, method)...)
	})

	hooks.AddOnSuccess(func(ctx context.Context, id any, method mcp.MCPMethod, message any, result any) {
		logger.Debug("mcp request succeeded", hookLogFields(ctx, id, method)...)
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		fields := hookLogFields(ctx, id, method)
		if message != nil {
			fields = append(fields, zap.Any("request", message))
		}
		fields = append(fields, zap.Error(err))
		logger.Error("mcp request failed", fields...)
	})

	hooks.AddOnRegisterSession(func(ctx context.Context, session srv.ClientSession) {
		logger.Info("mcp session registered", zap.String("session_id", session.SessionID()))
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session srv.ClientSession) {
		logger.Info("mcp session unregistered", zap.String("session_id", session.SessionID()))
	})

	return hooks
}

func hookLogFields(ctx context.Context, id any, method mcp.MCPMethod) []zap.Field {
	fields := []zap.Field{
		zap.Any("request_id", id),
		zap.String("method", string(method)),
	}

	if session := srv.ClientSessionFromContext(ctx); session != nil {
		fields = append(fields, zap.String("session_id", session.SessionID()))
	}

	return fields
}

func (s *Server) defaultSolution(solution string) string {
	solution = strings.TrimSpace(solution)
	if solution == "" {
		return s.registry.DefaultSolution()
	}
	return solution
}
