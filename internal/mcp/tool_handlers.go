package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/tracker-search/library/search"
)

type planItem struct {
	Key       string        `json:"key"`
	SourceID  string        `json:"source_id"`
	EntryName string        `json:"entry_name"`
	Status    search.Status `json:"status"`
	Results   int           `json:"results"`
	Attempts  int           `json:"attempts"`
	Message   string        `json:"message,omitempty"`
}

// searchResponse is the JSON payload returned by every tool.
type searchResponse struct {
	Session search.SessionInfo    `json:"session"`
	Done    bool                  `json:"done"`
	Plans   []planItem            `json:"plans"`
	Results []search.ResultRecord `json:"results,omitempty"`
}

func (s *Server) buildResponse(includeResults bool) searchResponse {
	info := s.ctrl.Info()
	resp := searchResponse{
		Session: info,
		Done:    info.Status.Done(),
	}
	for _, p := range s.ctrl.Plans() {
		resp.Plans = append(resp.Plans, planItem{
			Key:       p.Key(),
			SourceID:  p.SourceID,
			EntryName: p.EntryName,
			Status:    p.Status,
			Results:   p.ResultCount,
			Attempts:  p.Attempts,
			Message:   p.Message,
		})
	}
	if includeResults {
		resp.Results = s.ctrl.Results()
	}
	return resp
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ctrl == nil {
		return mcp.NewToolResultError("tracker search is not configured"), nil
	}

	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return mcp.NewToolResultError("query cannot be empty"), nil
	}

	solution := s.defaultSolution(readStringArg(req, "solution"))
	wait := s.waitDuration(readFloatArg(req, "wait_seconds", defaultWaitSecond))

	info, err := s.ctrl.Search(ctx, query, solution, true)
	if err != nil {
		s.logger.Warn("tracker_search rejected",
			zap.Error(err),
			zap.String("query", query),
			zap.String("solution", solution))
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		if err = s.ctrl.Wait(waitCtx); err != nil {
			s.logger.Debug("tracker_search returns partial results",
				zap.String("session", info.ID),
				zap.Duration("wait", wait))
		}
	}

	return s.encode(s.buildResponse(true))
}

func (s *Server) handleStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ctrl == nil {
		return mcp.NewToolResultError("tracker search is not configured"), nil
	}
	if s.ctrl.Info().ID == "" {
		return mcp.NewToolResultError("no search has been started"), nil
	}

	return s.encode(s.buildResponse(readBoolArg(req, "include_results")))
}

func (s *Server) handleRetry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ctrl == nil {
		return mcp.NewToolResultError("tracker search is not configured"), nil
	}

	var statuses []search.Status
	for _, raw := range readStringSliceArg(req, "statuses") {
		st, err := search.ParseStatus(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		statuses = append(statuses, st)
	}

	n, err := s.ctrl.Retry(ctx, statuses...)
	if err != nil {
		if errors.Is(err, search.ErrNoSession) {
			return mcp.NewToolResultError("no search has been started"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("retry failed: %v", err)), nil
	}

	s.logger.Info("tracker_search_retry queued", zap.Int("plans", n))
	return s.encode(s.buildResponse(false))
}

func (s *Server) encode(resp searchResponse) (*mcp.CallToolResult, error) {
	toolResult, err := mcp.NewToolResultJSON(resp)
	if err != nil {
		s.logger.Error("encode search response", zap.Error(err))
		return mcp.NewToolResultError("failed to encode search response"), nil
	}
	return toolResult, nil
}

// waitDuration clamps the requested wait into [0, maxWait].
func (s *Server) waitDuration(seconds float64) time.Duration {
	// NaN fails every comparison
	if !(seconds > 0) {
		return 0
	}
	// compare before converting, large values overflow time.Duration
	if seconds >= s.maxWait.Seconds() {
		return s.maxWait
	}
	return time.Duration(seconds * float64(time.Second))
}

func arguments(req mcp.CallToolRequest) map[string]any {
	if raw, ok := req.Params.Arguments.(map[string]any); ok {
		return raw
	}
	return nil
}

func readStringArg(req mcp.CallToolRequest, key string) string {
	v, _ := arguments(req)[key].(string)
	return v
}

func readBoolArg(req mcp.CallToolRequest, key string) bool {
	v, _ := arguments(req)[key].(bool)
	return v
}

func readFloatArg(req mcp.CallToolRequest, key string, def float64) float64 {
	raw, exists := arguments(req)[key]
	if !exists {
		return def
	}
	switch v := raw.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return def
}

func readStringSliceArg(req mcp.CallToolRequest, key string) []string {
	switch v := arguments(req)[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
