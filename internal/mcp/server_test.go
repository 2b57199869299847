package mcp

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	glog "github.com/Laisky/go-utils/v6/log"

	"github.com/Laisky/tracker-search/library/scheduler"
	"github.com/Laisky/tracker-search/library/search"
	"github.com/Laisky/tracker-search/library/sites"
)

const testSites = `
default_solution: anime
sites:
  - id: alpha
    url: https://alpha.example
    entries:
      - name: main
        schema: json
        path: /search
        rows: items
        fields: {title: name}
  - id: slow
    url: https://slow.example
    entries:
      - name: main
        schema: json
        path: /search
        rows: items
        fields: {title: name}
solutions:
  - id: anime
    sources:
      - site: alpha
  - id: mixed
    sources:
      - site: alpha
      - site: slow
`

// gatedAdapter answers alpha at once and holds slow until release is closed.
type gatedAdapter struct {
	release chan struct{}
	once    sync.Once
}

func (g *gatedAdapter) open() { g.once.Do(func() { close(g.release) }) }

func (g *gatedAdapter) Search(_ context.Context, query string, src search.SourceEntry) search.AdapterResult {
	if src.SourceID == "slow" {
		<-g.release
		return search.AdapterResult{Status: search.StatusNeedsLogin, Message: "login required"}
	}
	return search.AdapterResult{
		Status:  search.StatusSuccess,
		Records: []search.ResultRecord{{ItemID: "1", Title: query}},
	}
}

func newTestServer(t *testing.T) (*Server, *gatedAdapter) {
	t.Helper()
	registry, err := sites.Parse([]byte(testSites))
	require.NoError(t, err)

	adapter := &gatedAdapter{release: make(chan struct{})}
	t.Cleanup(adapter.open)

	ctrl, err := search.NewController(scheduler.New(scheduler.WithConcurrency(2)), registry, adapter)
	require.NoError(t, err)

	srv, err := NewServer(ctrl, registry, 2*time.Second, glog.Shared)
	require.NoError(t, err)
	require.NotNil(t, srv.Handler())
	return srv, adapter
}

func callRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{Params: mcpgo.CallToolParams{Arguments: args}}
}

func decodeResult(t *testing.T, result *mcpgo.CallToolResult) searchResponse {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError, "%+v", result.Content)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok)

	var resp searchResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return resp
}

func errorText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServerRequiresController(t *testing.T) {
	srv, err := NewServer(nil, nil, 0, glog.Shared)
	require.Nil(t, srv)
	require.Error(t, err)
}

func TestHandleSearchReturnsConfigurationError(t *testing.T) {
	srv := &Server{}
	result, err := srv.handleSearch(context.Background(), callRequest(map[string]any{"query": "x"}))
	require.NoError(t, err)
	require.Equal(t, "tracker search is not configured", errorText(t, result))
}

func TestHandleSearchValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleSearch(context.Background(), callRequest(map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	result, err = srv.handleSearch(context.Background(), callRequest(map[string]any{"query": "  "}))
	require.NoError(t, err)
	require.Equal(t, "query cannot be empty", errorText(t, result))

	result, err = srv.handleSearch(context.Background(),
		callRequest(map[string]any{"query": "x", "solution": "missing"}))
	require.NoError(t, err)
	require.Contains(t, errorText(t, result), "search failed")
}

func TestHandleSearchWaitsForSources(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleSearch(context.Background(), callRequest(map[string]any{"query": "frieren"}))
	require.NoError(t, err)

	resp := decodeResult(t, result)
	require.True(t, resp.Done)
	require.Equal(t, "anime", resp.Session.SolutionID)
	require.Len(t, resp.Plans, 1)
	require.Equal(t, search.StatusSuccess, resp.Plans[0].Status)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "frieren", resp.Results[0].Title)
}

func TestHandleSearchReturnsPartialResults(t *testing.T) {
	srv, adapter := newTestServer(t)

	result, err := srv.handleSearch(context.Background(), callRequest(map[string]any{
		"query":        "q",
		"solution":     "mixed",
		"wait_seconds": 0.05,
	}))
	require.NoError(t, err)

	resp := decodeResult(t, result)
	require.False(t, resp.Done, "slow source is still running")
	require.Len(t, resp.Plans, 2)

	adapter.open()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.ctrl.Wait(ctx))

	result, err = srv.handleStatus(context.Background(), callRequest(map[string]any{"include_results": true}))
	require.NoError(t, err)
	resp = decodeResult(t, result)
	require.True(t, resp.Done)
	require.Equal(t, search.AggregateStatus{Success: 1, Error: 1}, resp.Session.Status)
	require.Len(t, resp.Results, 1)

	result, err = srv.handleRetry(context.Background(), callRequest(map[string]any{
		"statuses": []any{"needsLogin"},
	}))
	require.NoError(t, err)
	resp = decodeResult(t, result)
	require.Empty(t, resp.Results)
	require.NoError(t, srv.ctrl.Wait(ctx))

	plan, err := srv.ctrl.Plan(search.PlanKey("slow", "main"))
	require.NoError(t, err)
	require.Equal(t, 2, plan.Attempts)
}

func TestHandleStatusWithoutSession(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleStatus(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.Equal(t, "no search has been started", errorText(t, result))

	result, err = srv.handleRetry(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.Equal(t, "no search has been started", errorText(t, result))

	result, err = srv.handleRetry(context.Background(), callRequest(map[string]any{"statuses": []any{"bogus"}}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestWaitDuration(t *testing.T) {
	srv := &Server{maxWait: 10 * time.Second}
	require.Zero(t, srv.waitDuration(0))
	require.Zero(t, srv.waitDuration(-3))
	require.Equal(t, 1500*time.Millisecond, srv.waitDuration(1.5))
	require.Equal(t, 10*time.Second, srv.waitDuration(60))
	require.Equal(t, 10*time.Second, srv.waitDuration(1e12))
	require.Equal(t, 10*time.Second, srv.waitDuration(math.Inf(1)))
	require.Zero(t, srv.waitDuration(math.NaN()))
}
