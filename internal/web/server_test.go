package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/tracker-search/internal/auth"
	"github.com/Laisky/tracker-search/library/scheduler"
	"github.com/Laisky/tracker-search/library/search"
	"github.com/Laisky/tracker-search/library/sites"
)

var (
	ginModeOnce sync.Once
)

func setupGinTestMode() {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
}

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
  - id: beta
    url: https://beta.example
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
      - site: beta
`

// fakeAdapter returns one record per source; beta fails until healed.
type fakeAdapter struct {
	mu     sync.Mutex
	healed bool
}

func (f *fakeAdapter) heal() {
	f.mu.Lock()
	f.healed = true
	f.mu.Unlock()
}

func (f *fakeAdapter) Search(_ context.Context, query string, src search.SourceEntry) search.AdapterResult {
	f.mu.Lock()
	healed := f.healed
	f.mu.Unlock()

	if src.SourceID == "beta" && !healed {
		return search.AdapterResult{Status: search.StatusBlocked, Message: "challenge page"}
	}
	return search.AdapterResult{
		Status: search.StatusSuccess,
		Records: []search.ResultRecord{
			{ItemID: src.SourceID + "-1", Title: query + " from " + src.SourceID},
		},
	}
}

type memStore struct {
	mu    sync.Mutex
	snaps map[string]*search.Snapshot
}

func (m *memStore) Save(_ context.Context, snap *search.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps == nil {
		m.snaps = map[string]*search.Snapshot{}
	}
	m.snaps[snap.ID] = snap
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (*search.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return nil, search.ErrSnapshotNotFound
	}
	return snap, nil
}

type fixture struct {
	ctrl    *search.Controller
	adapter *fakeAdapter
	router  *gin.Engine
}

func newFixture(t *testing.T, store search.SnapshotStore, mcp http.Handler) *fixture {
	t.Helper()
	setupGinTestMode()

	registry, err := sites.Parse([]byte(testSites))
	require.NoError(t, err)

	adapter := &fakeAdapter{}
	ctrl, err := search.NewController(scheduler.New(scheduler.WithConcurrency(2)), registry, adapter)
	require.NoError(t, err)

	srv, err := NewServer(Dependencies{
		Controller:     ctrl,
		Registry:       registry,
		Store:          store,
		MCP:            mcp,
		AllowedOrigins: []string{".example.com"},
	})
	require.NoError(t, err)

	return &fixture{ctrl: ctrl, adapter: adapter, router: srv.Router()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.ctrl.Wait(ctx))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Dependencies{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSearchLifecycle(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodGet, "/api/search", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "frieren"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[sessionResponse](t, w)
	require.Equal(t, "frieren", started.Session.Query)
	require.Equal(t, "anime", started.Session.SolutionID)
	require.Len(t, started.Plans, 2)
	f.wait(t)

	w = f.do(t, http.MethodGet, "/api/search", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode[sessionResponse](t, w)
	byKey := map[string]search.Status{}
	for _, p := range sess.Plans {
		byKey[p.Key] = p.Status
	}
	require.Equal(t, search.StatusSuccess, byKey[search.PlanKey("alpha", "main")])
	require.Equal(t, search.StatusBlocked, byKey[search.PlanKey("beta", "main")])
	require.Equal(t, search.AggregateStatus{Success: 1, Error: 1}, sess.Session.Status)

	w = f.do(t, http.MethodGet, "/api/search/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[resultsResponse](t, w)
	require.Equal(t, 1, res.Total)
	require.Equal(t, "alpha", res.Results[0].SourceID)

	// only beta is retried
	f.adapter.heal()
	w = f.do(t, http.MethodPost, "/api/search/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Equal(t, map[string]any{"requeued": float64(1)}, decode[map[string]any](t, w))
	f.wait(t)

	w = f.do(t, http.MethodGet, "/api/search/results?source=beta", nil)
	res = decode[resultsResponse](t, w)
	require.Equal(t, 1, res.Total)
	require.Equal(t, "beta", res.Results[0].SourceID)

	w = f.do(t, http.MethodGet, "/api/search/results?limit=1", nil)
	res = decode[resultsResponse](t, w)
	require.Equal(t, 2, res.Total)
	require.Len(t, res.Results, 1)

	w = f.do(t, http.MethodGet, "/api/search/results?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/api/search", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "x", "solution": "nope"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/search/retry", map[string]any{"statuses": []string{"Retry"}})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/search/retry", nil)
	require.Equal(t, http.StatusNotFound, w.Code, "no session yet")

	w = f.do(t, http.MethodPost, "/api/search/retry", map[string]any{"statuses": []string{"success"}})
	require.Equal(t, http.StatusBadRequest, w.Code, "success is not a retryable status")
}

func TestPriorityAndCancel(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "q"})
	require.Equal(t, http.StatusAccepted, w.Code)
	f.wait(t)

	key := search.PlanKey("alpha", "main")
	w = f.do(t, http.MethodPost, "/api/search/priority", map[string]any{"key": key})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decode[planView](t, w)
	require.Equal(t, key, plan.Key)
	require.Equal(t, search.DefaultPriority+1, plan.Priority)

	w = f.do(t, http.MethodPost, "/api/search/priority", map[string]any{"key": "missing|main"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/search/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]any{"cancelled": float64(0)}, decode[map[string]any](t, w))
}

func TestSnapshotEndpoints(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := f.do(t, http.MethodPost, "/api/search/snapshot", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	f = newFixture(t, &memStore{}, nil)
	w = f.do(t, http.MethodPost, "/api/search/snapshot", nil)
	require.Equal(t, http.StatusNotFound, w.Code, "no session yet")

	w = f.do(t, http.MethodPost, "/api/search", map[string]any{"query": "q"})
	require.Equal(t, http.StatusAccepted, w.Code)
	f.wait(t)

	w = f.do(t, http.MethodPost, "/api/search/snapshot", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	saved := decode[map[string]any](t, w)
	id, _ := saved["id"].(string)
	require.NotEmpty(t, id)

	w = f.do(t, http.MethodGet, "/api/snapshots/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[search.Snapshot](t, w)
	require.Equal(t, "q", snap.Query)
	require.Len(t, snap.Results, 1)

	w = f.do(t, http.MethodGet, "/api/snapshots/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSitesAndSolutions(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodGet, "/api/sites", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Sites []sites.Site `json:"sites"`
	}](t, w)
	require.Len(t, got.Sites, 2)

	w = f.do(t, http.MethodGet, "/api/solutions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sols := decode[struct {
		Default   string           `json:"default"`
		Solutions []sites.Solution `json:"solutions"`
	}](t, w)
	require.Equal(t, "anime", sols.Default)
	require.Equal(t, sites.AllSolutionID, sols.Solutions[0].ID)
}

func TestMCPMounted(t *testing.T) {
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	f := newFixture(t, nil, mcp)

	w := f.do(t, http.MethodPost, "/mcp", nil)
	require.Equal(t, http.StatusTeapot, w.Code)

	f = newFixture(t, nil, nil)
	w = f.do(t, http.MethodPost, "/mcp", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequireKey(t *testing.T) {
	setupGinTestMode()
	registry, err := sites.Parse([]byte(testSites))
	require.NoError(t, err)
	ctrl, err := search.NewController(scheduler.New(), registry, &fakeAdapter{})
	require.NoError(t, err)

	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv, err := NewServer(Dependencies{
		Controller: ctrl,
		Registry:   registry,
		MCP:        mcp,
		Keys:       auth.NewKeySet("sk-secret"),
	})
	require.NoError(t, err)
	router := srv.Router()

	call := func(path, key string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, call("/health", ""))
	require.Equal(t, http.StatusUnauthorized, call("/api/sites", ""))
	require.Equal(t, http.StatusUnauthorized, call("/api/sites", "sk-wrong"))
	require.Equal(t, http.StatusOK, call("/api/sites", "sk-secret"))
	require.Equal(t, http.StatusUnauthorized, call("/mcp", ""))
	require.Equal(t, http.StatusTeapot, call("/mcp", "sk-secret"))
}

func TestAllowCORS(t *testing.T) {
	f := newFixture(t, nil, nil)

	tests := []struct {
		name           string
		method         string
		origin         string
		expectedStatus int
		expectedOrigin string
	}{
		{name: "no origin", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "subdomain", method: http.MethodGet, origin: "https://ui.example.com",
			expectedStatus: http.StatusOK, expectedOrigin: "https://ui.example.com"},
		{name: "apex", method: http.MethodGet, origin: "https://example.com",
			expectedStatus: http.StatusOK, expectedOrigin: "https://example.com"},
		{name: "allowed preflight", method: http.MethodOptions, origin: "https://ui.example.com",
			expectedStatus: http.StatusNoContent, expectedOrigin: "https://ui.example.com"},
		{name: "denied preflight", method: http.MethodOptions, origin: "https://evil.com",
			expectedStatus: http.StatusForbidden},
		{name: "lookalike domain", method: http.MethodGet, origin: "https://notexample.com",
			expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)
			require.Equal(t, tt.expectedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
