package tui

import (
	"context"
	"strings"
	"testing"

	"github.com/Laisky/errors/v2"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/tracker-search/library/search"
)

type fakeController struct {
	queries   []string
	solution  string
	retried   int
	raised    []string
	cancels   int
	plans     []search.SearchPlan
	searchErr error
}

func (f *fakeController) Search(_ context.Context, query, solutionID string, _ bool) (search.SessionInfo, error) {
	if f.searchErr != nil {
		return search.SessionInfo{}, f.searchErr
	}
	f.queries = append(f.queries, query)
	f.solution = solutionID
	f.plans = []search.SearchPlan{
		{SourceID: "alpha", EntryName: "all", Status: search.StatusSuccess, ResultCount: 3, Priority: search.DefaultPriority},
		{SourceID: "beta", EntryName: "all", Status: search.StatusWorking, Priority: search.DefaultPriority},
		{SourceID: "gamma", EntryName: "all", Status: search.StatusBlocked, Message: "cloudflare", Priority: search.DefaultPriority},
	}
	return search.SessionInfo{ID: "s1", Query: query, PlanCount: len(f.plans), Active: true}, nil
}

func (f *fakeController) Retry(context.Context, ...search.Status) (int, error) {
	f.retried++
	return 1, nil
}

func (f *fakeController) RaisePriority(key string) error {
	f.raised = append(f.raised, key)
	return nil
}

func (f *fakeController) Cancel() int {
	f.cancels++
	return 1
}

func (f *fakeController) Plans() []search.SearchPlan {
	return append([]search.SearchPlan(nil), f.plans...)
}

func (f *fakeController) Info() search.SessionInfo {
	if len(f.plans) == 0 {
		return search.SessionInfo{}
	}
	return search.SessionInfo{
		ID:          "s1",
		Active:      true,
		ResultCount: 3,
		Status:      search.AggregateStatus{Success: 1, Error: 1, Queued: 1},
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// act feeds msg to m, runs the controller call it triggers and applies the outcome.
func act(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	out := cmd()
	require.IsType(t, actionMsg{}, out)
	next, _ = next.(Model).Update(out)
	return next.(Model)
}

func TestModelSearchFlow(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(context.Background(), ctrl, "anime", "frieren", nil)
	require.Contains(t, m.View(), "no search yet")

	m = act(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, []string{"frieren"}, ctrl.queries)
	require.Equal(t, "anime", ctrl.solution)
	require.Equal(t, focusPlans, m.focus)
	require.Len(t, m.plans, 3)
	require.Contains(t, m.message, "searching 3 sources")

	view := m.View()
	require.Contains(t, view, "alpha|all")
	require.Contains(t, view, "cloudflare")
	require.Contains(t, view, "3 results")
}

func TestModelPlanActions(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(context.Background(), ctrl, "all", "frieren", nil)
	m = act(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 2, m.cursor)

	m = act(t, m, runes("p"))
	require.Equal(t, []string{"gamma|all"}, ctrl.raised)
	require.Equal(t, "raised gamma|all", m.message)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m = act(t, m, runes("+"))
	require.Equal(t, []string{"gamma|all", "beta|all"}, ctrl.raised)

	m = act(t, m, runes("r"))
	require.Equal(t, 1, ctrl.retried)
	require.Equal(t, "re-queued 1 sources", m.message)

	m = act(t, m, runes("c"))
	require.Equal(t, 1, ctrl.cancels)
	require.Equal(t, "cancelled 1 sources", m.message)

	next, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	require.True(t, next.(Model).quitting)
}

func TestModelInputKeys(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(context.Background(), ctrl, "all", "", nil)

	// empty query is ignored
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Empty(t, ctrl.queries)

	// q types into the query instead of quitting
	m = press(t, m, runes("q"))
	require.False(t, m.quitting)
	require.Equal(t, "q", m.input.Value())

	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusPlans, m.focus)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusInput, m.focus)
}

func TestModelSearchError(t *testing.T) {
	ctrl := &fakeController{searchErr: errors.New("solution not found")}
	m := NewModel(context.Background(), ctrl, "nope", "frieren", nil)

	m = act(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Error(t, m.err)
	require.True(t, strings.Contains(m.View(), "solution not found"))
}

func TestModelEvents(t *testing.T) {
	ctrl := &fakeController{}
	events := make(chan search.Event, 1)
	m := NewModel(context.Background(), ctrl, "all", "frieren", events)

	_, err := ctrl.Search(context.Background(), "frieren", "all", true)
	require.NoError(t, err)

	events <- search.Event{Kind: search.EventPlanUpdated, PlanKey: "beta|all"}
	msg := m.listen()()
	require.IsType(t, EventMsg{}, msg)

	next, cmd := m.Update(msg)
	m = next.(Model)
	require.Len(t, m.plans, 3)
	require.NotNil(t, cmd, "keeps listening")

	close(events)
	require.Nil(t, m.listen()())
}
