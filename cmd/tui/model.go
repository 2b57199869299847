package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Laisky/tracker-search/library/search"
)

// Controller is the part of search.Controller the view drives.
type Controller interface {
	Search(ctx context.Context, query, solutionID string, fresh bool) (search.SessionInfo, error)
	Retry(ctx context.Context, statuses ...search.Status) (int, error)
	RaisePriority(key string) error
	Cancel() int
	Plans() []search.SearchPlan
	Info() search.SessionInfo
}

// focus is the widget that receives key presses.
type focus int

const (
	focusInput focus = iota
	focusPlans
)

// EventMsg carries one controller event into the program.
type EventMsg search.Event

// actionMsg reports the outcome of a key-triggered controller call.
type actionMsg struct {
	text string
	err  error
}

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Enter    key.Binding
	Tab      key.Binding
	Retry    key.Binding
	Cancel   key.Binding
	Priority key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "search"),
	),
	Tab: key.NewBinding(
		key.WithKeys("tab", "esc"),
		key.WithHelp("tab", "switch focus"),
	),
	Retry: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "retry failed"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "cancel"),
	),
	Priority: key.NewBinding(
		key.WithKeys("p", "+"),
		key.WithHelp("p/+", "raise priority"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Model is the Bubble Tea model of the search view.
type Model struct {
	ctx      context.Context
	ctrl     Controller
	solution string
	events   <-chan search.Event

	input   textinput.Model
	spinner spinner.Model
	focus   focus

	plans  []search.SearchPlan
	info   search.SessionInfo
	cursor int

	message string
	err     error

	width    int
	quitting bool
}

// NewModel builds the view for ctrl. events is the channel the controller's
// observer writes to, nil when the view should not listen for updates.
func NewModel(ctx context.Context, ctrl Controller, solution, query string, events <-chan search.Event) Model {
	input := textinput.New()
	input.Placeholder = "frieren 1080p"
	input.CharLimit = 256
	input.Width = 50
	input.Prompt = "🔍 "
	input.PromptStyle = inputLabelStyle
	input.SetValue(query)
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = progressStyle

	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		solution: solution,
		events:   events,
		input:    input,
		spinner:  sp,
		focus:    focusInput,
	}
}

// Init starts the spinner and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.listen(),
	)
}

// listen waits for the next controller event.
func (m Model) listen() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return EventMsg(ev)
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		if m.focus == focusInput {
			return m.handleInput(msg)
		}
		return m.handlePlans(msg)

	case EventMsg:
		m.refresh()
		return m, m.listen()

	case actionMsg:
		m.message, m.err = msg.text, msg.err
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Enter):
		query := strings.TrimSpace(m.input.Value())
		if query == "" {
			return m, nil
		}
		m.focus = focusPlans
		m.input.Blur()
		m.cursor = 0
		return m, m.search(query)

	case key.Matches(msg, keys.Tab):
		m.focus = focusPlans
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handlePlans(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, keys.Tab):
		m.focus = focusInput
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.plans)-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.Enter):
		if query := strings.TrimSpace(m.input.Value()); query != "" {
			return m, m.search(query)
		}

	case key.Matches(msg, keys.Retry):
		return m, m.retry()

	case key.Matches(msg, keys.Cancel):
		return m, m.cancel()

	case key.Matches(msg, keys.Priority):
		if m.cursor < len(m.plans) {
			return m, m.raise(m.plans[m.cursor].Key())
		}
	}

	return m, nil
}

func (m Model) search(query string) tea.Cmd {
	ctx, ctrl, solution := m.ctx, m.ctrl, m.solution
	return func() tea.Msg {
		info, err := ctrl.Search(ctx, query, solution, true)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: fmt.Sprintf("searching %d sources for %q", info.PlanCount, info.Query)}
	}
}

func (m Model) retry() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		n, err := ctrl.Retry(ctx)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: fmt.Sprintf("re-queued %d sources", n)}
	}
}

func (m Model) cancel() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return actionMsg{text: fmt.Sprintf("cancelled %d sources", ctrl.Cancel())}
	}
}

func (m Model) raise(planKey string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.RaisePriority(planKey); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: "raised " + planKey}
	}
}

// refresh re-reads the session from the controller.
func (m *Model) refresh() {
	m.plans = m.ctrl.Plans()
	m.info = m.ctrl.Info()
	if m.cursor >= len(m.plans) {
		m.cursor = max(len(m.plans)-1, 0)
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return subtitleStyle.Render("bye\n")
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("tracker-search") + "\n")
	sb.WriteString(m.input.View() + "\n\n")
	sb.WriteString(m.renderPlans())
	sb.WriteString("\n" + m.renderStatusBar())

	switch {
	case m.err != nil:
		sb.WriteString("\n" + errorStyle.Render("✗ "+m.err.Error()))
	case m.message != "":
		sb.WriteString("\n" + successStyle.Render(m.message))
	}

	help := "enter search • tab plans"
	if m.focus == focusPlans {
		help = "↑/↓ select • p raise priority • r retry failed • c cancel • enter search again • tab edit query • q quit"
	}
	sb.WriteString("\n" + helpStyle.Render(help))

	return boxStyle.Render(sb.String())
}

func (m Model) renderPlans() string {
	if len(m.plans) == 0 {
		return subtitleStyle.Render("no search yet")
	}

	lines := make([]string, 0, len(m.plans))
	for i, p := range m.plans {
		icon := " "
		switch {
		case p.Status == search.StatusWorking:
			icon = m.spinner.View()
		case p.Status.IsSuccess():
			icon = "✓"
		case p.Status.IsError():
			icon = "✗"
		}

		line := fmt.Sprintf("%s %-28s %s %4d",
			icon, truncate(p.Key(), 28),
			statusStyle(p.Status).Render(fmt.Sprintf("%-12s", p.Status)),
			p.ResultCount)
		if p.Priority != search.DefaultPriority {
			line += fmt.Sprintf("  prio %d", p.Priority)
		}
		if p.Message != "" {
			line += "  " + subtitleStyle.Render(truncate(p.Message, 40))
		}

		if m.focus == focusPlans && i == m.cursor {
			lines = append(lines, cursorStyle.Render("›")+selectedRowStyle.Render(line))
			continue
		}
		lines = append(lines, rowStyle.Render(line))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderStatusBar() string {
	if m.info.ID == "" {
		return ""
	}
	st := m.info.Status
	state := "idle"
	if m.info.Active {
		state = "running"
	}
	return statusBarStyle.Render(fmt.Sprintf("%s • %d results • %d ok • %d failed • %d queued",
		state, m.info.ResultCount, st.Success, st.Error, st.Queued))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
