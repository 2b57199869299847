// Package tui is the interactive terminal view of a search session.
// It uses the Charm Bubble Tea framework to show every source's progress live.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Laisky/tracker-search/library/search"
)

var (
	violet  = lipgloss.Color("#7C3AED")
	emerald = lipgloss.Color("#10B981")
	amber   = lipgloss.Color("#F59E0B")
	red     = lipgloss.Color("#EF4444")
	green   = lipgloss.Color("#22C55E")
	orange  = lipgloss.Color("#FB923C")
	text    = lipgloss.Color("#CDD6F4")
	muted   = lipgloss.Color("#6C7086")
	surface = lipgloss.Color("#313244")
	overlay = lipgloss.Color("#45475A")
)

var (
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(text).Background(violet).Padding(0, 2).MarginBottom(1)
	subtitleStyle    = lipgloss.NewStyle().Foreground(muted).Italic(true)
	rowStyle         = lipgloss.NewStyle().Foreground(text).PaddingLeft(2)
	selectedRowStyle = lipgloss.NewStyle().Foreground(emerald).Background(surface).Bold(true).PaddingLeft(1)
	cursorStyle      = lipgloss.NewStyle().Foreground(amber).Bold(true)
	helpStyle        = lipgloss.NewStyle().Foreground(muted).MarginTop(1)
	boxStyle         = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(overlay).Padding(0, 1)
	inputLabelStyle  = lipgloss.NewStyle().Foreground(emerald).Bold(true)
	progressStyle    = lipgloss.NewStyle().Foreground(amber)
	successStyle     = lipgloss.NewStyle().Foreground(green).Bold(true)
	errorStyle       = lipgloss.NewStyle().Foreground(red).Bold(true)
	statusBarStyle   = lipgloss.NewStyle().Foreground(muted).Background(overlay).Padding(0, 1)
)

// statusColors overrides the outcome-group color for statuses worth telling apart.
var statusColors = map[search.Status]lipgloss.Color{
	search.StatusNoResults:  muted,
	search.StatusBlocked:    orange,
	search.StatusNeedsLogin: orange,
	search.StatusCancelled:  muted,
}

// statusStyle colors a plan status by its outcome group.
func statusStyle(s search.Status) lipgloss.Style {
	if c, ok := statusColors[s]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}

	switch {
	case s.IsSuccess():
		return successStyle
	case s.IsError():
		return errorStyle
	case s == search.StatusWorking:
		return progressStyle
	default:
		return subtitleStyle
	}
}
