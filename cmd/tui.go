package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Laisky/tracker-search/cmd/tui"
	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/search"
)

const tuiEventBuffer = 256

var tuiCMD = &cobra.Command{
	Use:   "tui [QUERY...]",
	Short: "Launch interactive TUI",
	Long: `Launch an interactive terminal view that searches every source of a
solution and shows each source's progress live.

Example:
  tracker-search tui -c settings.yml -s anime frieren

Keyboard shortcuts:
  Enter       Search
  Tab/Esc     Switch between the query and the source list
  ↑/↓ or j/k  Select a source
  p or +      Raise the selected source's priority
  r           Retry failed sources
  c           Cancel unfinished sources
  q           Quit`,
	PreRun: func(cmd *cobra.Command, args []string) {
		if err := initialize(context.Background(), cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runTUI(context.Background(), strings.Join(args, " ")); err != nil {
			fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	tuiCMD.Flags().StringP("solution", "s", "", "solution id, empty for the default solution")
	rootCMD.AddCommand(tuiCMD)
}

// runTUI starts the interactive Terminal User Interface and returns any start/run error.
func runTUI(ctx context.Context, query string) error {
	events := make(chan search.Event, tuiEventBuffer)
	observer := func(ev search.Event) {
		select {
		case events <- ev:
		default:
			// the view re-reads the whole session on the next event
		}
	}

	a, err := newApp(ctx, search.WithObserver(observer))
	if err != nil {
		return errors.WithStack(err)
	}
	defer a.close(context.Background())

	model := tui.NewModel(ctx, a.ctrl, a.solution(gconfig.Shared.GetString("solution")), query, events)
	p := tea.NewProgram(model, tea.WithAltScreen())

	_, err = p.Run()
	return errors.WithStack(err)
}
