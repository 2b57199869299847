package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/search"
)

const maxTitleWidth = 80

var searchCMD = &cobra.Command{
	Use:   "search QUERY...",
	Short: "run one search and print the merged results",
	Long: `Run one search over every source of a solution, wait for the sources
to finish and print the merged results.

Example:
  tracker-search search -c settings.yml -s anime frieren 1080p`,
	Args: cobra.MinimumNArgs(1),
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := runSearch(ctx, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
			fmt.Fprintf(os.Stderr, "search failed: %+v\n", err)
			os.Exit(1)
		}
	},
}

func runSearch(ctx context.Context, query string, stdout, stderr io.Writer) error {
	progress := func(ev search.Event) {
		if ev.Kind != search.EventPlanUpdated || ev.Plan == nil || !ev.Plan.Status.IsTerminal() {
			return
		}
		line := fmt.Sprintf("%-32s %-12s %d", ev.PlanKey, ev.Plan.Status, ev.Plan.ResultCount)
		if ev.Plan.Message != "" {
			line += "  " + ev.Plan.Message
		}
		fmt.Fprintln(stderr, line)
	}

	a, err := newApp(ctx, search.WithObserver(progress))
	if err != nil {
		return errors.WithStack(err)
	}
	defer a.close(context.Background())

	if _, err = a.ctrl.Search(ctx, query, a.solution(gconfig.Shared.GetString("solution")), true); err != nil {
		return errors.WithStack(err)
	}

	wait := gconfig.Shared.GetDuration("wait")
	if wait <= 0 {
		wait = a.settings.Search.WaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err = a.ctrl.Wait(waitCtx); err != nil {
		cancelled := a.ctrl.Cancel()
		fmt.Fprintf(stderr, "stopped waiting after %s, %d sources cancelled\n", wait, cancelled)
	}

	records := a.ctrl.Results()
	if limit := gconfig.Shared.GetInt("limit"); limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	switch format := gconfig.Shared.GetString("format"); format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err = enc.Encode(records); err != nil {
			return errors.Wrap(err, "encode results")
		}
	case "", "table":
		fmt.Fprintln(stdout, renderResults(records))
	default:
		return errors.Errorf("unknown format %q", format)
	}

	st := a.ctrl.Status()
	fmt.Fprintf(stderr, "%d results, %d sources succeeded, %d failed, %d unfinished\n",
		len(a.ctrl.Results()), st.Success, st.Error, st.Queued)

	if gconfig.Shared.GetBool("snapshot") {
		store := a.backends.Store()
		if store == nil {
			return errors.New("--snapshot needs at least one entry in settings.snapshot.backends")
		}
		snap, err := a.ctrl.SaveSnapshot(ctx, store)
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprintf(stderr, "snapshot saved: %s\n", snap.ID)
	}

	return nil
}

// renderResults lays records out as a table.
func renderResults(records []search.ResultRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		size := ""
		if r.Size > 0 {
			size = humanize.Bytes(uint64(r.Size))
		}
		published := ""
		if r.PublishedAt != nil {
			published = humanize.Time(*r.PublishedAt)
		}
		rows = append(rows, []string{
			r.SourceID,
			truncate(r.Title, maxTitleWidth),
			size,
			strconv.Itoa(r.Seeders),
			strconv.Itoa(r.Leechers),
			published,
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SOURCE", "TITLE", "SIZE", "SEED", "LEECH", "PUBLISHED").
		Rows(rows...).
		String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	searchCMD.Flags().StringP("solution", "s", "", "solution id, empty for the default solution")
	searchCMD.Flags().Duration("wait", 0, "how long to wait for sources, 0 uses settings.search.wait_timeout_seconds")
	searchCMD.Flags().Int("limit", 0, "print at most this many results, 0 prints all")
	searchCMD.Flags().String("format", "table", "`table` or `json`")
	searchCMD.Flags().Bool("snapshot", false, "save the finished search to the configured snapshot backends")
	rootCMD.AddCommand(searchCMD)
}
