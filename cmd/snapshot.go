package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Laisky/tracker-search/library/config"
	"github.com/Laisky/tracker-search/library/log"
)

var snapshotCMD = &cobra.Command{
	Use:   "snapshot",
	Short: "inspect saved search snapshots",
	Args:  gcmd.NoExtraArgs,
}

var snapshotGetCMD = &cobra.Command{
	Use:   "get ID",
	Short: "print one snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	PreRun: func(cmd *cobra.Command, args []string) {
		if err := initialize(context.Background(), cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSnapshotGet(context.Background(), args[0], cmd.OutOrStdout()); err != nil {
			log.Logger.Panic("get snapshot", zap.Error(err), zap.String("id", args[0]))
		}
	},
}

var snapshotListCMD = &cobra.Command{
	Use:   "list",
	Short: "list recent snapshots of the sql or redis backend",
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		if err := initialize(context.Background(), cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		n, _ := cmd.Flags().GetInt("n")
		if err := runSnapshotList(context.Background(), n, cmd.OutOrStdout()); err != nil {
			log.Logger.Panic("list snapshots", zap.Error(err))
		}
	},
}

func runSnapshotGet(ctx context.Context, id string, w io.Writer) error {
	backends, err := openSnapshotBackends(ctx, config.LoadSettingsFromConfig().Snapshot)
	if err != nil {
		return errors.WithStack(err)
	}
	defer backends.Close(context.Background()) // nolint: errcheck

	store := backends.Store()
	if store == nil {
		return errors.New("no snapshot backend is configured")
	}

	snap, err := store.Load(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(snap), "encode snapshot")
}

func runSnapshotList(ctx context.Context, n int, w io.Writer) error {
	backends, err := openSnapshotBackends(ctx, config.LoadSettingsFromConfig().Snapshot)
	if err != nil {
		return errors.WithStack(err)
	}
	defer backends.Close(context.Background()) // nolint: errcheck

	var rows [][]string
	switch {
	case backends.sql != nil:
		summaries, err := backends.sql.Recent(ctx, n)
		if err != nil {
			return errors.WithStack(err)
		}
		for _, s := range summaries {
			rows = append(rows, []string{s.ID, s.Query, s.SolutionID,
				strconv.Itoa(s.Results), humanize.Time(s.CreatedAt)})
		}
	case backends.redis != nil:
		items, err := backends.redis.History(ctx, n)
		if err != nil {
			return errors.WithStack(err)
		}
		for _, it := range items {
			rows = append(rows, []string{it.SnapshotID, it.Query, it.SolutionID,
				strconv.Itoa(it.Results), humanize.Time(it.CreatedAt)})
		}
	default:
		return errors.New("listing needs the sql or redis snapshot backend")
	}

	_, err = fmt.Fprintln(w, table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "QUERY", "SOLUTION", "RESULTS", "CREATED").
		Rows(rows...).
		String())
	return errors.WithStack(err)
}

func init() {
	snapshotListCMD.Flags().IntP("n", "n", 20, "how many snapshots to list")
	snapshotCMD.AddCommand(snapshotGetCMD, snapshotListCMD)
	rootCMD.AddCommand(snapshotCMD)
}
