package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Laisky/tracker-search/library/config"
	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/sites"
)

var sitesCMD = &cobra.Command{
	Use:   "sites",
	Short: "list the sites and solutions of the sites file",
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		path := config.LoadSettingsFromConfig().Search.SitesFile
		registry, err := sites.Load(path)
		if err != nil {
			log.Logger.Panic("load sites", zap.Error(err), zap.String("path", path))
		}
		printRegistry(cmd.OutOrStdout(), registry)
	},
}

func printRegistry(w io.Writer, registry *sites.Registry) {
	var siteRows [][]string
	for _, s := range registry.Sites() {
		for _, e := range s.Entries {
			state := "enabled"
			switch {
			case s.Offline:
				state = "offline"
			case e.Disabled:
				state = "disabled"
			}
			siteRows = append(siteRows, []string{s.ID, e.Name, string(e.Schema), e.Method, state})
		}
	}
	fmt.Fprintln(w, table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SITE", "ENTRY", "SCHEMA", "METHOD", "STATE").
		Rows(siteRows...).
		String())

	var solutionRows [][]string
	for _, sol := range registry.Solutions() {
		refs := make([]string, 0, len(sol.Sources))
		for _, ref := range sol.Sources {
			if len(ref.Entries) == 0 {
				refs = append(refs, ref.Site)
				continue
			}
			refs = append(refs, ref.Site+"("+strings.Join(ref.Entries, ",")+")")
		}
		id := sol.ID
		if id == registry.DefaultSolution() {
			id += " *"
		}
		solutionRows = append(solutionRows, []string{id, sol.Name, strings.Join(refs, " ")})
	}
	fmt.Fprintln(w, table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SOLUTION", "NAME", "SOURCES").
		Rows(solutionRows...).
		String())
}

func init() {
	rootCMD.AddCommand(sitesCMD)
}
