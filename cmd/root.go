// Package cmd command line
package cmd

import (
	"context"
	"os"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/tracker-search/library/config"
	"github.com/Laisky/tracker-search/library/log"
)

var rootCMD = &cobra.Command{
	Use:   "tracker-search",
	Short: "multi-tracker search aggregator",
	Long:  `search many trackers at once and merge their results`,
	Args:  gcmd.NoExtraArgs,
}

func initialize(ctx context.Context, cmd *cobra.Command) error {
	if err := gconfig.Shared.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind pflags")
	}

	setupSettings(ctx)
	setupLogger(ctx)

	if err := validateStartupConfig(); err != nil {
		return errors.Wrap(err, "validate configuration")
	}

	return nil
}

func setupSettings(ctx context.Context) {
	if gconfig.Shared.GetBool("debug") {
		gconfig.Shared.Set("log-level", "debug")
	}

	// an empty --config runs on built-in defaults
	if cfgPath := gconfig.Shared.GetString("config"); cfgPath != "" {
		config.LoadFromFile(cfgPath)
	}
}

func setupLogger(ctx context.Context) {
	lvl := gconfig.Shared.GetString("log-level")
	if err := log.Logger.ChangeLevel(glog.Level(lvl)); err != nil {
		log.Logger.Panic("change log level", zap.Error(err), zap.String("level", lvl))
	}
	log.Logger.Debug("logger ready",
		zap.String("level", lvl),
		zap.String("config", gconfig.Shared.GetString("config")))
}

func init() {
	rootCMD.PersistentFlags().Bool("debug", false, "run in debug mode")
	rootCMD.PersistentFlags().StringP("config", "c", "/etc/tracker-search/settings.yml", "config file path, empty to run on defaults")
	rootCMD.PersistentFlags().String("log-level", "info", "`debug/info/error`")
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCMD.Execute(); err != nil {
		log.Logger.Error("tracker-search exited", zap.Error(err))
		os.Exit(1)
	}
}
