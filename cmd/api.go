package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/tracker-search/internal/auth"
	"github.com/Laisky/tracker-search/internal/mcp"
	"github.com/Laisky/tracker-search/internal/web"
	"github.com/Laisky/tracker-search/library/log"
)

const purgeInterval = time.Hour

var apiCMD = &cobra.Command{
	Use:   "api",
	Short: "api",
	Long:  `serve the search REST API and the MCP endpoint`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := runAPI(ctx); err != nil {
			log.Logger.Panic("run api", zap.Error(err))
		}
	},
}

func runAPI(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	defer a.close(context.Background())

	deps := web.Dependencies{
		Controller:     a.ctrl,
		Registry:       a.registry,
		Store:          a.backends.Store(),
		AllowedOrigins: a.settings.Web.AllowedOrigins,
		Keys:           auth.NewKeySet(a.settings.Web.APIKeys...),
		Logger:         log.Logger.Named("web"),
	}
	if !deps.Keys.Enabled() {
		a.logger.Warn("settings.web.api_keys is empty, /api and /mcp accept anonymous requests")
	}
	if a.settings.MCP.Enabled {
		mcpServer, err := mcp.NewServer(a.ctrl, a.registry, a.settings.MCP.MaxWait, log.Logger.Named("mcp"))
		if err != nil {
			return errors.Wrap(err, "new mcp server")
		}
		deps.MCP = mcpServer.Handler()
	}

	srv, err := web.NewServer(deps)
	if err != nil {
		return errors.Wrap(err, "new web server")
	}

	if a.backends.sql != nil {
		go a.purgeExpiredSnapshots(ctx)
	}

	return srv.Run(ctx, gconfig.Shared.GetString("listen"), gconfig.Shared.GetBool("debug"))
}

// purgeExpiredSnapshots deletes expired sql rows until ctx is done.
// Redis and mongo expire on their own.
func (a *app) purgeExpiredSnapshots(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := a.backends.sql.PurgeExpired(ctx)
		if err != nil {
			a.logger.Warn("purge expired snapshots", zap.Error(err))
			continue
		}
		if n > 0 {
			a.logger.Info("purged expired snapshots", zap.Int64("rows", n))
		}
	}
}

func init() {
	apiCMD.Flags().String("listen", "localhost:8080", "like `localhost:8080`")
	rootCMD.AddCommand(apiCMD)
}
