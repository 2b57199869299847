package cmd

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/tracker-search/library/adapters"
	"github.com/Laisky/tracker-search/library/config"
	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/scheduler"
	"github.com/Laisky/tracker-search/library/search"
	"github.com/Laisky/tracker-search/library/sites"
	"github.com/Laisky/tracker-search/library/throttle"
)

// app is the wired process: one scheduler, one controller and the optional snapshot backends.
type app struct {
	settings config.Settings
	registry *sites.Registry
	sched    *scheduler.Scheduler
	ctrl     *search.Controller
	backends *snapshotBackends
	logger   logSDK.Logger
}

// newApp loads the site registry and wires every search component from settings.
func newApp(ctx context.Context, opts ...search.ControllerOption) (*app, error) {
	settings := config.LoadSettingsFromConfig()
	logger := log.Logger.Named("app")

	registry, err := sites.Load(settings.Search.SitesFile)
	if err != nil {
		return nil, errors.Wrapf(err, "load sites from %q", settings.Search.SitesFile)
	}
	if registry, err = registry.WithDefaultSolution(settings.Search.DefaultSolution); err != nil {
		return nil, errors.WithStack(err)
	}

	client, err := newHTTPClient(settings.HTTP)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	limiter, err := throttle.NewSiteThrottle(throttle.SiteThrottleCfg{
		TotalNPerSec:    settings.Throttle.TotalPerSec,
		TotalBurst:      settings.Throttle.TotalBurst,
		EachSiteNPerSec: settings.Throttle.SitePerSec,
		EachSiteBurst:   settings.Throttle.SiteBurst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new site throttle")
	}

	dispatcher := adapters.NewDispatcher(
		adapters.WithHTTPClient(client),
		adapters.WithThrottle(limiter),
		adapters.WithUserAgent(settings.HTTP.UserAgent),
		adapters.WithLogger(log.Logger.Named("adapters")),
	)

	sched := scheduler.New(
		scheduler.WithConcurrencySource(config.MaxConcurrentSources),
		scheduler.WithLogger(log.Logger.Named("scheduler")),
	)

	ctrl, err := search.NewController(sched, registry, dispatcher,
		append([]search.ControllerOption{search.WithLogger(log.Logger.Named("search"))}, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "new search controller")
	}

	backends, err := openSnapshotBackends(ctx, settings.Snapshot)
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot backends")
	}

	logger.Info("search components ready",
		zap.String("sites_file", settings.Search.SitesFile),
		zap.Int("sites", len(registry.Sites())),
		zap.String("default_solution", registry.DefaultSolution()),
		zap.Strings("snapshot_backends", settings.Snapshot.Backends))

	return &app{
		settings: settings,
		registry: registry,
		sched:    sched,
		ctrl:     ctrl,
		backends: backends,
		logger:   logger,
	}, nil
}

// close drops queued work and releases the snapshot backends.
func (a *app) close(ctx context.Context) {
	a.ctrl.Cancel()
	if err := a.backends.Close(ctx); err != nil {
		a.logger.Warn("close snapshot backends", zap.Error(err))
	}
}

// solution returns id, or the registry default when id is empty.
func (a *app) solution(id string) string {
	if id == "" {
		return a.registry.DefaultSolution()
	}
	return id
}

func newHTTPClient(cfg config.HTTPSettings) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxy, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, errors.Wrapf(err, "parse proxy %q", cfg.Proxy)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}, nil
}
