// Package throttle limits how fast requests are sent to tracker sites.
package throttle

import (
	"context"
	"sync"

	"github.com/Laisky/errors/v2"
	"golang.org/x/time/rate"
)

// SiteThrottleCfg configuration for SiteThrottle
type SiteThrottleCfg struct {
	TotalNPerSec    float64
	TotalBurst      int
	EachSiteNPerSec float64
	EachSiteBurst   int
}

// SiteThrottle limits requests both globally and per site
type SiteThrottle struct {
	mu    sync.Mutex
	cfg   SiteThrottleCfg
	total *rate.Limiter
	sites map[string]*rate.Limiter
}

// NewSiteThrottle create new SiteThrottle
func NewSiteThrottle(cfg SiteThrottleCfg) (*SiteThrottle, error) {
	if cfg.TotalNPerSec <= 0 || cfg.EachSiteNPerSec <= 0 {
		return nil, errors.New("NPerSec must bigger than 0")
	}
	if cfg.TotalBurst < 1 || cfg.EachSiteBurst < 1 {
		return nil, errors.New("burst must be at least 1")
	}

	return &SiteThrottle{
		cfg:   cfg,
		total: rate.NewLimiter(rate.Limit(cfg.TotalNPerSec), cfg.TotalBurst),
		sites: make(map[string]*rate.Limiter),
	}, nil
}

func (t *SiteThrottle) site(siteID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.sites[siteID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.cfg.EachSiteNPerSec), t.cfg.EachSiteBurst)
		t.sites[siteID] = l
	}
	return l
}

// Wait blocks until both the site limiter and the total limiter admit one request.
// A nil SiteThrottle never blocks.
func (t *SiteThrottle) Wait(ctx context.Context, siteID string) error {
	if t == nil {
		return nil
	}
	if err := t.site(siteID).Wait(ctx); err != nil {
		return errors.Wrapf(err, "wait for site %q", siteID)
	}
	if err := t.total.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait for total throttle")
	}
	return nil
}

// Allow reports whether a request to siteID may be sent right now, consuming a token if so.
func (t *SiteThrottle) Allow(siteID string) bool {
	if t == nil {
		return true
	}
	return t.site(siteID).Allow() && t.total.Allow()
}
