package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSiteThrottleValidation(t *testing.T) {
	_, err := NewSiteThrottle(SiteThrottleCfg{TotalNPerSec: 0, TotalBurst: 1, EachSiteNPerSec: 1, EachSiteBurst: 1})
	require.Error(t, err)
	_, err = NewSiteThrottle(SiteThrottleCfg{TotalNPerSec: 1, TotalBurst: 0, EachSiteNPerSec: 1, EachSiteBurst: 1})
	require.Error(t, err)
}

func TestSiteThrottleAllow(t *testing.T) {
	th, err := NewSiteThrottle(SiteThrottleCfg{
		TotalNPerSec: 0.001, TotalBurst: 3,
		EachSiteNPerSec: 0.001, EachSiteBurst: 2,
	})
	require.NoError(t, err)

	require.True(t, th.Allow("a"))
	require.True(t, th.Allow("a"))
	require.False(t, th.Allow("a"), "site burst exhausted")

	require.True(t, th.Allow("b"))
	require.False(t, th.Allow("c"), "total burst exhausted")
}

func TestSiteThrottleWait(t *testing.T) {
	th, err := NewSiteThrottle(SiteThrottleCfg{
		TotalNPerSec: 100, TotalBurst: 10,
		EachSiteNPerSec: 0.001, EachSiteBurst: 1,
	})
	require.NoError(t, err)

	require.NoError(t, th.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, th.Wait(ctx, "a"))
	require.NoError(t, th.Wait(context.Background(), "b"))

	var nilThrottle *SiteThrottle
	require.NoError(t, nilThrottle.Wait(context.Background(), "a"))
	require.True(t, nilThrottle.Allow("a"))
}
