package resilience_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-cart/internal/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreakerTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	breaker := resilience.NewBreaker(2, 0.5, 30*time.Second).WithClock(clock.Now)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")

	clock.Advance(31 * time.Second)
	require.True(t, breaker.Allow(ctx), "breaker should move to half-open after cool off")
	require.Equal(t, resilience.HalfOpen, breaker.State())
	require.False(t, breaker.Allow(ctx), "only one probe while half-open")

	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx), "breaker should close after successful probe")
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	breaker := resilience.NewBreaker(1, 0.5, 10*time.Second).WithClock(clock.Now)
	ctx := context.Background()

	breaker.Report(ctx, false)
	clock.Advance(10 * time.Second)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))
	require.Equal(t, resilience.Backoff(base, 17, 0), resilience.Backoff(base, 60, 0), "shift is capped")

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-(base*2/5))
	require.LessOrEqual(t, d, base*2+(base*2/5))
}

func TestMustRegisterMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		resilience.MustRegisterMetrics(reg)
		resilience.MustRegisterMetrics(reg)
	})
}

func TestBreakerMetricsTrackHalfOpenAttempts(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	const target = "receipt-webhook"
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	breaker := resilience.NewBreaker(1, 0.5, 10*time.Second).WithTarget(target).WithClock(clock.Now)
	ctx := context.Background()

	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)) }
	transitions := func(from, to string) float64 {
		return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, from, to))
	}
	require.Equal(t, 0.0, state())

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, state())

	// first trial after the cool-off fails and reopens
	clock.Advance(10 * time.Second)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, state())
	require.False(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, state())

	// refused callers do not add transitions
	clock.Advance(10 * time.Second)
	require.True(t, breaker.Allow(ctx))
	for i := 0; i < 3; i++ {
		require.False(t, breaker.Allow(ctx))
	}
	breaker.Report(ctx, true)
	require.Equal(t, 0.0, state())

	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues(target)))
	require.Equal(t, 1.0, transitions("closed", "open"))
	require.Equal(t, 2.0, transitions("open", "half_open"))
	require.Equal(t, 1.0, transitions("half_open", "open"))
	require.Equal(t, 1.0, transitions("half_open", "closed"))
}
