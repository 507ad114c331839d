package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstrument_CountsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	c := Instrument(NewMemory(clockwork.NewFakeClock()), m, "memory")

	_, _, _ = c.Get(ctx, "k")
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "k")

	require.Equal(t, 2.0, testutil.ToFloat64(m.Hits.WithLabelValues("memory")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Misses.WithLabelValues("memory")))
}

func TestInstrument_CountsErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	c := Instrument(&failingCache{getErr: errors.New("x"), setErr: errors.New("y")}, m, "redis")

	_, _, err := c.Get(ctx, "k")
	require.Error(t, err)
	require.Error(t, c.Set(ctx, "k", nil, time.Minute))

	require.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("redis", "get")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("redis", "set")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.Misses.WithLabelValues("redis")))
}

func TestInstrument_NilMetricsReturnsCache(t *testing.T) {
	mem := NewMemory(clockwork.NewFakeClock())
	require.Same(t, mem, Instrument(mem, nil, "memory"))
}
