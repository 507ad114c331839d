package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mood_insight"

// Metrics counts cache lookups by backend.
type Metrics struct {
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
	Errors *prometheus.CounterVec
}

// NewMetrics creates and registers cache metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits, by backend.",
		}, []string{"backend"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses, by backend.",
		}, []string{"backend"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of failed cache operations, by backend and operation.",
		}, []string{"backend", "op"}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Errors)
	return m
}

type instrumented struct {
	next    Cache
	metrics *Metrics
	backend string
}

// Instrument wraps c so every operation is counted under the backend label.
func Instrument(c Cache, m *Metrics, backend string) Cache {
	if m == nil {
		return c
	}
	return &instrumented{next: c, metrics: m, backend: backend}
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := i.next.Get(ctx, key)
	switch {
	case err != nil:
		i.metrics.Errors.WithLabelValues(i.backend, "get").Inc()
	case ok:
		i.metrics.Hits.WithLabelValues(i.backend).Inc()
	default:
		i.metrics.Misses.WithLabelValues(i.backend).Inc()
	}
	return data, ok, err
}

func (i *instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := i.next.Set(ctx, key, value, ttl)
	if err != nil {
		i.metrics.Errors.WithLabelValues(i.backend, "set").Inc()
	}
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	err := i.next.Delete(ctx, key)
	if err != nil {
		i.metrics.Errors.WithLabelValues(i.backend, "delete").Inc()
	}
	return err
}
