// Package metrics exposes Prometheus metrics for query execution, the
// subscription loop, and block indexing, fed from eventbus events.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/blockgraph/internal/eventbus"
	events "github.com/hanpama/blockgraph/internal/events"
	query "github.com/hanpama/blockgraph/internal/query"
)

// Metrics holds the collector set backed by one registry.
type Metrics struct {
	registry *prometheus.Registry

	queryDuration      prometheus.Histogram
	queryErrors        *prometheus.CounterVec
	queryComplexity    prometheus.Histogram
	subscriptionCycles prometheus.Counter
	headBlock          prometheus.Gauge
}

// New builds the collector set and registers it on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blockgraph",
			Name:      "query_duration_seconds",
			Help:      "Wall-clock duration of query executions.",
			Buckets:   prometheus.DefBuckets,
		}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockgraph",
			Name:      "query_errors_total",
			Help:      "Query errors by kind.",
		}, []string{"kind"}),
		queryComplexity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blockgraph",
			Name:      "query_complexity",
			Help:      "Static complexity score of accepted queries.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		subscriptionCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockgraph",
			Name:      "subscription_cycles_total",
			Help:      "Subscription re-evaluation cycles executed.",
		}),
		headBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockgraph",
			Name:      "head_block_number",
			Help:      "Number of the latest indexed block.",
		}),
	}
	m.registry.MustRegister(
		m.queryDuration,
		m.queryErrors,
		m.queryComplexity,
		m.subscriptionCycles,
		m.headBlock,
	)
	return m
}

// Register attaches the eventbus subscribers that feed the collectors.
func (m *Metrics) Register() {
	eventbus.Subscribe(func(ctx context.Context, e events.QueryStart) {
		m.queryComplexity.Observe(float64(e.Complexity))
	})
	eventbus.Subscribe(func(ctx context.Context, e events.QueryFinish) {
		m.queryDuration.Observe(e.Duration.Seconds())
		for _, err := range e.Errors {
			m.queryErrors.WithLabelValues(kindOf(err)).Inc()
		}
	})
	eventbus.Subscribe(func(ctx context.Context, e events.SubscriptionCycle) {
		m.subscriptionCycles.Inc()
		for _, err := range e.Errors {
			m.queryErrors.WithLabelValues(kindOf(err)).Inc()
		}
	})
	eventbus.Subscribe(func(ctx context.Context, e events.BlockAdded) {
		m.headBlock.Set(float64(e.Number))
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func kindOf(err error) string {
	var qe *query.Error
	if errors.As(err, &qe) {
		return string(qe.Kind)
	}
	return "UNKNOWN"
}
