package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/walletmux/walletmux/pkg/provider"
)

// Metrics contains all Prometheus metrics for the node.
type Metrics struct {
	// Socket session metrics.
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter

	// RPC method metrics.
	RPCRequests *prometheus.CounterVec

	// Upstream provider metrics.
	ProviderCalls       *prometheus.CounterVec
	ProviderFailures    *prometheus.CounterVec
	ProviderCallSeconds prometheus.Histogram
}

// NewMetrics initializes and registers Prometheus metrics on the
// default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics
// with a custom registry. Tests pass their own registry to avoid
// duplicate registration across cases.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletmux_connected_clients",
			Help: "The current number of connected socket clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletmux_connections_total",
			Help: "The total number of socket connections made since server start",
		}),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletmux_rpc_requests_total",
				Help: "The total number of RPC requests by method",
			},
			[]string{"method"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletmux_provider_calls_total",
				Help: "The total number of calls forwarded upstream by method",
			},
			[]string{"method"},
		),
		ProviderFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletmux_provider_failures_total",
				Help: "The total number of failed upstream calls by method",
			},
			[]string{"method"},
		),
		ProviderCallSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "walletmux_provider_call_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// InstrumentProvider wraps a provider so every upstream call feeds the
// call, failure and latency metrics.
func (m *Metrics) InstrumentProvider(p provider.Provider) provider.Provider {
	return &instrumentedProvider{inner: p, metrics: m}
}

type instrumentedProvider struct {
	inner   provider.Provider
	metrics *Metrics
}

func (p *instrumentedProvider) Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	p.metrics.ProviderCalls.WithLabelValues(method).Inc()

	start := time.Now()
	result, err := p.inner.Call(ctx, method, params)
	p.metrics.ProviderCallSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.ProviderFailures.WithLabelValues(method).Inc()
	}
	return result, err
}
