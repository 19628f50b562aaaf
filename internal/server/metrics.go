package server

import "github.com/prometheus/client_golang/prometheus"

// metrics exposes the server's scheduling state as Prometheus gauges and
// counters, grounded on the teacher's direct use of
// github.com/prometheus/client_golang.
type metrics struct {
	connections      prometheus.Gauge
	operations       prometheus.Gauge
	notifyCoalesced  prometheus.Counter
	gcRuns           prometheus.Counter
	singletonsLive   prometheus.Gauge
	resolverFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphql_vss_connections",
			Help: "Live graphql-ws connections.",
		}),
		operations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphql_vss_operations",
			Help: "Live operations across all connections.",
		}),
		notifyCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphql_vss_notify_coalesced_total",
			Help: "Number of notify() calls merged into a pending trigger before delivery.",
		}),
		gcRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphql_vss_singleton_gc_runs_total",
			Help: "Number of singleton storage garbage-collect passes.",
		}),
		singletonsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphql_vss_singletons_live",
			Help: "Live (non-disposed) singleton entries.",
		}),
		resolverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphql_vss_resolver_failures_total",
			Help: "Resolver/singleton-construction failures surfaced as error frames.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.connections, m.operations, m.notifyCoalesced, m.gcRuns, m.singletonsLive, m.resolverFailures)
	}
	return m
}
