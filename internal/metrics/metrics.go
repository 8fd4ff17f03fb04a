// Package metrics provides Prometheus instrumentation for the rendezvous
// service. It exposes gauges for pool and match counts, counters for actions,
// matches, signals and sweeper evictions, and a histogram for action latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PoolSize tracks the current number of users waiting for a partner.
	PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rendezvous_pool_size",
		Help: "Current number of users in the waiting pool",
	})

	// ActiveMatches tracks the current number of live match records.
	ActiveMatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rendezvous_active_matches",
		Help: "Current number of live match records",
	})

	// ActionsTotal counts processed actions, labeled by action name and
	// outcome: "ok", "client_error" or "server_error".
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rendezvous_actions_total",
		Help: "Total number of actions processed",
	}, []string{"action", "outcome"})

	// MatchesTotal counts matches created.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rendezvous_matches_total",
		Help: "Total number of matches created",
	})

	// SignalsTotal counts relayed signals, labeled by direction:
	// "enqueued" or "delivered".
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rendezvous_signals_total",
		Help: "Total number of handshake signals relayed",
	}, []string{"direction"})

	// EvictionsTotal counts sweeper evictions, labeled by reason:
	// "pool_expired", "match_expired" or "pool_capacity".
	EvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rendezvous_evictions_total",
		Help: "Total number of entries evicted by the sweeper",
	}, []string{"reason"})

	// ActionLatency records action handling latency in seconds, including
	// the sweep that precedes every action.
	ActionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rendezvous_action_latency_seconds",
		Help:    "Action handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		PoolSize,
		ActiveMatches,
		ActionsTotal,
		MatchesTotal,
		SignalsTotal,
		EvictionsTotal,
		ActionLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
