// Package supervisor drives automated addition runs. This file exposes
// Prometheus instrumentation for the dispatch loop. Label cardinality is
// kept bounded: outcomes and terminal run statuses are closed sets.
package supervisor

import "github.com/prometheus/client_golang/prometheus"

var (
	// attemptsTotal counts remote addition attempts by outcome.
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adder_attempts_total",
			Help: "Total number of remote addition attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// runsEndedTotal counts runs reaching a terminal status.
	runsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adder_runs_ended_total",
			Help: "Total number of runs that reached a terminal status.",
		},
		[]string{"status"},
	)

	// runsActive gauges the number of currently active (running or paused) runs.
	runsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adder_runs_active",
			Help: "Current number of active runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, runsEndedTotal, runsActive)
}
