// Package metrics exposes the relay's Prometheus instrumentation: live
// connection counts by scope, emit outcomes by recipient filter, and RPC
// bridge outcomes. Grounded on aixgo-dev-aixgo's
// pkg/observability/metrics.go, which instruments agent/connection
// activity the same way (CounterVec/GaugeVec registered once, package-level
// Record*/Set* helpers called from the hot path).
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_ws_connections_active",
			Help: "Currently open WebSocket connections by scope",
		},
		[]string{"scope"},
	)

	emitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_router_emits_total",
			Help: "Total events emitted by the router, by recipient filter",
		},
		[]string{"filter"},
	)

	rpcCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rpc_calls_total",
			Help: "Total rpc-call outcomes, by result",
		},
		[]string{"result"},
	)

	messagesAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_session_messages_appended_total",
			Help: "Total session message appends, by result (accepted or deduped)",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// Init registers every collector exactly once, even if called repeatedly
// (e.g. from multiple tests in the same process).
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(connectionsActive, emitsTotal, rpcCallsTotal, messagesAppendedTotal)
	})
}

// Handler serves the Prometheus text exposition format for GET /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// SetConnectionsActive records the current count of live connections in
// the given scope ("user", "session", or "machine").
func SetConnectionsActive(scope string, count int) {
	connectionsActive.WithLabelValues(scope).Set(float64(count))
}

// RecordEmit records one router.Emit call's recipient filter kind.
func RecordEmit(filter string) {
	emitsTotal.WithLabelValues(filter).Inc()
}

// RecordRPCCall records an rpc-call outcome ("ok", "timeout", "no-handler",
// "self-call-rejected", "empty-response", or "invalid-response").
// The method name itself is client-supplied and unbounded, so it is never
// used as a label value — only the fixed outcome set is.
func RecordRPCCall(result string) {
	rpcCallsTotal.WithLabelValues(result).Inc()
}

// RecordMessageAppend records a message append outcome ("accepted" or
// "deduped").
func RecordMessageAppend(result string) {
	messagesAppendedTotal.WithLabelValues(result).Inc()
}
