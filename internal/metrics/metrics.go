// Package metrics holds the prometheus counters shared by the dispatch
// endpoint and the relay sink.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "multimail_dispatch_success_total",
		Help: "Total number of messages the relay accepted",
	}, []string{"provider"})
	DispatchFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "multimail_dispatch_failure_total",
		Help: "Total number of relay sends that failed",
	}, []string{"provider"})
	// Requests refused before reaching a relay, keyed by a fixed reason.
	DispatchRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "multimail_dispatch_rejected_total",
		Help: "Total number of send requests rejected by the endpoint",
	}, []string{"reason"})
	SinkMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "multimail_sink_messages_total",
		Help: "Total number of DATA payloads handled by the sink, by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(DispatchSuccess)
	prometheus.MustRegister(DispatchFailure)
	prometheus.MustRegister(DispatchRejected)
	prometheus.MustRegister(SinkMessages)
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
