package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchAckLatency  *prometheus.HistogramVec
	dispatchesExecuted  *prometheus.CounterVec
	deliveryReliability *prometheus.GaugeVec
	controlSendSuccess  prometheus.Counter
	controlSendFailure  prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.GaugeVec, prometheus.Counter, prometheus.Counter) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_ack_latency_seconds",
			Help:    "Latency of dispatch instructions from send to acknowledgment",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	exec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatches_executed_total",
			Help: "Number of dispatches reaching a terminal status",
		},
		[]string{"status"},
	)
	rel := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delivery_reliability_pct",
			Help: "Delivered versus requested power for the last completed dispatch",
		},
		[]string{"pool_id"},
	)
	suc := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "control_send_success_total",
			Help: "Number of successful control channel sends",
		},
	)
	fail := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "control_send_failure_total",
			Help: "Number of failed control channel sends",
		},
	)
	return lat, exec, rel, suc, fail
}

func init() {
	dispatchAckLatency, dispatchesExecuted, deliveryReliability, controlSendSuccess, controlSendFailure = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers lifecycle metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(dispatchAckLatency, dispatchesExecuted, deliveryReliability, controlSendSuccess, controlSendFailure)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	dispatchAckLatency, dispatchesExecuted, deliveryReliability, controlSendSuccess, controlSendFailure = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
