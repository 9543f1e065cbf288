// Package metrics provides metrics sink implementations: Prometheus
// collectors, an InfluxDB writer with health-check fallback and a fan-out
// multi sink.
package metrics

import (
	coremetrics "github.com/gridmesh/vpp/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records engine events in Prometheus metrics.
type PromSink struct {
	dispatches  *prometheus.CounterVec
	deliveredKW *prometheus.HistogramVec
	settlements *prometheus.CounterVec
	settledCAD  *prometheus.CounterVec
	clearing    *prometheus.GaugeVec
}

// NewPromSink registers engine metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_events_total",
		Help: "Total number of dispatch state changes",
	}, []string{"pool_id", "action", "status"})
	deliveredKW := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_delivered_kw",
		Help:    "Absolute delivered power per completed dispatch",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"pool_id"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Total number of revenue settlements",
	}, []string{"pool_id", "period"})
	settledCAD := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_revenue_cad_total",
		Help: "Cumulative net revenue settled in CAD",
	}, []string{"pool_id"})
	clearing := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_clearing_price_cad",
		Help: "Last simulated clearing price per product",
	}, []string{"product"})

	collectors := []prometheus.Collector{dispatches, deliveredKW, settlements, settledCAD, clearing}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			collectors[i] = are.ExistingCollector
		}
	}
	return &PromSink{
		dispatches:  collectors[0].(*prometheus.CounterVec),
		deliveredKW: collectors[1].(*prometheus.HistogramVec),
		settlements: collectors[2].(*prometheus.CounterVec),
		settledCAD:  collectors[3].(*prometheus.CounterVec),
		clearing:    collectors[4].(*prometheus.GaugeVec),
	}, nil
}

// RecordDispatchEvent increments the counter for each dispatch event.
func (s *PromSink) RecordDispatchEvent(events []coremetrics.DispatchEvent) error {
	for _, ev := range events {
		s.dispatches.WithLabelValues(ev.PoolID, ev.Action.String(), ev.Status.String()).Inc()
		if ev.DeliveredKW != 0 {
			kw := ev.DeliveredKW
			if kw < 0 {
				kw = -kw
			}
			s.deliveredKW.WithLabelValues(ev.PoolID).Observe(kw)
		}
	}
	return nil
}

// RecordSettlement counts the settlement and accumulates its net revenue.
func (s *PromSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	s.settlements.WithLabelValues(ev.PoolID, ev.Period.String()).Inc()
	s.settledCAD.WithLabelValues(ev.PoolID).Add(ev.NetCAD)
	return nil
}

// RecordClearingPrice sets the gauge to the last simulated clearing price.
func (s *PromSink) RecordClearingPrice(ev coremetrics.ClearingEvent) error {
	s.clearing.WithLabelValues(ev.Product.String()).Set(ev.PriceCAD)
	return nil
}
