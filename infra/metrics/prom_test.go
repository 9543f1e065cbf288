package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/gridmesh/vpp/core/metrics"
	"github.com/gridmesh/vpp/core/model"
)

func newPromSink(t *testing.T) (*PromSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	return sink.(*PromSink), reg
}

func TestRecordDispatchEvent(t *testing.T) {
	sink, reg := newPromSink(t)

	err := sink.RecordDispatchEvent([]coremetrics.DispatchEvent{
		{PoolID: "p1", Action: model.ActionDischarge, Status: model.DispatchCompleted, DeliveredKW: -8},
		{PoolID: "p1", Action: model.ActionDischarge, Status: model.DispatchCompleted, DeliveredKW: 4},
		{PoolID: "p2", Action: model.ActionStandby, Status: model.DispatchFailed},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	expected := `
# HELP dispatch_events_total Total number of dispatch state changes
# TYPE dispatch_events_total counter
dispatch_events_total{action="discharge",pool_id="p1",status="completed"} 2
dispatch_events_total{action="standby",pool_id="p2",status="failed"} 1
`
	if err := testutil.CollectAndCompare(sink.dispatches, strings.NewReader(expected)); err != nil {
		t.Fatalf("dispatch counter mismatch: %v", err)
	}

	// Only the two events with delivered power land in the histogram, with
	// negative draw folded to magnitude.
	if n := testutil.CollectAndCount(sink.deliveredKW); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "dispatch_delivered_kw" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 2 {
			t.Fatalf("histogram count %d, want 2", h.GetSampleCount())
		}
		if h.GetSampleSum() != 12 {
			t.Fatalf("histogram sum %v, want |-8| + 4 = 12", h.GetSampleSum())
		}
	}
}

func TestRecordSettlement(t *testing.T) {
	sink, _ := newPromSink(t)

	for _, net := range []float64{80, 40} {
		if err := sink.RecordSettlement(coremetrics.SettlementEvent{
			PoolID: "p1", Period: model.PeriodMonthly, NetCAD: net,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if got := testutil.ToFloat64(sink.settlements.WithLabelValues("p1", "monthly")); got != 2 {
		t.Fatalf("settlements counter %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.settledCAD.WithLabelValues("p1")); got != 120 {
		t.Fatalf("settled revenue %v, want 120", got)
	}
}

func TestRecordClearingPrice(t *testing.T) {
	sink, _ := newPromSink(t)

	for _, price := range []float64{55.5, 61.2} {
		if err := sink.RecordClearingPrice(coremetrics.ClearingEvent{
			Product: model.ProductEnergy, PriceCAD: price,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	// Gauge keeps only the latest price.
	if got := testutil.ToFloat64(sink.clearing.WithLabelValues("energy")); got != 61.2 {
		t.Fatalf("clearing gauge %v, want 61.2", got)
	}
}

func TestNewPromSinkWithRegistry_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("first sink: %v", err)
	}
	second, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("second sink on the same registry: %v", err)
	}

	// Both sinks share the registered collectors.
	if err := first.RecordDispatchEvent([]coremetrics.DispatchEvent{
		{PoolID: "p1", Action: model.ActionDischarge, Status: model.DispatchCompleted},
	}); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if err := second.RecordDispatchEvent([]coremetrics.DispatchEvent{
		{PoolID: "p1", Action: model.ActionDischarge, Status: model.DispatchCompleted},
	}); err != nil {
		t.Fatalf("record second: %v", err)
	}
	ps := second.(*PromSink)
	if got := testutil.ToFloat64(ps.dispatches.WithLabelValues("p1", "discharge", "completed")); got != 2 {
		t.Fatalf("shared counter %v, want 2", got)
	}
}
