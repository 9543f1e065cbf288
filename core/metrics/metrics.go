package metrics

import (
	"time"

	"github.com/gridmesh/vpp/core/model"
)

// DispatchEvent represents a per-device dispatch state change to be
// recorded.
type DispatchEvent struct {
	DispatchID     string
	PoolID         string
	DeviceID       string
	Action         model.InstructionAction
	Status         model.DispatchStatus
	RequestedKW    float64
	DeliveredKW    float64
	ReliabilityPct float64
	Time           time.Time
}

// MetricsSink records dispatch events for observability purposes.
type MetricsSink interface {
	RecordDispatchEvent(events []DispatchEvent) error
}

// SettlementEvent captures one revenue merge into a period bucket.
type SettlementEvent struct {
	UserID   string
	PoolID   string
	Period   model.PeriodType
	GrossCAD float64
	NetCAD   float64
	Time     time.Time
}

// SettlementRecorder is implemented by sinks able to record settlements.
type SettlementRecorder interface {
	RecordSettlement(ev SettlementEvent) error
}

// ClearingEvent captures one simulated clearing decision.
type ClearingEvent struct {
	Product  model.Product
	PriceCAD float64
	Accepted bool
	Time     time.Time
}

// ClearingRecorder is implemented by sinks able to record clearing prices.
type ClearingRecorder interface {
	RecordClearingPrice(ev ClearingEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDispatchEvent([]DispatchEvent) error { return nil }
func (NopSink) RecordSettlement(SettlementEvent) error    { return nil }
func (NopSink) RecordClearingPrice(ClearingEvent) error   { return nil }
