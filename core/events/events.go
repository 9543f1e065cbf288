// Package events defines the event types published on the internal bus.
package events

import (
	"time"

	"github.com/gridmesh/vpp/core/model"
)

// BidEvent is published when a bid is created or changes status.
type BidEvent struct {
	BidID            string
	PoolID           string
	Product          model.Product
	Status           model.BidStatus
	ClearingPriceCAD float64
	Time             time.Time
}

// DispatchEvent is published on every dispatch state change.
type DispatchEvent struct {
	DispatchID  string
	PoolID      string
	DeviceID    string
	Status      model.DispatchStatus
	RequestedKW float64
	DeliveredKW float64
	Time        time.Time
}

// SettlementEvent is published when dispatch revenue is settled into a
// period bucket.
type SettlementEvent struct {
	UserID   string
	PoolID   string
	Period   model.PeriodType
	GrossCAD float64
	NetCAD   float64
	Time     time.Time
}
