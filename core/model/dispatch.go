package model

import (
	"math"
	"time"

	"github.com/gridmesh/vpp/core/faults"
)

// DispatchStatus tracks a per-device dispatch through its lifecycle.
type DispatchStatus int

const (
	DispatchScheduled DispatchStatus = iota
	DispatchActive
	DispatchCompleted
	DispatchCancelled
	DispatchFailed
)

func (s DispatchStatus) String() string {
	switch s {
	case DispatchScheduled:
		return "scheduled"
	case DispatchActive:
		return "active"
	case DispatchCompleted:
		return "completed"
	case DispatchCancelled:
		return "cancelled"
	case DispatchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// dispatchTransitions is the legal move table. Cancellation is only
// permitted before activation.
var dispatchTransitions = map[DispatchStatus][]DispatchStatus{
	DispatchScheduled: {DispatchActive, DispatchCancelled, DispatchFailed},
	DispatchActive:    {DispatchCompleted, DispatchFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s DispatchStatus) CanTransition(next DispatchStatus) bool {
	for _, t := range dispatchTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// DispatchPerformance compares delivery against the request.
type DispatchPerformance struct {
	ExpectedKW     float64
	DeliveredKW    float64
	ReliabilityPct float64
}

// DispatchRevenue is the fee-split revenue attributed to one dispatch.
type DispatchRevenue struct {
	GrossCAD       float64
	PlatformFeeCAD float64
	OperatorFeeCAD float64
	NetCAD         float64
}

// BatteryImpact estimates battery wear for storage dispatches.
type BatteryImpact struct {
	CyclesUsed         float64
	SoCStart           float64
	SoCEnd             float64
	DepthOfDischarge   float64
	DegradationCostCAD float64
}

// Dispatch is one device-level instruction derived from a cleared bid.
// RequestedKW is signed: positive means discharge/deliver, negative means
// charge/absorb.
type Dispatch struct {
	ID           string
	PoolID       string
	BidID        string
	UserID       string
	DeviceID     string
	Start        time.Time
	End          time.Time
	Action       InstructionAction
	RequestedKW  float64
	ActualKW     float64
	Status       DispatchStatus
	Performance  DispatchPerformance
	Revenue      DispatchRevenue
	Battery      *BatteryImpact
	CancelReason string
	AcceptedAt   *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy. Pointer fields are copied so mutating a clone
// never reaches the original.
func (d *Dispatch) Clone() *Dispatch {
	cp := *d
	if d.Battery != nil {
		b := *d.Battery
		cp.Battery = &b
	}
	if d.AcceptedAt != nil {
		at := *d.AcceptedAt
		cp.AcceptedAt = &at
	}
	if d.CompletedAt != nil {
		at := *d.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

// Transition moves the dispatch to the next status, rejecting illegal
// moves.
func (d *Dispatch) Transition(next DispatchStatus) error {
	if !d.Status.CanTransition(next) {
		return faults.InvalidStatef("dispatch %s: illegal transition %s -> %s", d.ID, d.Status, next)
	}
	d.Status = next
	d.UpdatedAt = time.Now()
	return nil
}

// DurationHours is the dispatch window length in hours.
func (d *Dispatch) DurationHours() float64 {
	return d.End.Sub(d.Start).Hours()
}

// EnergyKWh is the absolute energy moved over the window based on actual
// delivery.
func (d *Dispatch) EnergyKWh() float64 {
	return math.Abs(d.ActualKW) * d.DurationHours()
}
