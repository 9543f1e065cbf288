package model

import (
	"time"

	"github.com/gridmesh/vpp/core/faults"
)

// BidStatus tracks a bid through its lifecycle.
type BidStatus int

const (
	BidPending BidStatus = iota
	BidAccepted
	BidRejected
	BidDispatched
	BidCompleted
	BidCancelled
)

func (s BidStatus) String() string {
	switch s {
	case BidPending:
		return "pending"
	case BidAccepted:
		return "accepted"
	case BidRejected:
		return "rejected"
	case BidDispatched:
		return "dispatched"
	case BidCompleted:
		return "completed"
	case BidCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// bidTransitions is the legal move table. Any non-terminal state may be
// cancelled.
var bidTransitions = map[BidStatus][]BidStatus{
	BidPending:    {BidAccepted, BidRejected, BidCancelled},
	BidAccepted:   {BidDispatched, BidCancelled},
	BidDispatched: {BidCompleted, BidCancelled},
}

// CanTransition reports whether moving from s to next is legal.
func (s BidStatus) CanTransition(next BidStatus) bool {
	for _, t := range bidTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InstructionAction is the control action a dispatch instruction requests.
type InstructionAction int

const (
	ActionCharge InstructionAction = iota
	ActionDischarge
	ActionHold
	ActionStandby
)

func (a InstructionAction) String() string {
	switch a {
	case ActionCharge:
		return "charge"
	case ActionDischarge:
		return "discharge"
	case ActionHold:
		return "hold"
	case ActionStandby:
		return "standby"
	default:
		return "unknown"
	}
}

// DispatchInstruction is one time-stamped slice of a cleared bid.
type DispatchInstruction struct {
	At         time.Time
	Action     InstructionAction
	CapacityMW float64
	Duration   time.Duration
}

// SettlementStatus tracks a bid's settlement progress.
type SettlementStatus int

const (
	SettlementPending SettlementStatus = iota
	SettlementProcessing
	SettlementCompleted
	SettlementDisputed
)

func (s SettlementStatus) String() string {
	switch s {
	case SettlementPending:
		return "pending"
	case SettlementProcessing:
		return "processing"
	case SettlementCompleted:
		return "completed"
	case SettlementDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Bid is a capacity offer for one pool, product and time window.
type Bid struct {
	ID                 string
	PoolID             string
	MarketID           string
	Product            Product
	WindowStart        time.Time
	WindowEnd          time.Time
	CapacityMW         float64
	PriceCAD           float64
	ClearingPriceCAD   *float64
	Status             BidStatus
	ForecastRevenueCAD float64
	ActualRevenueCAD   float64
	Instructions       []DispatchInstruction
	Settlement         SettlementStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a deep copy. The instruction slice and clearing price
// pointer are copied so mutating a clone never reaches the original.
func (b *Bid) Clone() *Bid {
	cp := *b
	cp.Instructions = append([]DispatchInstruction(nil), b.Instructions...)
	if b.ClearingPriceCAD != nil {
		price := *b.ClearingPriceCAD
		cp.ClearingPriceCAD = &price
	}
	return &cp
}

// Transition moves the bid to the next status, rejecting illegal moves.
func (b *Bid) Transition(next BidStatus) error {
	if !b.Status.CanTransition(next) {
		return faults.InvalidStatef("bid %s: illegal transition %s -> %s", b.ID, b.Status, next)
	}
	b.Status = next
	b.UpdatedAt = time.Now()
	return nil
}

// DurationHours is the bid window length in hours.
func (b *Bid) DurationHours() float64 {
	return b.WindowEnd.Sub(b.WindowStart).Hours()
}
