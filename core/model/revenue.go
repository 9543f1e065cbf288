package model

import (
	"time"

	"github.com/gridmesh/vpp/core/faults"
)

// PeriodType buckets revenue records in time.
type PeriodType int

const (
	PeriodDaily PeriodType = iota
	PeriodWeekly
	PeriodMonthly
	PeriodQuarterly
	PeriodAnnual
)

func (p PeriodType) String() string {
	switch p {
	case PeriodDaily:
		return "daily"
	case PeriodWeekly:
		return "weekly"
	case PeriodMonthly:
		return "monthly"
	case PeriodQuarterly:
		return "quarterly"
	case PeriodAnnual:
		return "annual"
	default:
		return "unknown"
	}
}

// ParsePeriodType converts a wire string into a PeriodType.
func ParsePeriodType(s string) (PeriodType, bool) {
	switch s {
	case "daily":
		return PeriodDaily, true
	case "weekly":
		return PeriodWeekly, true
	case "monthly":
		return PeriodMonthly, true
	case "quarterly":
		return PeriodQuarterly, true
	case "annual":
		return PeriodAnnual, true
	default:
		return 0, false
	}
}

// PeriodTypes lists every bucket a dispatch settles into.
var PeriodTypes = []PeriodType{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodAnnual}

// PaymentStatus is the pay-out state of a revenue record.
type PaymentStatus int

const (
	PaymentAccruing PaymentStatus = iota
	PaymentPending
	PaymentPaid
	PaymentDisputed
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentAccruing:
		return "accruing"
	case PaymentPending:
		return "pending"
	case PaymentPaid:
		return "paid"
	case PaymentDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentAccruing: {PaymentPending, PaymentDisputed},
	PaymentPending:  {PaymentPaid, PaymentDisputed},
}

// CanTransition reports whether moving from s to next is legal.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// RevenueBreakdown splits gross revenue by category.
type RevenueBreakdown struct {
	EnergyCAD    float64
	CapacityCAD  float64
	AncillaryCAD float64
}

// RevenueKey identifies one ledger record: a (user, pool, period) bucket.
type RevenueKey struct {
	UserID      string
	PoolID      string
	Period      PeriodType
	PeriodStart time.Time
}

// RevenueRecord is the terminal ledger entry for a (user, pool, period)
// bucket. Records are created lazily by the first contributing dispatch,
// merged additively by every later dispatch in the same period, and never
// deleted; only the payment state machine moves them forward.
type RevenueRecord struct {
	ID              string
	UserID          string
	PoolID          string
	Period          PeriodType
	PeriodStart     time.Time
	PeriodEnd       time.Time
	GrossCAD        float64
	PlatformFeeCAD  float64
	OperatorFeeCAD  float64
	NetCAD          float64
	Breakdown       RevenueBreakdown
	DispatchCount   int
	EnergyKWh       float64
	AvgPowerKW      float64
	AvailabilityPct float64
	UtilizationPct  float64
	ReliabilityPct  float64
	Payment         PaymentStatus
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key returns the record's identity.
func (r *RevenueRecord) Key() RevenueKey {
	return RevenueKey{UserID: r.UserID, PoolID: r.PoolID, Period: r.Period, PeriodStart: r.PeriodStart}
}

// TransitionPayment moves the pay-out state machine, rejecting illegal
// moves.
func (r *RevenueRecord) TransitionPayment(next PaymentStatus) error {
	if !r.Payment.CanTransition(next) {
		return faults.InvalidStatef("revenue record %s: illegal payment transition %s -> %s", r.ID, r.Payment, next)
	}
	r.Payment = next
	r.UpdatedAt = time.Now()
	if next == PaymentPaid {
		now := time.Now()
		r.PaidAt = &now
	}
	return nil
}
