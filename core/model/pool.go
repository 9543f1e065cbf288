package model

import "time"

// PoolStatus describes the lifecycle state of a pool.
type PoolStatus int

const (
	PoolPending PoolStatus = iota
	PoolActive
	PoolFull
	PoolInactive
)

func (s PoolStatus) String() string {
	switch s {
	case PoolPending:
		return "pending"
	case PoolActive:
		return "active"
	case PoolFull:
		return "full"
	case PoolInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// MemberStatus describes a member's standing within a pool.
type MemberStatus int

const (
	MemberActive MemberStatus = iota
	MemberPending
	MemberInactive
)

func (s MemberStatus) String() string {
	switch s {
	case MemberActive:
		return "active"
	case MemberPending:
		return "pending"
	case MemberInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// RiskTolerance drives bid pricing aggressiveness.
type RiskTolerance int

const (
	RiskConservative RiskTolerance = iota
	RiskModerate
	RiskAggressive
)

func (r RiskTolerance) String() string {
	switch r {
	case RiskConservative:
		return "conservative"
	case RiskModerate:
		return "moderate"
	case RiskAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// ParseRiskTolerance converts a wire string into a RiskTolerance.
func ParseRiskTolerance(s string) (RiskTolerance, bool) {
	switch s {
	case "conservative":
		return RiskConservative, true
	case "moderate":
		return RiskModerate, true
	case "aggressive":
		return RiskAggressive, true
	default:
		return 0, false
	}
}

// PoolMember is one user's participation in a pool.
type PoolMember struct {
	UserID         string
	DeviceIDs      []string
	ContributionKW float64
	JoinedAt       time.Time
	Status         MemberStatus
	ReliabilityPct float64
}

// PoolStrategy configures which products a pool bids into and how.
type PoolStrategy struct {
	Products        []Product
	Risk            RiskTolerance
	MinSoC          float64
	MaxSoC          float64
	MaxCyclesPerDay int
}

// FeePolicy defines the percentage split taken off gross dispatch revenue.
type FeePolicy struct {
	PlatformPct float64
	OperatorPct float64
}

// PoolPerformance carries rolling revenue and reliability aggregates.
type PoolPerformance struct {
	Revenue30dCAD      float64
	Revenue90dCAD      float64
	RevenueLifetimeCAD float64
	Dispatches30d      int
	ReliabilityPct     float64
	AvgRevenuePerMWCAD float64
}

// PoolRequirements gates membership.
type PoolRequirements struct {
	MinContributionKW float64
	DeviceTypes       []DeviceType
}

// AllowsDeviceType reports whether the pool accepts the given device type.
// An empty whitelist accepts everything.
func (r PoolRequirements) AllowsDeviceType(t DeviceType) bool {
	if len(r.DeviceTypes) == 0 {
		return true
	}
	for _, dt := range r.DeviceTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// Pool aggregates enrolled devices bidding into a market as one unit.
type Pool struct {
	ID           string
	Name         string
	MarketID     string
	Status       PoolStatus
	TargetMW     float64
	TotalMW      float64
	AvailableMW  float64
	CommittedMW  float64
	Members      []PoolMember
	Strategy     PoolStrategy
	Fees         FeePolicy
	Performance  PoolPerformance
	Requirements PoolRequirements
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy. Members and the strategy/requirement slices
// are copied so mutating a clone never reaches the original.
func (p *Pool) Clone() *Pool {
	cp := *p
	cp.Members = append([]PoolMember(nil), p.Members...)
	for i := range cp.Members {
		cp.Members[i].DeviceIDs = append([]string(nil), p.Members[i].DeviceIDs...)
	}
	cp.Strategy.Products = append([]Product(nil), p.Strategy.Products...)
	cp.Requirements.DeviceTypes = append([]DeviceType(nil), p.Requirements.DeviceTypes...)
	return &cp
}

// Member returns the member entry for the given user.
func (p *Pool) Member(userID string) (*PoolMember, bool) {
	for i := range p.Members {
		if p.Members[i].UserID == userID {
			return &p.Members[i], true
		}
	}
	return nil, false
}

// ActiveContributionKW sums the contribution of active members.
func (p *Pool) ActiveContributionKW() float64 {
	var kw float64
	for _, m := range p.Members {
		if m.Status == MemberActive {
			kw += m.ContributionKW
		}
	}
	return kw
}

// Recompute refreshes TotalMW from active members and flips the pool
// between active and full around the target capacity. Pending and inactive
// pools keep their status.
func (p *Pool) Recompute() {
	p.TotalMW = p.ActiveContributionKW() / 1000
	switch p.Status {
	case PoolActive:
		if p.TargetMW > 0 && p.TotalMW >= p.TargetMW {
			p.Status = PoolFull
		}
	case PoolFull:
		if p.TotalMW < p.TargetMW {
			p.Status = PoolActive
		}
	}
}

// Biddable reports whether the pool may place bids.
func (p *Pool) Biddable() bool {
	return p.Status == PoolActive || p.Status == PoolFull
}
