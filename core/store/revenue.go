package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
)

// RevenueDelta is one dispatch's additive contribution to a period bucket.
type RevenueDelta struct {
	GrossCAD        float64
	PlatformFeeCAD  float64
	OperatorFeeCAD  float64
	NetCAD          float64
	EnergyCAD       float64
	CapacityCAD     float64
	AncillaryCAD    float64
	Dispatches      int
	EnergyKWh       float64
	AbsPowerKW      float64
	AvailabilityPct float64
	UtilizationPct  float64
	ReliabilityPct  float64
}

// RevenueFilter narrows ledger queries.
type RevenueFilter struct {
	UserID  string
	PoolID  string
	Period  *model.PeriodType
	Payment *model.PaymentStatus
	From    time.Time
	To      time.Time
}

func (f RevenueFilter) matches(r model.RevenueRecord) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.PoolID != "" && r.PoolID != f.PoolID {
		return false
	}
	if f.Period != nil && r.Period != *f.Period {
		return false
	}
	if f.Payment != nil && r.Payment != *f.Payment {
		return false
	}
	if !f.From.IsZero() && r.PeriodStart.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.PeriodStart.Before(f.To) {
		return false
	}
	return true
}

// RevenueStore is the terminal revenue ledger. Merge is the only write path
// for amounts: a find-or-create plus additive merge, atomic per
// (user, pool, period type, period start) key. UpdatePayment drives the
// pay-out state machine.
type RevenueStore interface {
	Get(ctx context.Context, key model.RevenueKey) (*model.RevenueRecord, error)
	Merge(ctx context.Context, key model.RevenueKey, periodEnd time.Time, delta RevenueDelta) (*model.RevenueRecord, error)
	UpdatePayment(ctx context.Context, key model.RevenueKey, fn func(*model.RevenueRecord) error) (*model.RevenueRecord, error)
	Query(ctx context.Context, f RevenueFilter) ([]*model.RevenueRecord, error)
	Close() error
}

// revenueMapKey normalizes the period start so map lookups do not depend on
// time.Time internals.
type revenueMapKey struct {
	userID    string
	poolID    string
	period    model.PeriodType
	startUnix int64
}

func mapKey(k model.RevenueKey) revenueMapKey {
	return revenueMapKey{userID: k.UserID, poolID: k.PoolID, period: k.Period, startUnix: k.PeriodStart.Unix()}
}

type revenueSums struct {
	reliability  float64
	availability float64
	utilization  float64
	power        float64
}

// MemoryRevenueStore is a mutex-guarded in-memory ledger.
type MemoryRevenueStore struct {
	mu      sync.RWMutex
	records map[revenueMapKey]model.RevenueRecord
	sums    map[revenueMapKey]revenueSums
}

// NewMemoryRevenueStore creates an empty revenue ledger.
func NewMemoryRevenueStore() *MemoryRevenueStore {
	return &MemoryRevenueStore{
		records: map[revenueMapKey]model.RevenueRecord{},
		sums:    map[revenueMapKey]revenueSums{},
	}
}

func (s *MemoryRevenueStore) Get(_ context.Context, key model.RevenueKey) (*model.RevenueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[mapKey(key)]
	if !ok {
		return nil, faults.NotFoundf("revenue record for user %s pool %s %s %s not found",
			key.UserID, key.PoolID, key.Period, key.PeriodStart.Format("2006-01-02"))
	}
	cp := r
	return &cp, nil
}

// Merge finds or creates the record for key and merges delta additively.
func (s *MemoryRevenueStore) Merge(_ context.Context, key model.RevenueKey, periodEnd time.Time, delta RevenueDelta) (*model.RevenueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk := mapKey(key)
	r, ok := s.records[mk]
	if !ok {
		now := time.Now()
		r = model.RevenueRecord{
			ID:          uuid.NewString(),
			UserID:      key.UserID,
			PoolID:      key.PoolID,
			Period:      key.Period,
			PeriodStart: key.PeriodStart,
			PeriodEnd:   periodEnd,
			Payment:     model.PaymentAccruing,
			CreatedAt:   now,
		}
	}
	r.GrossCAD += delta.GrossCAD
	r.PlatformFeeCAD += delta.PlatformFeeCAD
	r.OperatorFeeCAD += delta.OperatorFeeCAD
	r.NetCAD += delta.NetCAD
	r.Breakdown.EnergyCAD += delta.EnergyCAD
	r.Breakdown.CapacityCAD += delta.CapacityCAD
	r.Breakdown.AncillaryCAD += delta.AncillaryCAD
	r.DispatchCount += delta.Dispatches
	r.EnergyKWh += delta.EnergyKWh
	r.UpdatedAt = time.Now()

	sums := s.sums[mk]
	sums.reliability += delta.ReliabilityPct * float64(delta.Dispatches)
	sums.availability += delta.AvailabilityPct * float64(delta.Dispatches)
	sums.utilization += delta.UtilizationPct * float64(delta.Dispatches)
	sums.power += delta.AbsPowerKW
	s.sums[mk] = sums
	if r.DispatchCount > 0 {
		n := float64(r.DispatchCount)
		r.ReliabilityPct = sums.reliability / n
		r.AvailabilityPct = sums.availability / n
		r.UtilizationPct = sums.utilization / n
		r.AvgPowerKW = sums.power / n
	}

	s.records[mk] = r
	cp := r
	return &cp, nil
}

// UpdatePayment applies fn to the stored record under the write lock. If fn
// returns an error nothing is written.
func (s *MemoryRevenueStore) UpdatePayment(_ context.Context, key model.RevenueKey, fn func(*model.RevenueRecord) error) (*model.RevenueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk := mapKey(key)
	r, ok := s.records[mk]
	if !ok {
		return nil, faults.NotFoundf("revenue record for user %s pool %s %s %s not found",
			key.UserID, key.PoolID, key.Period, key.PeriodStart.Format("2006-01-02"))
	}
	if err := fn(&r); err != nil {
		return nil, err
	}
	s.records[mk] = r
	cp := r
	return &cp, nil
}

func (s *MemoryRevenueStore) Query(_ context.Context, f RevenueFilter) ([]*model.RevenueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*model.RevenueRecord
	for _, r := range s.records {
		if !f.matches(r) {
			continue
		}
		cp := r
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].PeriodStart.Equal(res[j].PeriodStart) {
			return res[i].PoolID < res[j].PoolID
		}
		return res[i].PeriodStart.Before(res[j].PeriodStart)
	})
	return res, nil
}

// Close implements RevenueStore; the in-memory ledger holds no resources.
func (s *MemoryRevenueStore) Close() error { return nil }
