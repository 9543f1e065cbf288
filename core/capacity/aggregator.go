// Package capacity derives a pool's flexible capacity from its enrolled
// devices' contribution and live availability.
package capacity

import (
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
)

// Snapshot is a point-in-time view of a pool's dispatchable capacity.
type Snapshot struct {
	TotalMW        float64
	AvailableMW    float64
	UtilizationPct float64
}

// Aggregator computes capacity snapshots. It has no side effects.
type Aggregator struct {
	pools   store.PoolStore
	devices store.DeviceStore
}

// NewAggregator creates an aggregator over the given stores.
func NewAggregator(pools store.PoolStore, devices store.DeviceStore) *Aggregator {
	return &Aggregator{pools: pools, devices: devices}
}

// Snapshot sums the contribution of every active member's enrolled,
// VPP-enabled device into the total, counting only currently available
// devices toward the available figure.
func (a *Aggregator) Snapshot(poolID string) (Snapshot, error) {
	pool, err := a.pools.Get(poolID)
	if err != nil {
		return Snapshot{}, err
	}

	var totalKW, availableKW float64
	for _, m := range pool.Members {
		if m.Status != model.MemberActive {
			continue
		}
		for _, deviceID := range m.DeviceIDs {
			dev, err := a.devices.Get(deviceID)
			if err != nil {
				continue
			}
			enr, ok := dev.Enrollment(poolID)
			if !ok || enr.Status != model.EnrollmentActive || !dev.VPPEnabled {
				continue
			}
			totalKW += enr.ContributionKW
			if dev.Availability.Status == model.DeviceAvailable {
				availableKW += enr.ContributionKW
			}
		}
	}

	snap := Snapshot{TotalMW: totalKW / 1000, AvailableMW: availableKW / 1000}
	if totalKW > 0 {
		snap.UtilizationPct = availableKW / totalKW * 100
	}
	return snap, nil
}
