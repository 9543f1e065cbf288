// Package allocation fans a cleared bid out into per-device dispatch
// records, splitting each instruction's power proportionally to every
// member's contribution share.
package allocation

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/logger"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
)

// Allocator converts accepted bids into dispatch records.
type Allocator struct {
	pools      store.PoolStore
	devices    store.DeviceStore
	bids       store.BidStore
	dispatches store.DispatchStore
	log        logger.Logger
}

// NewAllocator creates an allocator over the given stores.
func NewAllocator(pools store.PoolStore, devices store.DeviceStore, bids store.BidStore, dispatches store.DispatchStore, log logger.Logger) (*Allocator, error) {
	if pools == nil || devices == nil || bids == nil || dispatches == nil || log == nil {
		return nil, fmt.Errorf("allocation: nil parameter provided to NewAllocator")
	}
	return &Allocator{pools: pools, devices: devices, bids: bids, dispatches: dispatches, log: log}, nil
}

// eligible reports whether the device may serve the bid window: actively
// enrolled in the pool, VPP-enabled, not blacked out and within its daily
// cycle budget.
func eligible(dev *model.Device, poolID string, start, end time.Time) bool {
	return dev.ActivelyEnrolled(poolID) &&
		dev.VPPEnabled &&
		dev.AvailableDuring(start, end) &&
		dev.WithinCycleBudget()
}

// CreateDispatchesForBid expands an accepted bid into one dispatch per
// (eligible device, instruction). Each instruction's capacity splits over
// members proportionally to contribution: allocation ratios sum to one
// over active members, so the per-instruction requested power sums back to
// the instruction's capacity when every device is eligible. On success the
// bid moves to dispatched.
func (a *Allocator) CreateDispatchesForBid(bidID string) ([]*model.Dispatch, error) {
	bid, err := a.bids.Get(bidID)
	if err != nil {
		return nil, err
	}
	if bid.Status != model.BidAccepted {
		return nil, faults.InvalidStatef("bid %s: dispatches require an accepted bid, status is %s", bidID, bid.Status)
	}
	pool, err := a.pools.Get(bid.PoolID)
	if err != nil {
		return nil, err
	}
	totalKW := pool.TotalMW * 1000
	if totalKW <= 0 {
		return nil, faults.InsufficientCapacityf("pool %s has no active capacity", pool.ID)
	}

	now := time.Now()
	var created []*model.Dispatch
	for _, member := range pool.Members {
		if member.Status != model.MemberActive {
			continue
		}
		ratio := member.ContributionKW / totalKW
		for _, deviceID := range member.DeviceIDs {
			dev, err := a.devices.Get(deviceID)
			if err != nil {
				a.log.Warnf("allocation: skipping device %s: %v", deviceID, err)
				continue
			}
			if !eligible(dev, pool.ID, bid.WindowStart, bid.WindowEnd) {
				continue
			}
			enr, _ := dev.Enrollment(pool.ID)
			share := enr.ContributionKW / member.ContributionKW

			for _, instr := range bid.Instructions {
				requested := instr.CapacityMW * 1000 * ratio * share
				if instr.Action != model.ActionDischarge {
					requested = -requested
				}
				d := &model.Dispatch{
					ID:          uuid.NewString(),
					PoolID:      pool.ID,
					BidID:       bid.ID,
					UserID:      member.UserID,
					DeviceID:    deviceID,
					Start:       instr.At,
					End:         instr.At.Add(instr.Duration),
					Action:      instr.Action,
					RequestedKW: round3(requested),
					Status:      model.DispatchScheduled,
					Performance: model.DispatchPerformance{ExpectedKW: round3(requested)},
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				a.dispatches.Put(d)
				created = append(created, d)
			}
		}
	}

	if _, err := a.bids.Update(bidID, func(b *model.Bid) error {
		return b.Transition(model.BidDispatched)
	}); err != nil {
		return nil, err
	}
	a.log.Infof("bid %s: created %d dispatches across pool %s", bidID, len(created), pool.ID)
	return created, nil
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
