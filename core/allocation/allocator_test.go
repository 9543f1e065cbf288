package allocation

import (
	"math"
	"testing"
	"time"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/infra/logger"
)

type fixture struct {
	alloc      *Allocator
	pools      *store.MemoryPoolStore
	devices    *store.MemoryDeviceStore
	bids       *store.MemoryBidStore
	dispatches *store.MemoryDispatchStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		pools:      store.NewMemoryPoolStore(),
		devices:    store.NewMemoryDeviceStore(),
		bids:       store.NewMemoryBidStore(),
		dispatches: store.NewMemoryDispatchStore(),
	}
	alloc, err := NewAllocator(f.pools, f.devices, f.bids, f.dispatches, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	f.alloc = alloc
	return f
}

func (f *fixture) seedDevice(id, userID string, kw float64) {
	f.devices.Put(&model.Device{
		ID: id, UserID: userID, VPPEnabled: true,
		Enrollments:  []model.PoolEnrollment{{PoolID: "p1", ContributionKW: kw, Status: model.EnrollmentActive}},
		Availability: model.Availability{Status: model.DeviceAvailable},
	})
}

func (f *fixture) seed(t *testing.T, instructions []model.DispatchInstruction) *model.Bid {
	t.Helper()
	f.pools.Put(&model.Pool{
		ID:      "p1",
		Status:  model.PoolActive,
		TotalMW: 0.1,
		Members: []model.PoolMember{
			{UserID: "u1", DeviceIDs: []string{"d1", "d2"}, ContributionKW: 60, Status: model.MemberActive},
			{UserID: "u2", DeviceIDs: []string{"d3"}, ContributionKW: 40, Status: model.MemberActive},
		},
	})
	f.seedDevice("d1", "u1", 40)
	f.seedDevice("d2", "u1", 20)
	f.seedDevice("d3", "u2", 40)

	start := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	bid := &model.Bid{
		ID:           "b1",
		PoolID:       "p1",
		Product:      model.ProductEnergy,
		WindowStart:  start,
		WindowEnd:    start.Add(time.Hour),
		Status:       model.BidAccepted,
		Instructions: instructions,
	}
	f.bids.Put(bid)
	return bid
}

func TestCreateDispatches_Proportionality(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	bid := f.seed(t, []model.DispatchInstruction{
		{At: start, Action: model.ActionDischarge, CapacityMW: 1, Duration: time.Hour},
		{At: start.Add(time.Hour), Action: model.ActionCharge, CapacityMW: 0.5, Duration: time.Hour},
	})

	ds, err := f.alloc.CreateDispatchesForBid(bid.ID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(ds) != 6 {
		t.Fatalf("3 devices x 2 instructions = 6 dispatches, got %d", len(ds))
	}

	perDevice := map[string]float64{}
	var dischargeSum, chargeSum float64
	for _, d := range ds {
		if d.Status != model.DispatchScheduled {
			t.Fatalf("new dispatch must be scheduled, got %s", d.Status)
		}
		if d.Action == model.ActionDischarge {
			if d.RequestedKW <= 0 {
				t.Fatalf("discharge power must be positive, got %v", d.RequestedKW)
			}
			dischargeSum += d.RequestedKW
			perDevice[d.DeviceID] = d.RequestedKW
		} else {
			if d.RequestedKW >= 0 {
				t.Fatalf("charge power must be negative, got %v", d.RequestedKW)
			}
			chargeSum += d.RequestedKW
		}
	}
	if math.Abs(dischargeSum-1000) > 0.01 {
		t.Fatalf("discharge sum %v kW, want the instruction's 1000 kW", dischargeSum)
	}
	if math.Abs(chargeSum+500) > 0.01 {
		t.Fatalf("charge sum %v kW, want -500 kW", chargeSum)
	}
	// Shares follow enrollment contribution: 40/20/40 over 100 kW.
	if perDevice["d1"] != 400 || perDevice["d2"] != 200 || perDevice["d3"] != 400 {
		t.Fatalf("unexpected split %v", perDevice)
	}

	got, err := f.bids.Get(bid.ID)
	if err != nil {
		t.Fatalf("get bid: %v", err)
	}
	if got.Status != model.BidDispatched {
		t.Fatalf("allocated bid must be dispatched, got %s", got.Status)
	}
}

func TestCreateDispatches_SkipsIneligibleDevices(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	bid := f.seed(t, []model.DispatchInstruction{
		{At: start, Action: model.ActionDischarge, CapacityMW: 1, Duration: time.Hour},
	})

	// Blackout covering the window removes d2 from the fan-out.
	if _, err := f.devices.Update("d2", func(dev *model.Device) error {
		dev.Availability.Blackouts = []model.DateRange{{Start: start.Add(-time.Hour), End: start.Add(2 * time.Hour)}}
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	ds, err := f.alloc.CreateDispatchesForBid(bid.ID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("expected 2 dispatches without the blacked-out device, got %d", len(ds))
	}
	for _, d := range ds {
		if d.DeviceID == "d2" {
			t.Fatal("blacked-out device must not be dispatched")
		}
	}
}

func TestCreateDispatches_RequiresAcceptedBid(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	bid := f.seed(t, []model.DispatchInstruction{
		{At: start, Action: model.ActionDischarge, CapacityMW: 1, Duration: time.Hour},
	})
	if _, err := f.bids.Update(bid.ID, func(b *model.Bid) error {
		b.Status = model.BidPending
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := f.alloc.CreateDispatchesForBid(bid.ID)
	if faults.KindOf(err) != faults.KindInvalidState {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
	if _, err := f.alloc.CreateDispatchesForBid("missing"); faults.KindOf(err) != faults.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCreateDispatches_NoActiveCapacity(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	bid := f.seed(t, []model.DispatchInstruction{
		{At: start, Action: model.ActionDischarge, CapacityMW: 1, Duration: time.Hour},
	})
	if _, err := f.pools.Update("p1", func(p *model.Pool) error {
		p.TotalMW = 0
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := f.alloc.CreateDispatchesForBid(bid.ID)
	if faults.KindOf(err) != faults.KindInsufficientCapacity {
		t.Fatalf("expected insufficient-capacity error, got %v", err)
	}
}
