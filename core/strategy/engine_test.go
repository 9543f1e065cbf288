package strategy

import (
	"testing"
	"time"

	"github.com/gridmesh/vpp/core/capacity"
	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/market"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/infra/logger"
)

type fixture struct {
	engine *Engine
	pools  *store.MemoryPoolStore
	bids   *store.MemoryBidStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pools := store.NewMemoryPoolStore()
	devices := store.NewMemoryDeviceStore()
	bids := store.NewMemoryBidStore()
	markets := store.NewMemoryMarketStore([]model.Market{{
		ID:               "m1",
		Name:             "test market",
		Currency:         "CAD",
		MinBidCapacityMW: 0.01,
		Products:         []model.Product{model.ProductEnergy, model.ProductCapacity},
	}})

	pools.Put(&model.Pool{
		ID:       "p1",
		MarketID: "m1",
		Status:   model.PoolActive,
		TotalMW:  0.05,
		Members: []model.PoolMember{
			{UserID: "u1", DeviceIDs: []string{"d1"}, ContributionKW: 50, Status: model.MemberActive},
		},
		Strategy: model.PoolStrategy{Products: []model.Product{model.ProductEnergy}, Risk: model.RiskModerate},
	})
	devices.Put(&model.Device{
		ID: "d1", UserID: "u1", VPPEnabled: true,
		Enrollments:  []model.PoolEnrollment{{PoolID: "p1", ContributionKW: 50, Status: model.EnrollmentActive}},
		Availability: model.Availability{Status: model.DeviceAvailable},
	})

	sim := market.NewSimulator(market.Config{Seed: 42}, logger.NopLogger{})
	agg := capacity.NewAggregator(pools, devices)
	engine, err := NewEngine(pools, markets, bids, agg, sim, logger.NopLogger{}, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{engine: engine, pools: pools, bids: bids}
}

func TestGenerateBid(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	bid, err := f.engine.GenerateBid("p1", model.ProductEnergy, start, start.Add(4*time.Hour), &BidOptions{PriceCAD: 0.01})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if bid.Status != model.BidAccepted {
		t.Fatalf("bid priced at a cent must clear, got %s", bid.Status)
	}
	if bid.CapacityMW != 0.05 {
		t.Fatalf("capacity defaults to the pool's available %v MW, got %v", 0.05, bid.CapacityMW)
	}
	if bid.MarketID != "m1" || bid.PoolID != "p1" {
		t.Fatalf("bid not linked: %+v", bid)
	}
	if len(bid.Instructions) == 0 {
		t.Fatal("accepted bids carry instructions")
	}
	if stored, err := f.bids.Get(bid.ID); err != nil || stored.Status != bid.Status {
		t.Fatalf("bid not persisted: %v", err)
	}
}

func TestGenerateBid_Validation(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	if _, err := f.engine.GenerateBid("p1", model.ProductEnergy, start, start, nil); faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("empty window: expected validation error, got %v", err)
	}
	if _, err := f.engine.GenerateBid("p1", model.ProductSpinningReserve, start, start.Add(time.Hour), nil); faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("untraded product: expected validation error, got %v", err)
	}
	if _, err := f.engine.GenerateBid("missing", model.ProductEnergy, start, start.Add(time.Hour), nil); faults.KindOf(err) != faults.KindNotFound {
		t.Fatalf("missing pool: expected not-found error, got %v", err)
	}

	if _, err := f.pools.Update("p1", func(p *model.Pool) error {
		p.Status = model.PoolInactive
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.engine.GenerateBid("p1", model.ProductEnergy, start, start.Add(time.Hour), nil); faults.KindOf(err) != faults.KindInvalidState {
		t.Fatalf("inactive pool: expected invalid-state error, got %v", err)
	}
}

func TestGenerateBid_InsufficientCapacity(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	_, err := f.engine.GenerateBid("p1", model.ProductEnergy, start, start.Add(time.Hour), &BidOptions{CapacityMW: 0.005})
	if faults.KindOf(err) != faults.KindInsufficientCapacity {
		t.Fatalf("expected insufficient-capacity error, got %v", err)
	}
}

func TestCancelBid(t *testing.T) {
	f := newFixture(t)
	f.bids.Put(&model.Bid{ID: "b1", PoolID: "p1", Status: model.BidPending})
	f.bids.Put(&model.Bid{ID: "b2", PoolID: "p1", Status: model.BidAccepted})

	bid, err := f.engine.CancelBid("b1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if bid.Status != model.BidCancelled {
		t.Fatalf("expected cancelled, got %s", bid.Status)
	}

	if _, err := f.engine.CancelBid("b2"); faults.KindOf(err) != faults.KindInvalidState {
		t.Fatalf("non-pending bid: expected invalid-state error, got %v", err)
	}
	if _, err := f.engine.CancelBid("missing"); faults.KindOf(err) != faults.KindNotFound {
		t.Fatalf("missing bid: expected not-found error, got %v", err)
	}
}

func TestAutoGenerateBids(t *testing.T) {
	f := newFixture(t)
	bids, err := f.engine.AutoGenerateBids("p1")
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	// Energy expands into six 4-hour blocks; rejected bids still count as
	// created.
	if len(bids) != 6 {
		t.Fatalf("expected 6 energy bids, got %d", len(bids))
	}
	if got := f.bids.ListByPool("p1"); len(got) != 6 {
		t.Fatalf("expected 6 persisted bids, got %d", len(got))
	}
}

func TestBidWindows(t *testing.T) {
	now := time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)

	energy := bidWindows(model.ProductEnergy, now)
	if len(energy) != 6 {
		t.Fatalf("energy: expected 6 windows, got %d", len(energy))
	}
	if !energy[0].start.Equal(time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("energy windows start at the next top of hour, got %v", energy[0].start)
	}
	if energy[0].end.Sub(energy[0].start) != 4*time.Hour {
		t.Fatal("energy windows span 4 hours")
	}

	reg := bidWindows(model.ProductFrequencyRegulation, now)
	if len(reg) != 24 {
		t.Fatalf("regulation: expected 24 windows, got %d", len(reg))
	}
	if reg[0].end.Sub(reg[0].start) != time.Hour {
		t.Fatal("regulation windows span 1 hour")
	}

	day := bidWindows(model.ProductCapacity, now)
	if len(day) != 1 {
		t.Fatalf("capacity: expected 1 window, got %d", len(day))
	}
	if !day[0].start.Equal(time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)) || day[0].end.Sub(day[0].start) != 24*time.Hour {
		t.Fatalf("capacity window must cover tomorrow, got %v - %v", day[0].start, day[0].end)
	}
}
