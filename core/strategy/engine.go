// Package strategy chooses bid price and quantity from a price forecast
// and a pool's risk posture, and can generate a full day's bids across a
// pool's configured products.
package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/vpp/core/capacity"
	"github.com/gridmesh/vpp/core/events"
	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/logger"
	"github.com/gridmesh/vpp/core/market"
	"github.com/gridmesh/vpp/core/metrics"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/internal/eventbus"
)

// BidOptions overrides the derived bid parameters.
type BidOptions struct {
	CapacityMW float64
	PriceCAD   float64
}

// Engine generates bids for pools.
type Engine struct {
	pools    store.PoolStore
	markets  store.MarketStore
	bids     store.BidStore
	capacity *capacity.Aggregator
	sim      *market.Simulator
	log      logger.Logger
	metrics  metrics.MetricsSink
	bus      eventbus.EventBus
}

// NewEngine creates a bid engine. The metrics sink and bus may be nil.
func NewEngine(pools store.PoolStore, markets store.MarketStore, bids store.BidStore, agg *capacity.Aggregator, sim *market.Simulator, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus) (*Engine, error) {
	if pools == nil || markets == nil || bids == nil || agg == nil || sim == nil || log == nil {
		return nil, fmt.Errorf("strategy: nil parameter provided to NewEngine")
	}
	return &Engine{
		pools:    pools,
		markets:  markets,
		bids:     bids,
		capacity: agg,
		sim:      sim,
		log:      log,
		metrics:  sink,
		bus:      bus,
	}, nil
}

// GenerateBid builds a bid for the pool over [start, end), prices it from
// the forecast and immediately runs it through market clearing. Capacity
// defaults to the pool's available capacity.
func (e *Engine) GenerateBid(poolID string, product model.Product, start, end time.Time, opts *BidOptions) (*model.Bid, error) {
	if !end.After(start) {
		return nil, faults.Validationf("bid window end must be after start")
	}
	p, err := e.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	if !p.Biddable() {
		return nil, faults.InvalidStatef("pool %s is %s, bids require an active or full pool", poolID, p.Status)
	}
	mkt, err := e.markets.Get(p.MarketID)
	if err != nil {
		return nil, err
	}
	if !mkt.Offers(product) {
		return nil, faults.Validationf("market %s does not trade %s", mkt.ID, product)
	}

	snap, err := e.capacity.Snapshot(poolID)
	if err != nil {
		return nil, err
	}
	capacityMW := snap.AvailableMW
	if opts != nil && opts.CapacityMW > 0 {
		capacityMW = opts.CapacityMW
	}
	if capacityMW < mkt.MinBidCapacityMW {
		return nil, faults.InsufficientCapacityf("available capacity %.3f MW below market minimum %.3f MW",
			capacityMW, mkt.MinBidCapacityMW)
	}

	hours := int(math.Ceil(end.Sub(start).Hours()))
	if hours < 1 {
		hours = 1
	}
	forecast := e.sim.ForecastPrices(product, start, hours)
	price := e.sim.OptimalBidPrice(forecast, p.Strategy.Risk)
	if opts != nil && opts.PriceCAD > 0 {
		price = opts.PriceCAD
	}

	now := time.Now()
	bid := &model.Bid{
		ID:          uuid.NewString(),
		PoolID:      poolID,
		MarketID:    mkt.ID,
		Product:     product,
		WindowStart: start,
		WindowEnd:   end,
		CapacityMW:  capacityMW,
		PriceCAD:    price,
		Status:      model.BidPending,
		Settlement:  model.SettlementPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.sim.ProcessBid(bid); err != nil {
		return nil, err
	}
	e.bids.Put(bid)

	e.log.Infof("bid %s for pool %s: %s %.3f MW @ %.2f CAD/MWh -> %s",
		bid.ID, poolID, product, capacityMW, price, bid.Status)
	if cr, ok := e.metrics.(metrics.ClearingRecorder); ok && bid.ClearingPriceCAD != nil {
		if err := cr.RecordClearingPrice(metrics.ClearingEvent{
			Product:  product,
			PriceCAD: *bid.ClearingPriceCAD,
			Accepted: bid.Status == model.BidAccepted,
			Time:     now,
		}); err != nil {
			e.log.Errorf("clearing metrics error: %v", err)
		}
	}
	if e.bus != nil {
		ev := events.BidEvent{BidID: bid.ID, PoolID: poolID, Product: product, Status: bid.Status, Time: now}
		if bid.ClearingPriceCAD != nil {
			ev.ClearingPriceCAD = *bid.ClearingPriceCAD
		}
		e.bus.Publish(ev)
	}
	return bid, nil
}

// CancelBid cancels a pending bid.
func (e *Engine) CancelBid(bidID string) (*model.Bid, error) {
	return e.bids.Update(bidID, func(b *model.Bid) error {
		if b.Status != model.BidPending {
			return faults.InvalidStatef("bid %s: only pending bids can be cancelled, status is %s", bidID, b.Status)
		}
		return b.Transition(model.BidCancelled)
	})
}

// AutoGenerateBids creates a canonical set of bids for every product in the
// pool's strategy. Individual window failures are logged and skipped, not
// raised.
func (e *Engine) AutoGenerateBids(poolID string) ([]*model.Bid, error) {
	p, err := e.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	if !p.Biddable() {
		return nil, faults.InvalidStatef("pool %s is %s, bids require an active or full pool", poolID, p.Status)
	}

	var created []*model.Bid
	for _, product := range p.Strategy.Products {
		for _, w := range bidWindows(product, time.Now()) {
			bid, err := e.GenerateBid(poolID, product, w.start, w.end, nil)
			if err != nil {
				e.log.Warnf("auto-bid %s pool %s window %s: %v", product, poolID, w.start.Format(time.RFC3339), err)
				continue
			}
			created = append(created, bid)
		}
	}
	e.log.Infof("auto-generated %d bids for pool %s", len(created), poolID)
	return created, nil
}

type window struct {
	start time.Time
	end   time.Time
}

// bidWindows returns the canonical bid windows per product: six 4-hour
// blocks over the next 24h for energy, twenty-four 1-hour blocks for
// frequency regulation, and one full calendar day starting tomorrow for
// everything else.
func bidWindows(product model.Product, now time.Time) []window {
	nextHour := now.Truncate(time.Hour).Add(time.Hour)
	switch product {
	case model.ProductEnergy:
		ws := make([]window, 0, 6)
		for i := 0; i < 6; i++ {
			start := nextHour.Add(time.Duration(i) * 4 * time.Hour)
			ws = append(ws, window{start: start, end: start.Add(4 * time.Hour)})
		}
		return ws
	case model.ProductFrequencyRegulation:
		ws := make([]window, 0, 24)
		for i := 0; i < 24; i++ {
			start := nextHour.Add(time.Duration(i) * time.Hour)
			ws = append(ws, window{start: start, end: start.Add(time.Hour)})
		}
		return ws
	default:
		tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		return []window{{start: tomorrow, end: tomorrow.AddDate(0, 0, 1)}}
	}
}
