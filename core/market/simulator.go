// Package market simulates wholesale market clearing. Prices follow a
// deterministic per-product base shaped by time-of-day, season and weekend
// factors plus a bounded random component; bid acceptance compares the bid
// price against the simulated clearing price.
package market

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/logger"
	"github.com/gridmesh/vpp/core/model"
)

// Config defines the simulator parameters.
type Config struct {
	// BasePrices maps product wire names to base clearing prices in
	// CAD/MWh.
	BasePrices map[string]float64 `json:"base_prices"`
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64 `json:"seed"`
}

// SetDefaults applies base prices for products left unset.
func (c *Config) SetDefaults() {
	if c.BasePrices == nil {
		c.BasePrices = map[string]float64{}
	}
	defaults := map[string]float64{
		model.ProductEnergy.String():              45,
		model.ProductCapacity.String():            12,
		model.ProductFrequencyRegulation.String(): 28,
		model.ProductSpinningReserve.String():     18,
		model.ProductDemandResponse.String():      35,
	}
	for name, price := range defaults {
		if _, ok := c.BasePrices[name]; !ok {
			c.BasePrices[name] = price
		}
	}
}

// Validate checks the configured prices.
func (c Config) Validate() error {
	for name, price := range c.BasePrices {
		if _, ok := model.ParseProduct(name); !ok {
			return faults.Validationf("market: unknown product %q in base prices", name)
		}
		if price <= 0 {
			return faults.Validationf("market: base price for %s must be positive", name)
		}
	}
	return nil
}

// PricePoint is one hourly forecast entry.
type PricePoint struct {
	At       time.Time
	PriceCAD float64
}

// Delivery is the simulated outcome of one dispatch.
type Delivery struct {
	ActualKW  float64
	EnergyKWh float64
	Battery   *model.BatteryImpact
}

// Simulator generates clearing prices and processes bids.
type Simulator struct {
	basePrices map[model.Product]float64
	mu         sync.Mutex
	rng        *rand.Rand
	log        logger.Logger
}

// NewSimulator creates a simulator from the configuration.
func NewSimulator(cfg Config, log logger.Logger) *Simulator {
	cfg.SetDefaults()
	prices := make(map[model.Product]float64, len(cfg.BasePrices))
	for name, price := range cfg.BasePrices {
		if p, ok := model.ParseProduct(name); ok {
			prices[p] = price
		}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		basePrices: prices,
		rng:        rand.New(rand.NewSource(seed)),
		log:        log,
	}
}

// random returns a uniform sample in [lo, hi).
func (s *Simulator) random(lo, hi float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.Float64()*(hi-lo)
}

func timeOfDayFactor(hour int) float64 {
	switch {
	case hour >= 17 && hour <= 20:
		return 1.8 // evening peak
	case hour >= 6 && hour <= 8:
		return 1.4 // morning peak
	case hour >= 22 || hour <= 5:
		return 0.6 // overnight
	default:
		return 1.0
	}
}

func seasonFactor(month time.Month) float64 {
	switch month {
	case time.June, time.July, time.August:
		return 1.3
	case time.December, time.January, time.February:
		return 1.2
	default:
		return 1.0
	}
}

func weekendFactor(day time.Weekday) float64 {
	if day == time.Saturday || day == time.Sunday {
		return 0.85
	}
	return 1.0
}

// ClearingPrice simulates the market clearing price for the product at the
// given instant, rounded to cents.
func (s *Simulator) ClearingPrice(product model.Product, at time.Time) float64 {
	base := s.basePrices[product]
	price := base *
		timeOfDayFactor(at.Hour()) *
		seasonFactor(at.Month()) *
		weekendFactor(at.Weekday()) *
		s.random(0.85, 1.15)
	return round2(price)
}

// ProcessBid simulates clearing for a pending bid: it sets the clearing
// price, accepts iff the bid price does not exceed it, and on acceptance
// computes forecast revenue and expands the bid into dispatch instructions.
func (s *Simulator) ProcessBid(b *model.Bid) error {
	if b.Status != model.BidPending {
		return faults.InvalidStatef("bid %s: cannot process in status %s", b.ID, b.Status)
	}
	clearing := s.ClearingPrice(b.Product, b.WindowStart)
	b.ClearingPriceCAD = &clearing

	if b.PriceCAD > clearing {
		s.log.Infof("bid %s rejected: price %.2f above clearing %.2f", b.ID, b.PriceCAD, clearing)
		return b.Transition(model.BidRejected)
	}

	b.ForecastRevenueCAD = round2(b.CapacityMW * clearing * b.DurationHours())
	b.Instructions = s.instructions(b)
	s.log.Infof("bid %s accepted at %.2f CAD/MWh, forecast %.2f CAD", b.ID, clearing, b.ForecastRevenueCAD)
	return b.Transition(model.BidAccepted)
}

// instructions expands an accepted bid into time-stamped instructions.
func (s *Simulator) instructions(b *model.Bid) []model.DispatchInstruction {
	switch b.Product {
	case model.ProductEnergy:
		return []model.DispatchInstruction{{
			At:         b.WindowStart,
			Action:     model.ActionDischarge,
			CapacityMW: b.CapacityMW,
			Duration:   b.WindowEnd.Sub(b.WindowStart),
		}}
	case model.ProductFrequencyRegulation:
		const slot = 15 * time.Minute
		var instrs []model.DispatchInstruction
		for at := b.WindowStart; at.Before(b.WindowEnd); at = at.Add(slot) {
			action := model.ActionDischarge
			if s.random(0, 1) < 0.5 {
				action = model.ActionCharge
			}
			dur := slot
			if remaining := b.WindowEnd.Sub(at); remaining < dur {
				dur = remaining
			}
			instrs = append(instrs, model.DispatchInstruction{
				At:         at,
				Action:     action,
				CapacityMW: round3(b.CapacityMW * s.random(0.5, 1.0)),
				Duration:   dur,
			})
		}
		return instrs
	default:
		return []model.DispatchInstruction{{
			At:         b.WindowStart,
			Action:     model.ActionStandby,
			CapacityMW: b.CapacityMW,
			Duration:   b.WindowEnd.Sub(b.WindowStart),
		}}
	}
}

// ForecastPrices returns one simulated price point per hour for the
// requested horizon.
func (s *Simulator) ForecastPrices(product model.Product, from time.Time, hours int) []PricePoint {
	points := make([]PricePoint, 0, hours)
	for i := 0; i < hours; i++ {
		at := from.Add(time.Duration(i) * time.Hour)
		points = append(points, PricePoint{At: at, PriceCAD: s.ClearingPrice(product, at)})
	}
	return points
}

// riskMultipliers maps risk tolerance to the fraction of the average
// forecast price to bid at.
var riskMultipliers = map[model.RiskTolerance]float64{
	model.RiskConservative: 0.85,
	model.RiskModerate:     1.0,
	model.RiskAggressive:   1.15,
}

// OptimalBidPrice picks a bid price from the forecast: a risk-scaled
// average clamped to the forecast's observed range.
func (s *Simulator) OptimalBidPrice(points []PricePoint, risk model.RiskTolerance) float64 {
	if len(points) == 0 {
		return 0
	}
	prices := make([]float64, len(points))
	lo, hi := points[0].PriceCAD, points[0].PriceCAD
	for i, p := range points {
		prices[i] = p.PriceCAD
		lo = math.Min(lo, p.PriceCAD)
		hi = math.Max(hi, p.PriceCAD)
	}
	price := stat.Mean(prices, nil) * riskMultipliers[risk]
	return round2(math.Min(math.Max(price, lo), hi))
}

// SimulateDelivery stands in for telemetry: delivered power lands within
// 5% of the request, with a battery wear estimate for storage devices.
func (s *Simulator) SimulateDelivery(d *model.Dispatch, dev *model.Device) Delivery {
	actual := d.RequestedKW * s.random(0.95, 1.05)
	energy := math.Abs(actual) * d.DurationHours()
	out := Delivery{ActualKW: round3(actual), EnergyKWh: round3(energy)}

	if dev != nil && dev.Type == model.DeviceBattery && dev.BatteryKWh > 0 {
		socDelta := energy / dev.BatteryKWh
		socStart := dev.SoC
		socEnd := socStart
		if d.RequestedKW >= 0 {
			socEnd = math.Max(0, socStart-socDelta)
		} else {
			socEnd = math.Min(1, socStart+socDelta)
		}
		out.Battery = &model.BatteryImpact{
			CyclesUsed:         round3(socDelta),
			SoCStart:           round3(socStart),
			SoCEnd:             round3(socEnd),
			DepthOfDischarge:   round3(math.Abs(socStart - socEnd)),
			DegradationCostCAD: round2(energy * 0.01),
		}
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
