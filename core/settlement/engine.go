// Package settlement turns completed dispatch revenue into period-bucketed
// ledger records with fee splits, rolling aggregates and a monthly pay-out
// state machine.
package settlement

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/gridmesh/vpp/core/events"
	"github.com/gridmesh/vpp/core/logger"
	"github.com/gridmesh/vpp/core/metrics"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/scheduler"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/internal/eventbus"
)

// CategorySplit attributes gross revenue to breakdown categories. This is
// policy, not physics: a stand-in for true per-product attribution.
type CategorySplit struct {
	EnergyPct    float64
	CapacityPct  float64
	AncillaryPct float64
}

// DefaultSplit is the 70/20/10 energy/capacity/ancillary attribution.
var DefaultSplit = CategorySplit{EnergyPct: 70, CapacityPct: 20, AncillaryPct: 10}

// Engine is the settlement service.
type Engine struct {
	revenue     store.RevenueStore
	devices     store.DeviceStore
	queue       *scheduler.Queue
	payoutDelay time.Duration
	split       CategorySplit
	log         logger.Logger
	sink        metrics.MetricsSink
	bus         eventbus.EventBus
}

// NewEngine creates a settlement engine. payoutDelay stands in for the
// payment rail latency on monthly settlements. The metrics sink and bus
// may be nil.
func NewEngine(revenue store.RevenueStore, devices store.DeviceStore, queue *scheduler.Queue, payoutDelay time.Duration, split CategorySplit, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus) (*Engine, error) {
	if revenue == nil || devices == nil || queue == nil || log == nil {
		return nil, fmt.Errorf("settlement: nil parameter provided to NewEngine")
	}
	if split == (CategorySplit{}) {
		split = DefaultSplit
	}
	if payoutDelay <= 0 {
		payoutDelay = 2 * time.Second
	}
	return &Engine{
		revenue:     revenue,
		devices:     devices,
		queue:       queue,
		payoutDelay: payoutDelay,
		split:       split,
		log:         log,
		sink:        sink,
		bus:         bus,
	}, nil
}

// RecordDispatchRevenue splits the gross revenue of a completed dispatch
// into platform fee, operator fee and net, writes the split back onto the
// dispatch value, merges the amounts into every period bucket and updates
// the device's rolling performance. Fees round to cents; net absorbs the
// remainder so gross == platform + operator + net holds exactly.
func (e *Engine) RecordDispatchRevenue(ctx context.Context, d *model.Dispatch, gross float64, fees model.FeePolicy) error {
	platform := round2(gross * fees.PlatformPct / 100)
	operator := round2(gross * fees.OperatorPct / 100)
	net := gross - platform - operator
	d.Revenue = model.DispatchRevenue{
		GrossCAD:       gross,
		PlatformFeeCAD: platform,
		OperatorFeeCAD: operator,
		NetCAD:         net,
	}

	for _, period := range model.PeriodTypes {
		if err := e.updatePeriodRevenue(ctx, d, period); err != nil {
			return err
		}
	}

	if _, err := e.devices.Update(d.DeviceID, func(dev *model.Device) error {
		n := float64(dev.Performance.Dispatches30d + 1)
		dev.Performance.ReliabilityPct = (dev.Performance.ReliabilityPct*(n-1) + d.Performance.ReliabilityPct) / n
		dev.Performance.Dispatches30d++
		dev.Performance.Revenue30dCAD += net
		dev.Performance.Revenue90dCAD += net
		dev.Performance.RevenueLifetimeCAD += net
		return nil
	}); err != nil {
		return err
	}

	if sr, ok := e.sink.(metrics.SettlementRecorder); ok {
		if err := sr.RecordSettlement(metrics.SettlementEvent{
			UserID:   d.UserID,
			PoolID:   d.PoolID,
			Period:   model.PeriodMonthly,
			GrossCAD: gross,
			NetCAD:   net,
			Time:     time.Now(),
		}); err != nil {
			e.log.Errorf("settlement metrics error: %v", err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.SettlementEvent{
			UserID:   d.UserID,
			PoolID:   d.PoolID,
			Period:   model.PeriodMonthly,
			GrossCAD: gross,
			NetCAD:   net,
			Time:     time.Now(),
		})
	}
	e.log.Debugw("dispatch revenue settled", map[string]any{
		"dispatch": d.ID,
		"gross":    gross,
		"net":      net,
	})
	return nil
}

// updatePeriodRevenue merges the dispatch's amounts into the (user, pool,
// period) bucket containing its start time.
func (e *Engine) updatePeriodRevenue(ctx context.Context, d *model.Dispatch, period model.PeriodType) error {
	start, end := PeriodBounds(d.Start, period)
	key := model.RevenueKey{UserID: d.UserID, PoolID: d.PoolID, Period: period, PeriodStart: start}
	delta := store.RevenueDelta{
		GrossCAD:        d.Revenue.GrossCAD,
		PlatformFeeCAD:  d.Revenue.PlatformFeeCAD,
		OperatorFeeCAD:  d.Revenue.OperatorFeeCAD,
		NetCAD:          d.Revenue.NetCAD,
		EnergyCAD:       round2(d.Revenue.GrossCAD * e.split.EnergyPct / 100),
		CapacityCAD:     round2(d.Revenue.GrossCAD * e.split.CapacityPct / 100),
		AncillaryCAD:    round2(d.Revenue.GrossCAD * e.split.AncillaryPct / 100),
		Dispatches:      1,
		EnergyKWh:       d.EnergyKWh(),
		AbsPowerKW:      math.Abs(d.ActualKW),
		AvailabilityPct: 100,
		UtilizationPct:  d.Performance.ReliabilityPct,
		ReliabilityPct:  d.Performance.ReliabilityPct,
	}
	_, err := e.revenue.Merge(ctx, key, end, delta)
	return err
}

// ProcessMonthlySettlement moves an accruing monthly record to pending and
// schedules the pay-out transition. The record must exist and be accruing.
func (e *Engine) ProcessMonthlySettlement(ctx context.Context, userID, poolID string, year int, month time.Month) (*model.RevenueRecord, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	key := model.RevenueKey{UserID: userID, PoolID: poolID, Period: model.PeriodMonthly, PeriodStart: start}
	rec, err := e.revenue.UpdatePayment(ctx, key, func(r *model.RevenueRecord) error {
		return r.TransitionPayment(model.PaymentPending)
	})
	if err != nil {
		return nil, err
	}

	e.queue.Schedule("payout:"+rec.ID, e.payoutDelay, func() {
		if _, err := e.revenue.UpdatePayment(context.Background(), key, func(r *model.RevenueRecord) error {
			return r.TransitionPayment(model.PaymentPaid)
		}); err != nil {
			e.log.Errorf("payout for user %s pool %s %d-%02d failed: %v", userID, poolID, year, month, err)
			return
		}
		e.log.Infof("payout completed for user %s pool %s %d-%02d", userID, poolID, year, month)
	})
	return rec, nil
}

// Projection estimates future revenue from daily history.
type Projection struct {
	Days                int
	ProjectedNetCAD     float64
	ProjectedDispatches int
	Confidence          string
}

// ProjectedRevenue averages the user's historical daily records for the
// pool and extrapolates over the horizon. Confidence is low without
// history, moderate otherwise.
func (e *Engine) ProjectedRevenue(ctx context.Context, userID, poolID string, days int) (Projection, error) {
	daily := model.PeriodDaily
	records, err := e.revenue.Query(ctx, store.RevenueFilter{UserID: userID, PoolID: poolID, Period: &daily})
	if err != nil {
		return Projection{}, err
	}
	proj := Projection{Days: days, Confidence: "low"}
	if len(records) == 0 {
		return proj, nil
	}
	nets := make([]float64, len(records))
	counts := make([]float64, len(records))
	for i, r := range records {
		nets[i] = r.NetCAD
		counts[i] = float64(r.DispatchCount)
	}
	proj.ProjectedNetCAD = round2(stat.Mean(nets, nil) * float64(days))
	proj.ProjectedDispatches = int(math.Round(stat.Mean(counts, nil) * float64(days)))
	proj.Confidence = "moderate"
	return proj, nil
}

// UserSummary aggregates a user's net revenue all-time and for the current
// and previous calendar months.
type UserSummary struct {
	AllTimeNetCAD      float64
	AllTimeGrossCAD    float64
	CurrentMonthNetCAD float64
	LastMonthNetCAD    float64
	TotalDispatches    int
	TotalEnergyKWh     float64
}

// Summary computes the user's revenue summary from monthly records.
func (e *Engine) Summary(ctx context.Context, userID string) (UserSummary, error) {
	monthly := model.PeriodMonthly
	records, err := e.revenue.Query(ctx, store.RevenueFilter{UserID: userID, Period: &monthly})
	if err != nil {
		return UserSummary{}, err
	}
	now := time.Now()
	curStart, _ := PeriodBounds(now, model.PeriodMonthly)
	lastStart, _ := PeriodBounds(curStart.AddDate(0, 0, -1), model.PeriodMonthly)

	var s UserSummary
	for _, r := range records {
		s.AllTimeNetCAD += r.NetCAD
		s.AllTimeGrossCAD += r.GrossCAD
		s.TotalDispatches += r.DispatchCount
		s.TotalEnergyKWh += r.EnergyKWh
		switch {
		case r.PeriodStart.Equal(curStart):
			s.CurrentMonthNetCAD += r.NetCAD
		case r.PeriodStart.Equal(lastStart):
			s.LastMonthNetCAD += r.NetCAD
		}
	}
	return s, nil
}

// PoolRevenue is one pool's lifetime slice of a user's revenue.
type PoolRevenue struct {
	PoolID     string
	GrossCAD   float64
	NetCAD     float64
	Dispatches int
	EnergyKWh  float64
}

// ByPool groups the user's monthly records per pool.
func (e *Engine) ByPool(ctx context.Context, userID string) ([]PoolRevenue, error) {
	monthly := model.PeriodMonthly
	records, err := e.revenue.Query(ctx, store.RevenueFilter{UserID: userID, Period: &monthly})
	if err != nil {
		return nil, err
	}
	byPool := map[string]*PoolRevenue{}
	var order []string
	for _, r := range records {
		pr, ok := byPool[r.PoolID]
		if !ok {
			pr = &PoolRevenue{PoolID: r.PoolID}
			byPool[r.PoolID] = pr
			order = append(order, r.PoolID)
		}
		pr.GrossCAD += r.GrossCAD
		pr.NetCAD += r.NetCAD
		pr.Dispatches += r.DispatchCount
		pr.EnergyKWh += r.EnergyKWh
	}
	res := make([]PoolRevenue, 0, len(order))
	for _, id := range order {
		res = append(res, *byPool[id])
	}
	return res, nil
}

// TrendPoint is one month in the revenue trend.
type TrendPoint struct {
	Month      time.Time
	NetCAD     float64
	Dispatches int
}

// MonthlyTrend returns the last n months of net revenue, oldest first,
// with zero-filled months.
func (e *Engine) MonthlyTrend(ctx context.Context, userID string, n int) ([]TrendPoint, error) {
	monthly := model.PeriodMonthly
	records, err := e.revenue.Query(ctx, store.RevenueFilter{UserID: userID, Period: &monthly})
	if err != nil {
		return nil, err
	}
	byMonth := map[int64]*TrendPoint{}
	for _, r := range records {
		k := r.PeriodStart.Unix()
		if p, ok := byMonth[k]; ok {
			p.NetCAD += r.NetCAD
			p.Dispatches += r.DispatchCount
		} else {
			byMonth[k] = &TrendPoint{Month: r.PeriodStart, NetCAD: r.NetCAD, Dispatches: r.DispatchCount}
		}
	}
	curStart, _ := PeriodBounds(time.Now(), model.PeriodMonthly)
	points := make([]TrendPoint, 0, n)
	for i := n - 1; i >= 0; i-- {
		m := curStart.AddDate(0, -i, 0)
		if p, ok := byMonth[m.Unix()]; ok {
			points = append(points, *p)
		} else {
			points = append(points, TrendPoint{Month: m})
		}
	}
	return points, nil
}

// History returns ledger records matching the filter.
func (e *Engine) History(ctx context.Context, f store.RevenueFilter) ([]*model.RevenueRecord, error) {
	return e.revenue.Query(ctx, f)
}

// MonthRecords returns the user's monthly records for the given month
// across every pool.
func (e *Engine) MonthRecords(ctx context.Context, userID string, year int, month time.Month) ([]*model.RevenueRecord, error) {
	monthly := model.PeriodMonthly
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	return e.revenue.Query(ctx, store.RevenueFilter{
		UserID: userID,
		Period: &monthly,
		From:   start,
		To:     start.AddDate(0, 1, 0),
	})
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
