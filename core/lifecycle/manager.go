// Package lifecycle drives dispatches through their state machine: sending
// instructions over the control channel, simulating delivery at window end,
// settling revenue for completed dispatches and closing out bids once every
// dispatch reaches a terminal status.
package lifecycle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gridmesh/vpp/core/control"
	"github.com/gridmesh/vpp/core/events"
	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/logger"
	"github.com/gridmesh/vpp/core/market"
	"github.com/gridmesh/vpp/core/metrics"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/scheduler"
	"github.com/gridmesh/vpp/core/settlement"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/internal/eventbus"
)

// Manager executes dispatches end to end.
type Manager struct {
	pools      store.PoolStore
	devices    store.DeviceStore
	bids       store.BidStore
	dispatches store.DispatchStore
	control    control.Client
	sim        *market.Simulator
	settle     *settlement.Engine
	queue      *scheduler.Queue
	ackTimeout time.Duration
	delayCap   time.Duration
	log        logger.Logger
	sink       metrics.MetricsSink
	bus        eventbus.EventBus
}

// NewManager creates a lifecycle manager. delayCap bounds how long the
// manager waits before simulated activation and completion so that far-out
// windows still execute promptly. The metrics sink and bus may be nil.
func NewManager(pools store.PoolStore, devices store.DeviceStore, bids store.BidStore, dispatches store.DispatchStore,
	ctrl control.Client, sim *market.Simulator, settle *settlement.Engine, queue *scheduler.Queue,
	ackTimeout, delayCap time.Duration, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus) (*Manager, error) {
	if pools == nil || devices == nil || bids == nil || dispatches == nil || ctrl == nil || sim == nil || settle == nil || queue == nil || log == nil {
		return nil, fmt.Errorf("lifecycle: nil parameter provided to NewManager")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	if delayCap <= 0 {
		delayCap = 3 * time.Second
	}
	return &Manager{
		pools:      pools,
		devices:    devices,
		bids:       bids,
		dispatches: dispatches,
		control:    ctrl,
		sim:        sim,
		settle:     settle,
		queue:      queue,
		ackTimeout: ackTimeout,
		delayCap:   delayCap,
		log:        log,
		sink:       sink,
		bus:        bus,
	}, nil
}

// capDelay clamps the wait before a simulated step.
func (m *Manager) capDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > m.delayCap {
		return m.delayCap
	}
	return d
}

// ScheduleBid queues activation for every scheduled dispatch of the bid.
func (m *Manager) ScheduleBid(ctx context.Context, bidID string) error {
	ds := m.dispatches.ListByBid(bidID)
	if len(ds) == 0 {
		return faults.NotFoundf("bid %s has no dispatches", bidID)
	}
	for _, d := range ds {
		if d.Status != model.DispatchScheduled {
			continue
		}
		m.ScheduleDispatch(d)
	}
	m.log.Infof("bid %s: scheduled %d dispatches for execution", bidID, len(ds))
	return nil
}

// ScheduleDispatch queues the dispatch's activation at its window start,
// clamped by the delay cap. Deferred work runs detached from any request
// context.
func (m *Manager) ScheduleDispatch(d *model.Dispatch) {
	id := d.ID
	m.queue.Schedule("dispatch:start:"+id, m.capDelay(time.Until(d.Start)), func() {
		if err := m.StartDispatch(context.Background(), id); err != nil {
			m.log.Errorf("dispatch %s activation failed: %v", id, err)
		}
	})
}

// StartDispatch sends the instruction over the control channel and, on
// acknowledgment, moves the dispatch to active and queues its completion.
// A send failure or missing acknowledgment fails the dispatch.
func (m *Manager) StartDispatch(ctx context.Context, id string) error {
	d, err := m.dispatches.Get(id)
	if err != nil {
		return err
	}
	if d.Status != model.DispatchScheduled {
		return faults.InvalidStatef("dispatch %s: activation requires a scheduled dispatch, status is %s", id, d.Status)
	}

	sentAt := time.Now()
	cmdID, err := m.control.SendInstruction(d.DeviceID, d.Action, d.RequestedKW)
	if err != nil {
		controlSendFailure.Inc()
		return m.FailDispatch(ctx, id, fmt.Sprintf("control send failed: %v", err))
	}
	controlSendSuccess.Inc()

	acked, err := m.control.WaitForAck(cmdID, m.ackTimeout)
	if err != nil || !acked {
		return m.FailDispatch(ctx, id, fmt.Sprintf("device %s did not acknowledge command %s", d.DeviceID, cmdID))
	}
	dispatchAckLatency.WithLabelValues(d.Action.String()).Observe(time.Since(sentAt).Seconds())

	now := time.Now()
	updated, err := m.dispatches.Update(id, func(dp *model.Dispatch) error {
		if err := dp.Transition(model.DispatchActive); err != nil {
			return err
		}
		dp.AcceptedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := m.devices.Update(d.DeviceID, func(dev *model.Device) error {
		dev.Availability.Status = model.DeviceDispatched
		return nil
	}); err != nil {
		m.log.Warnf("dispatch %s: device %s status update failed: %v", id, d.DeviceID, err)
	}
	m.emit(updated)

	m.queue.Schedule("dispatch:complete:"+id, m.capDelay(time.Until(updated.End)), func() {
		if err := m.CompleteDispatch(context.Background(), id); err != nil {
			m.log.Errorf("dispatch %s completion failed: %v", id, err)
		}
	})
	m.log.Debugw("dispatch activated", map[string]any{
		"dispatch": id,
		"device":   d.DeviceID,
		"kw":       d.RequestedKW,
	})
	return nil
}

// CompleteDispatch simulates delivery for an active dispatch, records the
// outcome and battery impact, settles its revenue against the bid's
// clearing price and updates pool statistics.
func (m *Manager) CompleteDispatch(ctx context.Context, id string) error {
	d, err := m.dispatches.Get(id)
	if err != nil {
		return err
	}
	if d.Status != model.DispatchActive {
		return faults.InvalidStatef("dispatch %s: completion requires an active dispatch, status is %s", id, d.Status)
	}

	dev, err := m.devices.Get(d.DeviceID)
	if err != nil {
		m.log.Warnf("dispatch %s: device %s not found, delivery simulated without constraints", id, d.DeviceID)
		dev = nil
	}
	delivery := m.sim.SimulateDelivery(d, dev)

	now := time.Now()
	updated, err := m.dispatches.Update(id, func(dp *model.Dispatch) error {
		if err := dp.Transition(model.DispatchCompleted); err != nil {
			return err
		}
		dp.ActualKW = delivery.ActualKW
		dp.Performance.DeliveredKW = delivery.ActualKW
		dp.Performance.ReliabilityPct = reliabilityPct(dp.RequestedKW, delivery.ActualKW)
		dp.Battery = delivery.Battery
		dp.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	if dev != nil {
		if _, err := m.devices.Update(d.DeviceID, func(dv *model.Device) error {
			dv.Availability.Status = model.DeviceAvailable
			dv.CyclesToday++
			if delivery.Battery != nil {
				dv.SoC = delivery.Battery.SoCEnd
			}
			return nil
		}); err != nil {
			m.log.Warnf("dispatch %s: device %s state update failed: %v", id, d.DeviceID, err)
		}
	}

	bid, err := m.bids.Get(d.BidID)
	if err != nil {
		return err
	}
	price := 0.0
	if bid.ClearingPriceCAD != nil {
		price = *bid.ClearingPriceCAD
	}
	gross := round2(delivery.EnergyKWh / 1000 * price)

	pool, err := m.pools.Get(d.PoolID)
	if err != nil {
		return err
	}
	if err := m.settle.RecordDispatchRevenue(ctx, updated, gross, pool.Fees); err != nil {
		return err
	}
	if _, err := m.dispatches.Update(id, func(dp *model.Dispatch) error {
		dp.Revenue = updated.Revenue
		return nil
	}); err != nil {
		return err
	}

	dispatchesExecuted.WithLabelValues(model.DispatchCompleted.String()).Inc()
	deliveryReliability.WithLabelValues(d.PoolID).Set(updated.Performance.ReliabilityPct)
	m.emit(updated)

	if err := m.refreshPoolStats(d.PoolID, updated.Revenue.NetCAD); err != nil {
		m.log.Warnf("pool %s statistics refresh failed: %v", d.PoolID, err)
	}
	if err := m.finalizeBid(d.BidID); err != nil {
		m.log.Warnf("bid %s finalization failed: %v", d.BidID, err)
	}
	m.log.Infof("dispatch %s completed: %.3f kW delivered of %.3f kW requested, %.2f CAD gross",
		id, delivery.ActualKW, d.RequestedKW, gross)
	return nil
}

// CancelDispatch withdraws a scheduled dispatch before activation. Active
// and terminal dispatches cannot be cancelled.
func (m *Manager) CancelDispatch(ctx context.Context, id, reason string) error {
	m.queue.Cancel("dispatch:start:" + id)
	m.queue.Cancel("dispatch:complete:" + id)

	d, err := m.dispatches.Update(id, func(dp *model.Dispatch) error {
		if err := dp.Transition(model.DispatchCancelled); err != nil {
			return err
		}
		dp.CancelReason = reason
		return nil
	})
	if err != nil {
		return err
	}
	dispatchesExecuted.WithLabelValues(model.DispatchCancelled.String()).Inc()
	m.emit(d)
	m.log.Infof("dispatch %s cancelled: %s", id, reason)
	return m.finalizeBid(d.BidID)
}

// FailDispatch marks the dispatch failed. No revenue is settled.
func (m *Manager) FailDispatch(ctx context.Context, id, reason string) error {
	m.queue.Cancel("dispatch:complete:" + id)

	d, err := m.dispatches.Update(id, func(dp *model.Dispatch) error {
		if err := dp.Transition(model.DispatchFailed); err != nil {
			return err
		}
		dp.CancelReason = reason
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := m.devices.Update(d.DeviceID, func(dev *model.Device) error {
		if dev.Availability.Status == model.DeviceDispatched {
			dev.Availability.Status = model.DeviceAvailable
		}
		return nil
	}); err != nil {
		m.log.Warnf("dispatch %s: device %s status update failed: %v", id, d.DeviceID, err)
	}
	dispatchesExecuted.WithLabelValues(model.DispatchFailed.String()).Inc()
	m.emit(d)
	m.log.Warnf("dispatch %s failed: %s", id, reason)
	return m.finalizeBid(d.BidID)
}

// finalizeBid completes the bid once no dispatch remains pending, summing
// delivered gross revenue into the bid's actuals.
func (m *Manager) finalizeBid(bidID string) error {
	ds := m.dispatches.ListByBid(bidID)
	var actual float64
	for _, d := range ds {
		switch d.Status {
		case model.DispatchScheduled, model.DispatchActive:
			return nil
		case model.DispatchCompleted:
			actual += d.Revenue.GrossCAD
		}
	}

	bid, err := m.bids.Update(bidID, func(b *model.Bid) error {
		if b.Status != model.BidDispatched {
			return nil
		}
		if err := b.Transition(model.BidCompleted); err != nil {
			return err
		}
		b.ActualRevenueCAD = round2(actual)
		b.Settlement = model.SettlementCompleted
		return nil
	})
	if err != nil {
		return err
	}
	if bid.Status == model.BidCompleted && m.bus != nil {
		ev := events.BidEvent{BidID: bid.ID, PoolID: bid.PoolID, Product: bid.Product, Status: bid.Status, Time: time.Now()}
		if bid.ClearingPriceCAD != nil {
			ev.ClearingPriceCAD = *bid.ClearingPriceCAD
		}
		m.bus.Publish(ev)
	}
	return nil
}

// refreshPoolStats recomputes the pool's rolling 30-day aggregates from its
// completed dispatches and accrues the latest net revenue into the longer
// horizons. Member reliability follows each member's own window average.
func (m *Manager) refreshPoolStats(poolID string, latestNet float64) error {
	since := time.Now().AddDate(0, 0, -30)
	ds := m.dispatches.CompletedSince(poolID, since)

	var net, relSum float64
	perUserSum := map[string]float64{}
	perUserCount := map[string]int{}
	for _, d := range ds {
		net += d.Revenue.NetCAD
		relSum += d.Performance.ReliabilityPct
		perUserSum[d.UserID] += d.Performance.ReliabilityPct
		perUserCount[d.UserID]++
	}

	_, err := m.pools.Update(poolID, func(p *model.Pool) error {
		p.Performance.Revenue30dCAD = round2(net)
		p.Performance.Dispatches30d = len(ds)
		p.Performance.Revenue90dCAD += latestNet
		p.Performance.RevenueLifetimeCAD += latestNet
		if len(ds) > 0 {
			p.Performance.ReliabilityPct = relSum / float64(len(ds))
		}
		if p.TotalMW > 0 {
			p.Performance.AvgRevenuePerMWCAD = round2(p.Performance.Revenue30dCAD / p.TotalMW)
		}
		for i := range p.Members {
			if n := perUserCount[p.Members[i].UserID]; n > 0 {
				p.Members[i].ReliabilityPct = perUserSum[p.Members[i].UserID] / float64(n)
			}
		}
		return nil
	})
	return err
}

// emit publishes the dispatch state change on the bus and metrics sink.
func (m *Manager) emit(d *model.Dispatch) {
	if err := m.sink.RecordDispatchEvent([]metrics.DispatchEvent{{
		DispatchID:     d.ID,
		PoolID:         d.PoolID,
		DeviceID:       d.DeviceID,
		Action:         d.Action,
		Status:         d.Status,
		RequestedKW:    d.RequestedKW,
		DeliveredKW:    d.Performance.DeliveredKW,
		ReliabilityPct: d.Performance.ReliabilityPct,
		Time:           time.Now(),
	}}); err != nil {
		m.log.Errorf("dispatch metrics error: %v", err)
	}
	if m.bus != nil {
		m.bus.Publish(events.DispatchEvent{
			DispatchID:  d.ID,
			PoolID:      d.PoolID,
			DeviceID:    d.DeviceID,
			Status:      d.Status,
			RequestedKW: d.RequestedKW,
			DeliveredKW: d.Performance.DeliveredKW,
			Time:        time.Now(),
		})
	}
}

// reliabilityPct scores delivery against the request, capped at 100 so
// over-delivery does not inflate the score.
func reliabilityPct(requested, actual float64) float64 {
	if requested == 0 {
		return 100
	}
	pct := math.Abs(actual) / math.Abs(requested) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10) / 10
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
