package app

import (
	"context"

	"github.com/gridmesh/vpp/core/events"
	"github.com/gridmesh/vpp/core/logger"
	"github.com/gridmesh/vpp/internal/eventbus"
)

// collectEvents drains the internal bus into the structured log so bid,
// dispatch and settlement activity leaves an audit trail. The engines
// record their metrics synchronously; the bus carries the full event
// payload for subscribers like this one.
func collectEvents(ctx context.Context, bus eventbus.EventBus, log logger.Logger) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			logEvent(log, ev)
		}
	}
}

func logEvent(log logger.Logger, ev eventbus.Event) {
	switch e := ev.(type) {
	case events.BidEvent:
		log.Debugw("bid event", map[string]any{
			"bid_id":       e.BidID,
			"pool_id":      e.PoolID,
			"product":      e.Product.String(),
			"status":       e.Status.String(),
			"clearing_cad": e.ClearingPriceCAD,
		})
	case events.DispatchEvent:
		log.Debugw("dispatch event", map[string]any{
			"dispatch_id":  e.DispatchID,
			"pool_id":      e.PoolID,
			"device_id":    e.DeviceID,
			"status":       e.Status.String(),
			"requested_kw": e.RequestedKW,
			"delivered_kw": e.DeliveredKW,
		})
	case events.SettlementEvent:
		log.Debugw("settlement event", map[string]any{
			"user_id":   e.UserID,
			"pool_id":   e.PoolID,
			"period":    e.Period.String(),
			"gross_cad": e.GrossCAD,
			"net_cad":   e.NetCAD,
		})
	default:
		log.Debugw("event", map[string]any{"payload": ev})
	}
}
