package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gridmesh/vpp/core/events"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/internal/eventbus"
)

type capturingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	msg    string
	fields map[string]any
}

func (l *capturingLogger) Debugf(string, ...any) {}
func (l *capturingLogger) Debugw(msg string, fields map[string]any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{msg: msg, fields: fields})
	l.mu.Unlock()
}
func (l *capturingLogger) Infof(string, ...any)  {}
func (l *capturingLogger) Warnf(string, ...any)  {}
func (l *capturingLogger) Errorf(string, ...any) {}

func (l *capturingLogger) snapshot() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.entries...)
}

func TestCollectEvents_LogsBusTraffic(t *testing.T) {
	bus := eventbus.New()
	log := &capturingLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		collectEvents(ctx, bus, log)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond) // let the collector subscribe

	bus.Publish(events.BidEvent{
		BidID: "b1", PoolID: "p1",
		Product: model.ProductEnergy, Status: model.BidAccepted,
		ClearingPriceCAD: 48.5, Time: time.Now(),
	})
	bus.Publish(events.DispatchEvent{
		DispatchID: "dp1", PoolID: "p1", DeviceID: "d1",
		Status: model.DispatchCompleted, RequestedKW: 10, DeliveredKW: 9.5,
		Time: time.Now(),
	})
	bus.Publish(events.SettlementEvent{
		UserID: "u1", PoolID: "p1", Period: model.PeriodMonthly,
		GrossCAD: 12.34, NetCAD: 10.49, Time: time.Now(),
	})

	deadline := time.Now().Add(time.Second)
	for len(log.snapshot()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 log entries, got %d", len(log.snapshot()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := log.snapshot()
	if entries[0].msg != "bid event" || entries[0].fields["bid_id"] != "b1" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].msg != "dispatch event" || entries[1].fields["delivered_kw"] != 9.5 {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	if entries[2].msg != "settlement event" || entries[2].fields["net_cad"] != 10.49 {
		t.Fatalf("unexpected third entry: %+v", entries[2])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop on cancel")
	}
}

func TestCollectEvents_StopsWhenBusCloses(t *testing.T) {
	bus := eventbus.New()
	log := &capturingLogger{}

	done := make(chan struct{})
	go func() {
		collectEvents(context.Background(), bus, log)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	bus.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop when the bus closed")
	}
}
