package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/gridmesh/vpp/core/metrics"
	"github.com/gridmesh/vpp/infra/logger"
)

// InfluxSink writes engine events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordDispatchEvent writes the dispatch state changes as line protocol events.
func (s *InfluxSink) RecordDispatchEvent(events []coremetrics.DispatchEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ev := range events {
		p := write.NewPointWithMeasurement("dispatch_event").
			AddTag("dispatch_id", ev.DispatchID).
			AddTag("pool_id", ev.PoolID).
			AddTag("device_id", ev.DeviceID).
			AddTag("action", ev.Action.String()).
			AddTag("status", ev.Status.String()).
			AddTag("component", "lifecycle_manager").
			AddField("requested_kw", round3(ev.RequestedKW)).
			AddField("delivered_kw", round3(ev.DeliveredKW)).
			AddField("reliability_pct", round3(ev.ReliabilityPct)).
			SetTime(ev.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlement writes one revenue settlement.
func (s *InfluxSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("settlement_event").
		AddTag("user_id", ev.UserID).
		AddTag("pool_id", ev.PoolID).
		AddTag("period", ev.Period.String()).
		AddTag("component", "settlement_engine").
		AddField("gross_cad", round3(ev.GrossCAD)).
		AddField("net_cad", round3(ev.NetCAD)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordClearingPrice writes one simulated clearing decision.
func (s *InfluxSink) RecordClearingPrice(ev coremetrics.ClearingEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("clearing_price").
		AddTag("product", ev.Product.String()).
		AddTag("component", "market_simulator").
		AddField("price_cad", round3(ev.PriceCAD)).
		AddField("accepted", ev.Accepted).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close shuts down the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
