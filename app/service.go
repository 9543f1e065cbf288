// Package app wires the engine's collaborators into a runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gridmesh/vpp/api"
	"github.com/gridmesh/vpp/config"
	"github.com/gridmesh/vpp/core/allocation"
	"github.com/gridmesh/vpp/core/capacity"
	corecontrol "github.com/gridmesh/vpp/core/control"
	"github.com/gridmesh/vpp/core/lifecycle"
	"github.com/gridmesh/vpp/core/market"
	coremetrics "github.com/gridmesh/vpp/core/metrics"
	"github.com/gridmesh/vpp/core/pool"
	"github.com/gridmesh/vpp/core/scheduler"
	"github.com/gridmesh/vpp/core/settlement"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/core/strategy"
	infracontrol "github.com/gridmesh/vpp/infra/control"
	"github.com/gridmesh/vpp/infra/ledger"
	"github.com/gridmesh/vpp/infra/logger"
	"github.com/gridmesh/vpp/infra/metrics"
	"github.com/gridmesh/vpp/internal/eventbus"
)

// Service orchestrates the engine and its HTTP surface.
type Service struct {
	Pools      store.PoolStore
	Devices    store.DeviceStore
	Bids       store.BidStore
	Dispatches store.DispatchStore
	Markets    store.MarketStore
	Revenue    store.RevenueStore
	Membership *pool.Service
	Strategy   *strategy.Engine
	Allocator  *allocation.Allocator
	Lifecycle  *lifecycle.Manager
	Settlement *settlement.Engine
	Capacity   *capacity.Aggregator
	Simulator  *market.Simulator
	Queue      *scheduler.Queue
	Control    corecontrol.Client

	bus         *eventbus.Bus
	server      *api.Server
	log         logger.Logger
	apiAddr     string
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken,
			cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.MetricsSink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	queue := scheduler.NewQueue(logger.New("scheduler"))

	revenue, err := ledger.Backend(cfg.Ledger.Backend, cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("revenue ledger: %w", err)
	}
	marketModels, err := cfg.MarketModels()
	if err != nil {
		return nil, err
	}

	pools := store.NewMemoryPoolStore()
	devices := store.NewMemoryDeviceStore()
	bids := store.NewMemoryBidStore()
	dispatches := store.NewMemoryDispatchStore()
	markets := store.NewMemoryMarketStore(marketModels)

	sim := market.NewSimulator(cfg.Market, logger.New("market"))
	agg := capacity.NewAggregator(pools, devices)
	membership := pool.NewService(pools, devices, cfg.Engine.ContributionDefaults(), logger.New("pool"))

	strat, err := strategy.NewEngine(pools, markets, bids, agg, sim, logger.New("strategy"), sink, bus)
	if err != nil {
		return nil, err
	}
	alloc, err := allocation.NewAllocator(pools, devices, bids, dispatches, logger.New("allocation"))
	if err != nil {
		return nil, err
	}

	split := settlement.CategorySplit{
		EnergyPct:    cfg.Engine.EnergySplitPct,
		CapacityPct:  cfg.Engine.CapacitySplitPct,
		AncillaryPct: cfg.Engine.AncillarySplitPct,
	}
	settle, err := settlement.NewEngine(revenue, devices, queue,
		time.Duration(cfg.Engine.PayoutDelaySeconds)*time.Second, split,
		logger.New("settlement"), sink, bus)
	if err != nil {
		return nil, err
	}

	var ctrl corecontrol.Client
	switch cfg.Control.Mode {
	case "mqtt":
		ctrl, err = infracontrol.NewPahoClient(cfg.Control.MQTT)
		if err != nil {
			return nil, fmt.Errorf("control client: %w", err)
		}
	default:
		ctrl = infracontrol.NewMockClient()
	}

	lifec, err := lifecycle.NewManager(pools, devices, bids, dispatches, ctrl, sim, settle, queue,
		time.Duration(cfg.Engine.AckTimeoutSeconds)*time.Second,
		time.Duration(cfg.Engine.CompletionDelayCapSeconds)*time.Second,
		logger.New("lifecycle"), sink, bus)
	if err != nil {
		return nil, err
	}

	server, err := api.NewServer(api.Deps{
		Pools:      pools,
		Markets:    markets,
		Devices:    devices,
		Bids:       bids,
		Dispatches: dispatches,
		Membership: membership,
		Strategy:   strat,
		Allocator:  alloc,
		Lifecycle:  lifec,
		Settlement: settle,
		Capacity:   agg,
		Simulator:  sim,
		Token:      cfg.API.Token,
		Log:        logger.New("api"),
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		Pools:       pools,
		Devices:     devices,
		Bids:        bids,
		Dispatches:  dispatches,
		Markets:     markets,
		Revenue:     revenue,
		Membership:  membership,
		Strategy:    strat,
		Allocator:   alloc,
		Lifecycle:   lifec,
		Settlement:  settle,
		Capacity:    agg,
		Simulator:   sim,
		Queue:       queue,
		Control:     ctrl,
		bus:         bus,
		server:      server,
		log:         logg,
		apiAddr:     cfg.API.Addr,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}, nil
}

// Run starts the HTTP surfaces and the event collector, blocking until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go collectEvents(ctx, s.bus, s.log)
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, ":"+s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.apiAddr, Handler: s.server.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	s.log.Infof("api listening on %s", s.apiAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Queue.Close()
	s.bus.Close()
	if pc, ok := s.Control.(*infracontrol.PahoClient); ok {
		pc.Disconnect(250)
	}
	return s.Revenue.Close()
}
