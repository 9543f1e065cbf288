package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridmesh/vpp/app"
	"github.com/gridmesh/vpp/config"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/infra/logger"
)

var bidCmd = &cobra.Command{
	Use:   "bid",
	Short: "Run a test bid end-to-end against a seeded pool",
	RunE:  runTestBid,
}

func init() {
	rootCmd.AddCommand(bidCmd)
}

// runTestBid seeds one pool with a single battery, generates an energy bid
// for the next hour, fans it out and waits for the simulated completions.
func runTestBid(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	logg := logger.New("bid-command")
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()

	ms := svc.Markets.List()
	if len(ms) == 0 {
		return fmt.Errorf("no markets configured")
	}
	marketID := ms[0].ID

	now := time.Now()
	device := &model.Device{
		ID:         "dev-1",
		UserID:     "user-1",
		Name:       "test battery",
		Type:       model.DeviceBattery,
		MaxPowerKW: 100,
		BatteryKWh: 200,
		SoC:        0.8,
		CreatedAt:  now,
	}
	svc.Devices.Put(device)
	pool := &model.Pool{
		ID:       "pool-1",
		Name:     "test pool",
		MarketID: marketID,
		Status:   model.PoolActive,
		TargetMW: 1,
		Strategy: model.PoolStrategy{Products: []model.Product{model.ProductEnergy}, Risk: model.RiskModerate},
		Fees:     cfg.Engine.Fees(),
	}
	svc.Pools.Put(pool)
	if _, err := svc.Membership.Join("user-1", "pool-1", []string{"dev-1"}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	start := now.Truncate(time.Hour).Add(time.Hour)
	bid, err := svc.Strategy.GenerateBid("pool-1", model.ProductEnergy, start, start.Add(time.Hour), nil)
	if err != nil {
		return fmt.Errorf("generate bid: %w", err)
	}
	clearing := 0.0
	if bid.ClearingPriceCAD != nil {
		clearing = *bid.ClearingPriceCAD
	}
	logg.Infof("bid %s: %s, clearing %.2f CAD/MWh", bid.ID, bid.Status, clearing)
	if bid.Status != model.BidAccepted {
		return nil
	}

	if _, err := svc.Allocator.CreateDispatchesForBid(bid.ID); err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	if err := svc.Lifecycle.ScheduleBid(context.Background(), bid.ID); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	deadline := time.After(time.Duration(2*cfg.Engine.CompletionDelayCapSeconds+5) * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return fmt.Errorf("dispatches did not complete in time")
		case <-ticker.C:
			done, err := svc.Bids.Get(bid.ID)
			if err != nil {
				return err
			}
			if done.Status == model.BidCompleted {
				logg.Infof("bid %s completed: forecast %.2f CAD, actual %.2f CAD",
					done.ID, done.ForecastRevenueCAD, done.ActualRevenueCAD)
				return nil
			}
		}
	}
}
