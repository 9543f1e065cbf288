package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridmesh/vpp/app"
	"github.com/gridmesh/vpp/config"
	"github.com/gridmesh/vpp/infra/logger"
)

var (
	settleUser  string
	settlePool  string
	settleYear  int
	settleMonth int
)

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run a monthly settlement for a user and pool",
	RunE:  runSettle,
}

func init() {
	now := time.Now()
	settleCmd.Flags().StringVar(&settleUser, "user", "", "user to settle")
	settleCmd.Flags().StringVar(&settlePool, "pool", "", "pool to settle")
	settleCmd.Flags().IntVar(&settleYear, "year", now.Year(), "settlement year")
	settleCmd.Flags().IntVar(&settleMonth, "month", int(now.Month()), "settlement month (1-12)")
	settleCmd.MarkFlagRequired("user")
	settleCmd.MarkFlagRequired("pool")
	rootCmd.AddCommand(settleCmd)
}

func runSettle(cmd *cobra.Command, args []string) error {
	if settleMonth < 1 || settleMonth > 12 {
		return fmt.Errorf("month must be between 1 and 12")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	logg := logger.New("settle-command")
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()

	rec, err := svc.Settlement.ProcessMonthlySettlement(context.Background(),
		settleUser, settlePool, settleYear, time.Month(settleMonth))
	if err != nil {
		return fmt.Errorf("settle %s/%s %d-%02d: %w", settleUser, settlePool, settleYear, settleMonth, err)
	}
	logg.Infof("settlement %s: %.2f CAD net over %d dispatches, payment %s",
		rec.ID, rec.NetCAD, rec.DispatchCount, rec.Payment)

	// Give the deferred payout a chance to land before the queue is closed.
	time.Sleep(time.Duration(cfg.Engine.PayoutDelaySeconds+1) * time.Second)
	return nil
}
