package settlement

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/scheduler"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/infra/logger"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryRevenueStore, *store.MemoryDeviceStore, *scheduler.Queue) {
	t.Helper()
	revenue := store.NewMemoryRevenueStore()
	devices := store.NewMemoryDeviceStore()
	queue := scheduler.NewQueue(logger.NopLogger{})
	t.Cleanup(queue.Close)
	e, err := NewEngine(revenue, devices, queue, 50*time.Millisecond, CategorySplit{}, logger.NopLogger{}, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, revenue, devices, queue
}

func completedDispatch(id string, start time.Time, actualKW float64) *model.Dispatch {
	return &model.Dispatch{
		ID:          id,
		PoolID:      "p1",
		BidID:       "b1",
		UserID:      "u1",
		DeviceID:    "d1",
		Start:       start,
		End:         start.Add(time.Hour),
		Status:      model.DispatchCompleted,
		ActualKW:    actualKW,
		RequestedKW: actualKW,
		Performance: model.DispatchPerformance{DeliveredKW: actualKW, ReliabilityPct: 100},
	}
}

var testFees = model.FeePolicy{PlatformPct: 15, OperatorPct: 5}

func TestRecordDispatchRevenue_FeeConservation(t *testing.T) {
	e, _, devices, _ := newTestEngine(t)
	devices.Put(&model.Device{ID: "d1", UserID: "u1"})
	start := time.Date(2026, 5, 10, 12, 0, 0, 0, time.Local)

	// Awkward amounts where per-fee rounding bites.
	for i, gross := range []float64{0.1, 33.33, 99.99, 0.01} {
		d := completedDispatch("d1", start, 10)
		d.ID = "disp" + string(rune('a'+i))
		if err := e.RecordDispatchRevenue(context.Background(), d, gross, testFees); err != nil {
			t.Fatalf("record: %v", err)
		}
		sum := d.Revenue.PlatformFeeCAD + d.Revenue.OperatorFeeCAD + d.Revenue.NetCAD
		if math.Abs(sum-gross) > 1e-9 {
			t.Fatalf("gross %v split to %v, fees must conserve", gross, sum)
		}
		cents := d.Revenue.PlatformFeeCAD * 100
		if math.Abs(cents-math.Round(cents)) > 1e-9 {
			t.Fatalf("platform fee %v not rounded to cents", d.Revenue.PlatformFeeCAD)
		}
	}
}

func TestRecordDispatchRevenue_FiveBuckets(t *testing.T) {
	e, revenue, devices, _ := newTestEngine(t)
	devices.Put(&model.Device{ID: "d1", UserID: "u1"})
	start := time.Date(2026, 5, 10, 12, 0, 0, 0, time.Local)

	d := completedDispatch("disp1", start, 10)
	if err := e.RecordDispatchRevenue(context.Background(), d, 100, testFees); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := revenue.Query(context.Background(), store.RevenueFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != len(model.PeriodTypes) {
		t.Fatalf("one dispatch settles into %d buckets, got %d", len(model.PeriodTypes), len(records))
	}
	seen := map[model.PeriodType]bool{}
	for _, r := range records {
		seen[r.Period] = true
		if r.GrossCAD != 100 || r.NetCAD != 80 {
			t.Fatalf("bucket %s: gross %v net %v, want 100 / 80", r.Period, r.GrossCAD, r.NetCAD)
		}
		wantStart, wantEnd := PeriodBounds(start, r.Period)
		if !r.PeriodStart.Equal(wantStart) || !r.PeriodEnd.Equal(wantEnd) {
			t.Fatalf("bucket %s: bounds %v - %v, want %v - %v", r.Period, r.PeriodStart, r.PeriodEnd, wantStart, wantEnd)
		}
		if r.Payment != model.PaymentAccruing {
			t.Fatalf("new buckets accrue, got %s", r.Payment)
		}
	}
	for _, p := range model.PeriodTypes {
		if !seen[p] {
			t.Fatalf("missing %s bucket", p)
		}
	}

	dev, _ := devices.Get("d1")
	if dev.Performance.Dispatches30d != 1 || dev.Performance.RevenueLifetimeCAD != 80 {
		t.Fatalf("device performance not updated: %+v", dev.Performance)
	}
}

func TestRecordDispatchRevenue_MonthlyRollup(t *testing.T) {
	e, revenue, devices, _ := newTestEngine(t)
	devices.Put(&model.Device{ID: "d1", UserID: "u1"})
	day1 := time.Date(2026, 5, 10, 12, 0, 0, 0, time.Local)
	day2 := time.Date(2026, 5, 11, 12, 0, 0, 0, time.Local)

	if err := e.RecordDispatchRevenue(context.Background(), completedDispatch("disp1", day1, 10), 100, testFees); err != nil {
		t.Fatalf("record 1: %v", err)
	}
	if err := e.RecordDispatchRevenue(context.Background(), completedDispatch("disp2", day2, 10), 50, testFees); err != nil {
		t.Fatalf("record 2: %v", err)
	}

	monthStart, _ := PeriodBounds(day1, model.PeriodMonthly)
	rec, err := revenue.Get(context.Background(), model.RevenueKey{
		UserID: "u1", PoolID: "p1", Period: model.PeriodMonthly, PeriodStart: monthStart,
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.GrossCAD != 150 || rec.PlatformFeeCAD != 22.5 || rec.OperatorFeeCAD != 7.5 || rec.NetCAD != 120 {
		t.Fatalf("rollup %+v, want 150 / 22.5 / 7.5 / 120", rec)
	}
	if rec.DispatchCount != 2 {
		t.Fatalf("dispatch count %d, want 2", rec.DispatchCount)
	}
	if rec.EnergyKWh != 20 {
		t.Fatalf("energy %v kWh, want 20", rec.EnergyKWh)
	}
}

func TestProcessMonthlySettlement(t *testing.T) {
	e, revenue, devices, _ := newTestEngine(t)
	devices.Put(&model.Device{ID: "d1", UserID: "u1"})
	start := time.Date(2026, 5, 10, 12, 0, 0, 0, time.Local)
	if err := e.RecordDispatchRevenue(context.Background(), completedDispatch("disp1", start, 10), 100, testFees); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec, err := e.ProcessMonthlySettlement(context.Background(), "u1", "p1", 2026, time.May)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Payment != model.PaymentPending {
		t.Fatalf("settlement moves the record to pending, got %s", rec.Payment)
	}
	if rec.PaidAt != nil {
		t.Fatal("PaidAt must stay unset until the payout lands")
	}

	// Settling the same month twice is an illegal payment transition.
	if _, err := e.ProcessMonthlySettlement(context.Background(), "u1", "p1", 2026, time.May); faults.KindOf(err) != faults.KindInvalidState {
		t.Fatalf("double settle: expected invalid-state error, got %v", err)
	}
	if _, err := e.ProcessMonthlySettlement(context.Background(), "u1", "p1", 2026, time.June); faults.KindOf(err) != faults.KindNotFound {
		t.Fatalf("empty month: expected not-found error, got %v", err)
	}

	// The deferred payout marks the record paid.
	deadline := time.Now().Add(2 * time.Second)
	key := rec.Key()
	for {
		got, err := revenue.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Payment == model.PaymentPaid {
			if got.PaidAt == nil {
				t.Fatal("paid records must carry PaidAt")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("payout never landed, payment still %s", got.Payment)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProjectedRevenue(t *testing.T) {
	e, _, devices, _ := newTestEngine(t)
	devices.Put(&model.Device{ID: "d1", UserID: "u1"})

	proj, err := e.ProjectedRevenue(context.Background(), "u1", "p1", 30)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if proj.Confidence != "low" || proj.ProjectedNetCAD != 0 {
		t.Fatalf("no history projects nothing: %+v", proj)
	}

	day1 := time.Date(2026, 5, 10, 12, 0, 0, 0, time.Local)
	day2 := time.Date(2026, 5, 11, 12, 0, 0, 0, time.Local)
	if err := e.RecordDispatchRevenue(context.Background(), completedDispatch("disp1", day1, 10), 10, testFees); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := e.RecordDispatchRevenue(context.Background(), completedDispatch("disp2", day2, 10), 10, testFees); err != nil {
		t.Fatalf("record: %v", err)
	}

	proj, err = e.ProjectedRevenue(context.Background(), "u1", "p1", 30)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if proj.Confidence != "moderate" {
		t.Fatalf("history raises confidence, got %s", proj.Confidence)
	}
	// Each daily record nets 8 CAD, so 30 days project 240.
	if proj.ProjectedNetCAD != 240 {
		t.Fatalf("projected %v, want 240", proj.ProjectedNetCAD)
	}
	if proj.ProjectedDispatches != 30 {
		t.Fatalf("projected dispatches %d, want 30", proj.ProjectedDispatches)
	}
}

func TestSummaryAndByPool(t *testing.T) {
	e, _, devices, _ := newTestEngine(t)
	devices.Put(&model.Device{ID: "d1", UserID: "u1"})
	start := time.Date(2026, 5, 10, 12, 0, 0, 0, time.Local)

	d := completedDispatch("disp1", start, 10)
	if err := e.RecordDispatchRevenue(context.Background(), d, 100, testFees); err != nil {
		t.Fatalf("record: %v", err)
	}
	other := completedDispatch("disp2", start, 10)
	other.PoolID = "p2"
	if err := e.RecordDispatchRevenue(context.Background(), other, 50, testFees); err != nil {
		t.Fatalf("record: %v", err)
	}

	s, err := e.Summary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.AllTimeGrossCAD != 150 || s.AllTimeNetCAD != 120 || s.TotalDispatches != 2 {
		t.Fatalf("summary %+v, want 150 gross / 120 net / 2 dispatches", s)
	}

	byPool, err := e.ByPool(context.Background(), "u1")
	if err != nil {
		t.Fatalf("by pool: %v", err)
	}
	if len(byPool) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(byPool))
	}
	totals := map[string]float64{}
	for _, pr := range byPool {
		totals[pr.PoolID] = pr.GrossCAD
	}
	if totals["p1"] != 100 || totals["p2"] != 50 {
		t.Fatalf("per-pool gross %v", totals)
	}
}

func TestMonthlyTrend_ZeroFills(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	points, err := e.MonthlyTrend(context.Background(), "u1", 3)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if !points[i-1].Month.Before(points[i].Month) {
			t.Fatal("trend must run oldest first")
		}
	}
	for _, p := range points {
		if p.NetCAD != 0 || p.Dispatches != 0 {
			t.Fatalf("empty ledger must zero-fill, got %+v", p)
		}
	}
}

func TestPeriodBounds(t *testing.T) {
	// Wednesday mid-month inside Q2.
	at := time.Date(2026, 5, 13, 15, 30, 0, 0, time.UTC)
	cases := []struct {
		period     model.PeriodType
		start, end time.Time
	}{
		{model.PeriodDaily, time.Date(2026, 5, 13, 0, 0, 0, 0, time.UTC), time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC)},
		{model.PeriodWeekly, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), time.Date(2026, 5, 17, 0, 0, 0, 0, time.UTC)},
		{model.PeriodMonthly, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{model.PeriodQuarterly, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
		{model.PeriodAnnual, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		start, end := PeriodBounds(at, tc.period)
		if !start.Equal(tc.start) || !end.Equal(tc.end) {
			t.Errorf("%s: got %v - %v, want %v - %v", tc.period, start, end, tc.start, tc.end)
		}
	}

	// A Sunday is its own week start.
	sunday := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	start, _ := PeriodBounds(sunday, model.PeriodWeekly)
	if !start.Equal(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("sunday week start: got %v", start)
	}
}
