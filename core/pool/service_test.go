package pool

import (
	"testing"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/infra/logger"
)

func newTestService() (*Service, *store.MemoryPoolStore, *store.MemoryDeviceStore) {
	pools := store.NewMemoryPoolStore()
	devices := store.NewMemoryDeviceStore()
	defaults := map[model.DeviceType]float64{
		model.DeviceBattery:    10,
		model.DeviceThermostat: 2,
	}
	return NewService(pools, devices, defaults, logger.NopLogger{}), pools, devices
}

func seedPool(pools *store.MemoryPoolStore, targetMW float64) {
	pools.Put(&model.Pool{
		ID:       "p1",
		Name:     "test pool",
		Status:   model.PoolActive,
		TargetMW: targetMW,
	})
}

func TestJoin_CapacityConservation(t *testing.T) {
	svc, pools, devices := newTestService()
	seedPool(pools, 1)
	devices.Put(&model.Device{ID: "d1", UserID: "u1", Type: model.DeviceBattery, MaxPowerKW: 50})
	devices.Put(&model.Device{ID: "d2", UserID: "u1", Type: model.DeviceBattery, CapacityKW: 30})
	devices.Put(&model.Device{ID: "d3", UserID: "u2", Type: model.DeviceBattery, MaxPowerKW: 20})

	m, err := svc.Join("u1", "p1", []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if m.ContributionKW != 80 {
		t.Fatalf("contribution %v, want 50 + 30", m.ContributionKW)
	}
	if _, err := svc.Join("u2", "p1", []string{"d3"}); err != nil {
		t.Fatalf("join u2: %v", err)
	}

	p, err := pools.Get("p1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if p.TotalMW != p.ActiveContributionKW()/1000 {
		t.Fatalf("total %v MW diverged from member sum %v kW", p.TotalMW, p.ActiveContributionKW())
	}
	if p.TotalMW != 0.1 {
		t.Fatalf("total %v MW, want 0.1", p.TotalMW)
	}

	d, _ := devices.Get("d1")
	if !d.VPPEnabled || !d.ActivelyEnrolled("p1") {
		t.Fatal("joined devices must carry an active enrollment")
	}
}

func TestJoin_DefaultContribution(t *testing.T) {
	svc, pools, devices := newTestService()
	seedPool(pools, 1)
	devices.Put(&model.Device{ID: "d1", UserID: "u1", Type: model.DeviceThermostat})

	m, err := svc.Join("u1", "p1", []string{"d1"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.ContributionKW != 2 {
		t.Fatalf("contribution %v, want the per-type default 2", m.ContributionKW)
	}
}

func TestJoin_BelowMinimum(t *testing.T) {
	svc, pools, devices := newTestService()
	pools.Put(&model.Pool{
		ID:           "p1",
		Status:       model.PoolActive,
		TargetMW:     1,
		Requirements: model.PoolRequirements{MinContributionKW: 25},
	})
	devices.Put(&model.Device{ID: "d1", UserID: "u1", Type: model.DeviceBattery, MaxPowerKW: 20})

	_, err := svc.Join("u1", "p1", []string{"d1"})
	if faults.KindOf(err) != faults.KindInsufficientCapacity {
		t.Fatalf("expected insufficient-capacity error, got %v", err)
	}
	// Nothing mutated on the failed path.
	d, _ := devices.Get("d1")
	if len(d.Enrollments) != 0 || d.VPPEnabled {
		t.Fatal("failed join must not enroll devices")
	}
	p, _ := pools.Get("p1")
	if len(p.Members) != 0 {
		t.Fatal("failed join must not add a member")
	}
}

func TestJoin_Validation(t *testing.T) {
	svc, pools, devices := newTestService()
	seedPool(pools, 1)
	devices.Put(&model.Device{ID: "d1", UserID: "u1", Type: model.DeviceBattery, MaxPowerKW: 50})
	devices.Put(&model.Device{ID: "d2", UserID: "other", Type: model.DeviceBattery, MaxPowerKW: 50})

	if _, err := svc.Join("u1", "p1", nil); faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("empty device list: expected validation error, got %v", err)
	}
	if _, err := svc.Join("u1", "p1", []string{"d2"}); faults.KindOf(err) != faults.KindForbidden {
		t.Fatalf("foreign device: expected forbidden error, got %v", err)
	}
	if _, err := svc.Join("u1", "missing", []string{"d1"}); faults.KindOf(err) != faults.KindNotFound {
		t.Fatalf("missing pool: expected not-found error, got %v", err)
	}

	if _, err := svc.Join("u1", "p1", []string{"d1"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Join("u1", "p1", []string{"d1"}); faults.KindOf(err) != faults.KindInvalidState {
		t.Fatalf("double join: expected invalid-state error, got %v", err)
	}
}

func TestJoin_DeviceTypeWhitelist(t *testing.T) {
	svc, pools, devices := newTestService()
	pools.Put(&model.Pool{
		ID:           "p1",
		Status:       model.PoolActive,
		TargetMW:     1,
		Requirements: model.PoolRequirements{DeviceTypes: []model.DeviceType{model.DeviceBattery}},
	})
	devices.Put(&model.Device{ID: "d1", UserID: "u1", Type: model.DeviceThermostat})

	_, err := svc.Join("u1", "p1", []string{"d1"})
	if faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("expected validation error for disallowed type, got %v", err)
	}
}

func TestJoin_FullTransition(t *testing.T) {
	svc, pools, devices := newTestService()
	seedPool(pools, 0.05)
	devices.Put(&model.Device{ID: "d1", UserID: "u1", Type: model.DeviceBattery, MaxPowerKW: 60})

	if _, err := svc.Join("u1", "p1", []string{"d1"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	p, _ := pools.Get("p1")
	if p.Status != model.PoolFull {
		t.Fatalf("pool at target must become full, got %s", p.Status)
	}

	if err := svc.Leave("u1", "p1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	p, _ = pools.Get("p1")
	if p.Status != model.PoolActive {
		t.Fatalf("pool under target must revert to active, got %s", p.Status)
	}
	if p.TotalMW != 0 {
		t.Fatalf("empty pool has %v MW", p.TotalMW)
	}
	d, _ := devices.Get("d1")
	if d.VPPEnabled {
		t.Fatal("leaving disables VPP on the device")
	}
}

func TestLeave_NotAMember(t *testing.T) {
	svc, pools, _ := newTestService()
	seedPool(pools, 1)
	if err := svc.Leave("u1", "p1"); faults.KindOf(err) != faults.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUpdateContribution(t *testing.T) {
	svc, pools, devices := newTestService()
	seedPool(pools, 1)
	devices.Put(&model.Device{ID: "d1", UserID: "u1", Type: model.DeviceBattery, MaxPowerKW: 40})
	devices.Put(&model.Device{ID: "d2", UserID: "u1", Type: model.DeviceBattery, MaxPowerKW: 40})
	if _, err := svc.Join("u1", "p1", []string{"d1", "d2"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := svc.UpdateContribution("u1", "p1", 60); err != nil {
		t.Fatalf("update: %v", err)
	}
	p, _ := pools.Get("p1")
	m, _ := p.Member("u1")
	if m.ContributionKW != 60 || p.TotalMW != 0.06 {
		t.Fatalf("contribution %v / total %v, want 60 kW / 0.06 MW", m.ContributionKW, p.TotalMW)
	}
	d, _ := devices.Get("d1")
	e, _ := d.Enrollment("p1")
	if e.ContributionKW != 30 {
		t.Fatalf("per-device contribution %v, want an even 30", e.ContributionKW)
	}

	if err := svc.UpdateContribution("u1", "p1", 0); faults.KindOf(err) != faults.KindValidation {
		t.Fatalf("zero contribution: expected validation error, got %v", err)
	}
}
