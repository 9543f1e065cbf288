// Package pool manages pool membership: joining, leaving and contribution
// updates, while holding the capacity-conservation invariant (a pool's
// total MW always equals the sum of its active members' contribution).
package pool

import (
	"time"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/logger"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
)

// Service validates and applies membership changes.
type Service struct {
	pools    store.PoolStore
	devices  store.DeviceStore
	defaults map[model.DeviceType]float64
	log      logger.Logger
}

// NewService creates a membership service. defaults maps device types to
// their default contribution in kW when the device carries no capacity
// override.
func NewService(pools store.PoolStore, devices store.DeviceStore, defaults map[model.DeviceType]float64, log logger.Logger) *Service {
	return &Service{pools: pools, devices: devices, defaults: defaults, log: log}
}

// contributionKW resolves a device's committed capacity: the device's
// capacity setting, then its max power, then the per-type default.
func (s *Service) contributionKW(d *model.Device) float64 {
	if d.CapacityKW > 0 {
		return d.CapacityKW
	}
	if d.MaxPowerKW > 0 {
		return d.MaxPowerKW
	}
	return s.defaults[d.Type]
}

// Join enrolls the user's devices into the pool and adds a membership.
// It validates ownership, the pool's device-type whitelist and minimum
// contribution before mutating anything.
func (s *Service) Join(userID, poolID string, deviceIDs []string) (*model.PoolMember, error) {
	if len(deviceIDs) == 0 {
		return nil, faults.Validationf("join: at least one device is required")
	}
	p, err := s.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PoolInactive || p.Status == model.PoolPending {
		return nil, faults.InvalidStatef("pool %s is not open for enrollment", poolID)
	}
	if _, exists := p.Member(userID); exists {
		return nil, faults.InvalidStatef("user %s is already a member of pool %s", userID, poolID)
	}

	var totalKW float64
	devs := make([]*model.Device, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		d, err := s.devices.Get(id)
		if err != nil {
			return nil, err
		}
		if d.UserID != userID {
			return nil, faults.Forbiddenf("device %s does not belong to user %s", id, userID)
		}
		if !p.Requirements.AllowsDeviceType(d.Type) {
			return nil, faults.Validationf("pool %s does not accept %s devices", poolID, d.Type)
		}
		if d.ActivelyEnrolled(poolID) {
			return nil, faults.InvalidStatef("device %s is already enrolled in pool %s", id, poolID)
		}
		totalKW += s.contributionKW(d)
		devs = append(devs, d)
	}
	if totalKW < p.Requirements.MinContributionKW {
		return nil, faults.InsufficientCapacityf("contribution %.1f kW below pool minimum %.1f kW",
			totalKW, p.Requirements.MinContributionKW)
	}

	now := time.Now()
	for _, d := range devs {
		kw := s.contributionKW(d)
		if _, err := s.devices.Update(d.ID, func(dev *model.Device) error {
			if e, ok := dev.Enrollment(poolID); ok {
				e.Status = model.EnrollmentActive
				e.ContributionKW = kw
				e.EnrolledAt = now
			} else {
				dev.Enrollments = append(dev.Enrollments, model.PoolEnrollment{
					PoolID:         poolID,
					EnrolledAt:     now,
					ContributionKW: kw,
					Status:         model.EnrollmentActive,
				})
			}
			dev.RefreshVPPEnabled()
			return nil
		}); err != nil {
			return nil, err
		}
	}

	member := model.PoolMember{
		UserID:         userID,
		DeviceIDs:      append([]string(nil), deviceIDs...),
		ContributionKW: totalKW,
		JoinedAt:       now,
		Status:         model.MemberActive,
		ReliabilityPct: 100,
	}
	updated, err := s.pools.Update(poolID, func(pool *model.Pool) error {
		pool.Members = append(pool.Members, member)
		pool.Recompute()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("user %s joined pool %s with %.1f kW (%d devices), pool now %.3f MW (%s)",
		userID, poolID, totalKW, len(deviceIDs), updated.TotalMW, updated.Status)
	m, _ := updated.Member(userID)
	return m, nil
}

// Leave unenrolls all of the member's devices and removes the membership.
func (s *Service) Leave(userID, poolID string) error {
	p, err := s.pools.Get(poolID)
	if err != nil {
		return err
	}
	member, ok := p.Member(userID)
	if !ok {
		return faults.NotFoundf("user %s is not a member of pool %s", userID, poolID)
	}

	for _, id := range member.DeviceIDs {
		if _, err := s.devices.Update(id, func(dev *model.Device) error {
			if e, ok := dev.Enrollment(poolID); ok {
				e.Status = model.EnrollmentRemoved
			}
			dev.RefreshVPPEnabled()
			return nil
		}); err != nil {
			return err
		}
	}

	updated, err := s.pools.Update(poolID, func(pool *model.Pool) error {
		for i := range pool.Members {
			if pool.Members[i].UserID == userID {
				pool.Members = append(pool.Members[:i], pool.Members[i+1:]...)
				break
			}
		}
		pool.Recompute()
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Infof("user %s left pool %s, pool now %.3f MW (%s)", userID, poolID, updated.TotalMW, updated.Status)
	return nil
}

// UpdateContribution replaces the member's committed capacity, spreading it
// evenly over the member's enrolled devices.
func (s *Service) UpdateContribution(userID, poolID string, kw float64) error {
	if kw <= 0 {
		return faults.Validationf("contribution must be positive")
	}
	p, err := s.pools.Get(poolID)
	if err != nil {
		return err
	}
	member, ok := p.Member(userID)
	if !ok {
		return faults.NotFoundf("user %s is not a member of pool %s", userID, poolID)
	}
	if kw < p.Requirements.MinContributionKW {
		return faults.InsufficientCapacityf("contribution %.1f kW below pool minimum %.1f kW",
			kw, p.Requirements.MinContributionKW)
	}

	perDevice := kw / float64(len(member.DeviceIDs))
	for _, id := range member.DeviceIDs {
		if _, err := s.devices.Update(id, func(dev *model.Device) error {
			if e, ok := dev.Enrollment(poolID); ok {
				e.ContributionKW = perDevice
			}
			return nil
		}); err != nil {
			return err
		}
	}

	_, err = s.pools.Update(poolID, func(pool *model.Pool) error {
		m, ok := pool.Member(userID)
		if !ok {
			return faults.NotFoundf("user %s is not a member of pool %s", userID, poolID)
		}
		m.ContributionKW = kw
		pool.Recompute()
		return nil
	})
	return err
}
