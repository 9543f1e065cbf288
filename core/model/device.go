package model

import "time"

// DeviceType classifies the flexible asset behind an enrollment.
type DeviceType int

const (
	DeviceBattery DeviceType = iota
	DeviceEVCharger
	DeviceThermostat
	DeviceWaterHeater
)

func (t DeviceType) String() string {
	switch t {
	case DeviceBattery:
		return "battery"
	case DeviceEVCharger:
		return "ev-charger"
	case DeviceThermostat:
		return "thermostat"
	case DeviceWaterHeater:
		return "water-heater"
	default:
		return "unknown"
	}
}

// ParseDeviceType converts a wire string into a DeviceType.
func ParseDeviceType(s string) (DeviceType, bool) {
	switch s {
	case "battery":
		return DeviceBattery, true
	case "ev-charger":
		return DeviceEVCharger, true
	case "thermostat":
		return DeviceThermostat, true
	case "water-heater":
		return DeviceWaterHeater, true
	default:
		return 0, false
	}
}

// EnrollmentStatus tracks a device's standing inside one pool.
type EnrollmentStatus int

const (
	EnrollmentActive EnrollmentStatus = iota
	EnrollmentPaused
	EnrollmentRemoved
)

func (s EnrollmentStatus) String() string {
	switch s {
	case EnrollmentActive:
		return "active"
	case EnrollmentPaused:
		return "paused"
	case EnrollmentRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// AvailabilityStatus is the device's live dispatchability state.
type AvailabilityStatus int

const (
	DeviceAvailable AvailabilityStatus = iota
	DeviceDispatched
	DeviceOffline
	DeviceUnavailable
)

func (s AvailabilityStatus) String() string {
	switch s {
	case DeviceAvailable:
		return "available"
	case DeviceDispatched:
		return "dispatched"
	case DeviceOffline:
		return "offline"
	case DeviceUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// PoolEnrollment links a device to a pool.
type PoolEnrollment struct {
	PoolID         string
	EnrolledAt     time.Time
	ContributionKW float64
	Status         EnrollmentStatus
}

// DateRange is a blackout period during which a device must not be
// dispatched.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [start,end) intersects the range.
func (r DateRange) Overlaps(start, end time.Time) bool {
	return start.Before(r.End) && r.Start.Before(end)
}

// HourRange is an inclusive-exclusive hour-of-day window.
type HourRange struct {
	StartHour int
	EndHour   int
}

// WeeklySchedule lists the hours a device opts into dispatch per weekday.
type WeeklySchedule map[time.Weekday][]HourRange

// Covers reports whether every hour of [start,end) falls inside an
// opted-in range. An empty schedule opts into everything.
func (s WeeklySchedule) Covers(start, end time.Time) bool {
	if len(s) == 0 {
		return true
	}
	for t := start.Truncate(time.Hour); t.Before(end); t = t.Add(time.Hour) {
		covered := false
		for _, r := range s[t.Weekday()] {
			if t.Hour() >= r.StartHour && t.Hour() < r.EndHour {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// Availability captures when and whether a device can be dispatched.
type Availability struct {
	Schedule  WeeklySchedule
	Blackouts []DateRange
	Status    AvailabilityStatus
}

// Constraints bound how hard a device may be driven.
type Constraints struct {
	MinSoC              float64
	MaxSoC              float64
	MaxDepthOfDischarge float64
	MaxCyclesPerDay     int
	MaxCyclesPerMonth   int
}

// DevicePerformance carries rolling revenue aggregates per device.
type DevicePerformance struct {
	Revenue30dCAD      float64
	Revenue90dCAD      float64
	RevenueLifetimeCAD float64
	Dispatches30d      int
	ReliabilityPct     float64
}

// Device is the enrollment-side view of a flexible asset. Telemetry
// ingestion maintains it; the engine only reads and enrolls.
type Device struct {
	ID           string
	UserID       string
	Name         string
	Type         DeviceType
	CapacityKW   float64 // settings override, 0 means use the per-type default
	MaxPowerKW   float64
	BatteryKWh   float64 // storage capacity, 0 for non-storage devices
	SoC          float64
	VPPEnabled   bool
	Enrollments  []PoolEnrollment
	Availability Availability
	Constraints  Constraints
	Performance  DevicePerformance
	CyclesToday  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Enrollment returns the enrollment entry for the given pool, if any.
func (d *Device) Enrollment(poolID string) (*PoolEnrollment, bool) {
	for i := range d.Enrollments {
		if d.Enrollments[i].PoolID == poolID {
			return &d.Enrollments[i], true
		}
	}
	return nil, false
}

// ActivelyEnrolled reports whether the device has an active enrollment in
// the given pool. A device carries at most one active enrollment per pool.
func (d *Device) ActivelyEnrolled(poolID string) bool {
	e, ok := d.Enrollment(poolID)
	return ok && e.Status == EnrollmentActive
}

// RefreshVPPEnabled recomputes the VPPEnabled flag: true iff at least one
// enrollment is active.
func (d *Device) RefreshVPPEnabled() {
	d.VPPEnabled = false
	for _, e := range d.Enrollments {
		if e.Status == EnrollmentActive {
			d.VPPEnabled = true
			return
		}
	}
}

// Clone returns a deep copy. Enrollments, blackouts and the weekly
// schedule are copied so mutating a clone never reaches the original.
func (d *Device) Clone() *Device {
	cp := *d
	cp.Enrollments = append([]PoolEnrollment(nil), d.Enrollments...)
	cp.Availability.Blackouts = append([]DateRange(nil), d.Availability.Blackouts...)
	if d.Availability.Schedule != nil {
		cp.Availability.Schedule = make(WeeklySchedule, len(d.Availability.Schedule))
		for day, ranges := range d.Availability.Schedule {
			cp.Availability.Schedule[day] = append([]HourRange(nil), ranges...)
		}
	}
	return &cp
}

// AvailableDuring reports whether the window avoids every blackout range
// and falls inside the device's opted-in weekly schedule.
func (d *Device) AvailableDuring(start, end time.Time) bool {
	for _, b := range d.Availability.Blackouts {
		if b.Overlaps(start, end) {
			return false
		}
	}
	return d.Availability.Schedule.Covers(start, end)
}

// WithinCycleBudget reports whether the device may run one more cycle today.
func (d *Device) WithinCycleBudget() bool {
	if d.Constraints.MaxCyclesPerDay <= 0 {
		return true
	}
	return d.CyclesToday < d.Constraints.MaxCyclesPerDay
}
