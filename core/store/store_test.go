package store

import (
	"errors"
	"testing"

	"github.com/gridmesh/vpp/core/model"
)

func TestPoolUpdate_FailedMutationLeavesStoreUntouched(t *testing.T) {
	s := NewMemoryPoolStore()
	s.Put(&model.Pool{
		ID: "p1",
		Members: []model.PoolMember{
			{UserID: "u1", ContributionKW: 10, Status: model.MemberActive},
		},
	})

	boom := errors.New("capacity check failed")
	_, err := s.Update("p1", func(p *model.Pool) error {
		p.Members[0].ContributionKW = 999
		p.Members = append(p.Members, model.PoolMember{UserID: "u2"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the mutation error back, got %v", err)
	}

	p, err := s.Get("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.Members) != 1 {
		t.Fatalf("failed update must not add members, got %d", len(p.Members))
	}
	if got := p.Members[0].ContributionKW; got != 10 {
		t.Fatalf("failed update leaked a member mutation: contribution %v, want 10", got)
	}
}

func TestPoolGet_SnapshotsAreIsolated(t *testing.T) {
	s := NewMemoryPoolStore()
	s.Put(&model.Pool{
		ID: "p1",
		Members: []model.PoolMember{
			{UserID: "u1", ContributionKW: 10, Status: model.MemberActive},
		},
	})

	snap, err := s.Get("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if _, err := s.Update("p1", func(p *model.Pool) error {
		p.Members[0].ContributionKW = 42
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := snap.Members[0].ContributionKW; got != 10 {
		t.Fatalf("snapshot mutated under a later update: contribution %v, want 10", got)
	}

	snap.Members[0].ContributionKW = 7
	p, _ := s.Get("p1")
	if got := p.Members[0].ContributionKW; got != 42 {
		t.Fatalf("writing a snapshot reached the store: contribution %v, want 42", got)
	}
}

func TestDeviceUpdate_FailedMutationLeavesEnrollments(t *testing.T) {
	s := NewMemoryDeviceStore()
	s.Put(&model.Device{
		ID:     "d1",
		UserID: "u1",
		Enrollments: []model.PoolEnrollment{
			{PoolID: "p1", Status: model.EnrollmentActive},
		},
	})

	boom := errors.New("pool rejected the device")
	_, err := s.Update("d1", func(d *model.Device) error {
		d.Enrollments[0].Status = model.EnrollmentRemoved
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the mutation error back, got %v", err)
	}

	d, err := s.Get("d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := d.Enrollments[0].Status; got != model.EnrollmentActive {
		t.Fatalf("failed update leaked an enrollment mutation: %s, want active", got)
	}
}

func TestDeviceGet_SnapshotsAreIsolated(t *testing.T) {
	s := NewMemoryDeviceStore()
	s.Put(&model.Device{
		ID:     "d1",
		UserID: "u1",
		Enrollments: []model.PoolEnrollment{
			{PoolID: "p1", Status: model.EnrollmentActive},
		},
	})

	snap, err := s.Get("d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	snap.Enrollments[0].Status = model.EnrollmentPaused

	d, _ := s.Get("d1")
	if got := d.Enrollments[0].Status; got != model.EnrollmentActive {
		t.Fatalf("writing a snapshot reached the store: %s, want active", got)
	}
}
