package store

import (
	"sort"
	"sync"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
)

// DeviceStore persists device enrollment state. The engine reads and
// enrolls; telemetry ingestion owns the rest.
type DeviceStore interface {
	Get(id string) (*model.Device, error)
	Put(d *model.Device)
	Update(id string, fn func(*model.Device) error) (*model.Device, error)
	ListByUser(userID string) []*model.Device
}

// MemoryDeviceStore is a mutex-guarded map implementation.
type MemoryDeviceStore struct {
	mu      sync.RWMutex
	devices map[string]model.Device
}

// NewMemoryDeviceStore creates an empty device store.
func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{devices: map[string]model.Device{}}
}

func (s *MemoryDeviceStore) Get(id string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, faults.NotFoundf("device %s not found", id)
	}
	return d.Clone(), nil
}

func (s *MemoryDeviceStore) Put(d *model.Device) {
	s.mu.Lock()
	s.devices[d.ID] = *d.Clone()
	s.mu.Unlock()
}

// Update applies fn to a clone of the stored device under the write lock
// and stores it only on success. If fn returns an error nothing is written,
// the enrollment slice included.
func (s *MemoryDeviceStore) Update(id string, fn func(*model.Device) error) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, faults.NotFoundf("device %s not found", id)
	}
	updated := d.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.devices[id] = *updated
	return updated.Clone(), nil
}

func (s *MemoryDeviceStore) ListByUser(userID string) []*model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*model.Device
	for _, d := range s.devices {
		if d.UserID == userID {
			res = append(res, d.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
