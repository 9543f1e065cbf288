package store

import (
	"sort"
	"sync"
	"time"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
)

// DispatchFilter narrows dispatch queries.
type DispatchFilter struct {
	PoolID string
	Status *model.DispatchStatus
	From   time.Time
	To     time.Time
}

func (f DispatchFilter) matches(d model.Dispatch) bool {
	if f.PoolID != "" && d.PoolID != f.PoolID {
		return false
	}
	if f.Status != nil && d.Status != *f.Status {
		return false
	}
	if !f.From.IsZero() && d.Start.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !d.Start.Before(f.To) {
		return false
	}
	return true
}

// DispatchStore persists per-device dispatches.
type DispatchStore interface {
	Get(id string) (*model.Dispatch, error)
	Put(d *model.Dispatch)
	Update(id string, fn func(*model.Dispatch) error) (*model.Dispatch, error)
	ListByBid(bidID string) []*model.Dispatch
	ListByUser(userID string, f DispatchFilter) []*model.Dispatch
	CompletedSince(poolID string, since time.Time) []*model.Dispatch
}

// MemoryDispatchStore is a mutex-guarded map implementation.
type MemoryDispatchStore struct {
	mu         sync.RWMutex
	dispatches map[string]model.Dispatch
}

// NewMemoryDispatchStore creates an empty dispatch store.
func NewMemoryDispatchStore() *MemoryDispatchStore {
	return &MemoryDispatchStore{dispatches: map[string]model.Dispatch{}}
}

func (s *MemoryDispatchStore) Get(id string) (*model.Dispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dispatches[id]
	if !ok {
		return nil, faults.NotFoundf("dispatch %s not found", id)
	}
	return d.Clone(), nil
}

func (s *MemoryDispatchStore) Put(d *model.Dispatch) {
	s.mu.Lock()
	s.dispatches[d.ID] = *d.Clone()
	s.mu.Unlock()
}

// Update applies fn to a clone of the stored dispatch under the write lock
// and stores it only on success. If fn returns an error nothing is written.
func (s *MemoryDispatchStore) Update(id string, fn func(*model.Dispatch) error) (*model.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[id]
	if !ok {
		return nil, faults.NotFoundf("dispatch %s not found", id)
	}
	updated := d.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.dispatches[id] = *updated
	return updated.Clone(), nil
}

func (s *MemoryDispatchStore) ListByBid(bidID string) []*model.Dispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*model.Dispatch
	for _, d := range s.dispatches {
		if d.BidID == bidID {
			res = append(res, d.Clone())
		}
	}
	sortByStart(res)
	return res
}

func (s *MemoryDispatchStore) ListByUser(userID string, f DispatchFilter) []*model.Dispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*model.Dispatch
	for _, d := range s.dispatches {
		if d.UserID != userID || !f.matches(d) {
			continue
		}
		res = append(res, d.Clone())
	}
	sortByStart(res)
	return res
}

// CompletedSince returns the pool's dispatches completed at or after the
// given instant, feeding the 30-day rolling statistics.
func (s *MemoryDispatchStore) CompletedSince(poolID string, since time.Time) []*model.Dispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*model.Dispatch
	for _, d := range s.dispatches {
		if d.PoolID != poolID || d.Status != model.DispatchCompleted {
			continue
		}
		if d.CompletedAt == nil || d.CompletedAt.Before(since) {
			continue
		}
		res = append(res, d.Clone())
	}
	sortByStart(res)
	return res
}

func sortByStart(ds []*model.Dispatch) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Start.Equal(ds[j].Start) {
			return ds[i].ID < ds[j].ID
		}
		return ds[i].Start.Before(ds[j].Start)
	})
}
