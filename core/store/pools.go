// Package store defines the persistence boundary of the engine: narrow
// per-entity interfaces with in-memory implementations. Every Update is an
// atomic read-modify-write under the store lock, so capacity and ledger
// mutations are serialized per key and a failing mutation leaves the stored
// entity untouched.
package store

import (
	"sort"
	"sync"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
)

// PoolStore persists pools.
type PoolStore interface {
	Get(id string) (*model.Pool, error)
	Put(p *model.Pool)
	Update(id string, fn func(*model.Pool) error) (*model.Pool, error)
	List() []*model.Pool
}

// MemoryPoolStore is a mutex-guarded map implementation.
type MemoryPoolStore struct {
	mu    sync.RWMutex
	pools map[string]model.Pool
}

// NewMemoryPoolStore creates an empty pool store.
func NewMemoryPoolStore() *MemoryPoolStore {
	return &MemoryPoolStore{pools: map[string]model.Pool{}}
}

func (s *MemoryPoolStore) Get(id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, faults.NotFoundf("pool %s not found", id)
	}
	return p.Clone(), nil
}

func (s *MemoryPoolStore) Put(p *model.Pool) {
	s.mu.Lock()
	s.pools[p.ID] = *p.Clone()
	s.mu.Unlock()
}

// Update applies fn to a clone of the stored pool under the write lock and
// stores it only on success. If fn returns an error nothing is written, the
// member slices included.
func (s *MemoryPoolStore) Update(id string, fn func(*model.Pool) error) (*model.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, faults.NotFoundf("pool %s not found", id)
	}
	updated := p.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.pools[id] = *updated
	return updated.Clone(), nil
}

func (s *MemoryPoolStore) List() []*model.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		res = append(res, p.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
