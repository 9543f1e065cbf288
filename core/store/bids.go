package store

import (
	"sort"
	"sync"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
)

// BidStore persists bids.
type BidStore interface {
	Get(id string) (*model.Bid, error)
	Put(b *model.Bid)
	Update(id string, fn func(*model.Bid) error) (*model.Bid, error)
	ListByPool(poolID string) []*model.Bid
}

// MemoryBidStore is a mutex-guarded map implementation.
type MemoryBidStore struct {
	mu   sync.RWMutex
	bids map[string]model.Bid
}

// NewMemoryBidStore creates an empty bid store.
func NewMemoryBidStore() *MemoryBidStore {
	return &MemoryBidStore{bids: map[string]model.Bid{}}
}

func (s *MemoryBidStore) Get(id string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bids[id]
	if !ok {
		return nil, faults.NotFoundf("bid %s not found", id)
	}
	return b.Clone(), nil
}

func (s *MemoryBidStore) Put(b *model.Bid) {
	s.mu.Lock()
	s.bids[b.ID] = *b.Clone()
	s.mu.Unlock()
}

// Update applies fn to a clone of the stored bid under the write lock and
// stores it only on success. If fn returns an error nothing is written.
func (s *MemoryBidStore) Update(id string, fn func(*model.Bid) error) (*model.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bids[id]
	if !ok {
		return nil, faults.NotFoundf("bid %s not found", id)
	}
	updated := b.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.bids[id] = *updated
	return updated.Clone(), nil
}

func (s *MemoryBidStore) ListByPool(poolID string) []*model.Bid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*model.Bid
	for _, b := range s.bids {
		if b.PoolID == poolID {
			res = append(res, b.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].WindowStart.Before(res[j].WindowStart) })
	return res
}
