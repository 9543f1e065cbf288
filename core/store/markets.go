package store

import (
	"sort"
	"sync"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
)

// MarketStore exposes the configured wholesale markets.
type MarketStore interface {
	Get(id string) (*model.Market, error)
	List() []*model.Market
}

// MemoryMarketStore holds markets seeded from configuration.
type MemoryMarketStore struct {
	mu      sync.RWMutex
	markets map[string]model.Market
}

// NewMemoryMarketStore creates a market store seeded with the given markets.
func NewMemoryMarketStore(markets []model.Market) *MemoryMarketStore {
	m := map[string]model.Market{}
	for _, mk := range markets {
		m[mk.ID] = mk
	}
	return &MemoryMarketStore{markets: m}
}

func (s *MemoryMarketStore) Get(id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, faults.NotFoundf("market %s not found", id)
	}
	cp := m
	return &cp, nil
}

func (s *MemoryMarketStore) List() []*model.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		cp := m
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
