package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/strategy"
)

func (s *Server) handleGenerateBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Product     string    `json:"product"`
		WindowStart time.Time `json:"window_start"`
		WindowEnd   time.Time `json:"window_end"`
		CapacityMW  float64   `json:"capacity_mw"`
		PriceCAD    float64   `json:"price_cad"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.Validationf("invalid request body: %v", err))
		return
	}
	product, ok := model.ParseProduct(req.Product)
	if !ok {
		writeError(w, faults.Validationf("unknown product %q", req.Product))
		return
	}
	var opts *strategy.BidOptions
	if req.CapacityMW > 0 || req.PriceCAD > 0 {
		opts = &strategy.BidOptions{CapacityMW: req.CapacityMW, PriceCAD: req.PriceCAD}
	}
	bid, err := s.strategy.GenerateBid(r.PathValue("id"), product, req.WindowStart, req.WindowEnd, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (s *Server) handleAutoGenerateBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.strategy.AutoGenerateBids(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bids)
}

func (s *Server) handleListPoolBids(w http.ResponseWriter, r *http.Request) {
	if _, err := s.pools.Get(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bids.ListByPool(r.PathValue("id")))
}

func (s *Server) handleGetBid(w http.ResponseWriter, r *http.Request) {
	bid, err := s.bids.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (s *Server) handleCancelBid(w http.ResponseWriter, r *http.Request) {
	bid, err := s.strategy.CancelBid(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// handleCreateDispatches fans the accepted bid out into per-device
// dispatches and queues their execution.
func (s *Server) handleCreateDispatches(w http.ResponseWriter, r *http.Request) {
	bidID := r.PathValue("id")
	dispatches, err := s.allocator.CreateDispatchesForBid(bidID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.lifecycle.ScheduleBid(r.Context(), bidID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dispatches)
}
