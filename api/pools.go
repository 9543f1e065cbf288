package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
)

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pools.List())
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.pools.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePoolCapacity(w http.ResponseWriter, r *http.Request) {
	snap, err := s.capacity.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJoinPool(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	var req struct {
		DeviceIDs []string `json:"device_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.Validationf("invalid request body: %v", err))
		return
	}
	member, err := s.membership.Join(user, r.PathValue("id"), req.DeviceIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleLeavePool(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	if err := s.membership.Leave(user, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateContribution(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	var req struct {
		ContributionKW float64 `json:"contribution_kw"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.Validationf("invalid request body: %v", err))
		return
	}
	if err := s.membership.UpdateContribution(user, r.PathValue("id"), req.ContributionKW); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.markets.List())
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	mkt, err := s.markets.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	product, ok := model.ParseProduct(r.URL.Query().Get("product"))
	if !ok {
		writeError(w, faults.Validationf("unknown product %q", r.URL.Query().Get("product")))
		return
	}
	if !mkt.Offers(product) {
		writeError(w, faults.Validationf("market %s does not trade %s", mkt.ID, product))
		return
	}
	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n < 1 || n > 168 {
			writeError(w, faults.Validationf("hours must be an integer between 1 and 168"))
			return
		}
		hours = n
	}
	points := s.sim.ForecastPrices(product, time.Now().Truncate(time.Hour).Add(time.Hour), hours)
	writeJSON(w, http.StatusOK, points)
}
