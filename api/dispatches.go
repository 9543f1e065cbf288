package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
)

func (s *Server) handleExecuteDispatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.lifecycle.StartDispatch(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.dispatches.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCancelDispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.Validationf("invalid request body: %v", err))
		return
	}
	if req.Reason == "" {
		writeError(w, faults.Validationf("a cancellation reason is required"))
		return
	}
	id := r.PathValue("id")
	if err := s.lifecycle.CancelDispatch(r.Context(), id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.dispatches.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpcomingDispatches(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	scheduled := model.DispatchScheduled
	ds := s.dispatches.ListByUser(user, store.DispatchFilter{
		PoolID: r.URL.Query().Get("pool_id"),
		Status: &scheduled,
		From:   time.Now(),
	})
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleDispatchHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	f := store.DispatchFilter{PoolID: r.URL.Query().Get("pool_id")}
	if st := r.URL.Query().Get("status"); st != "" {
		parsed, ok := parseDispatchStatus(st)
		if !ok {
			writeError(w, faults.Validationf("unknown dispatch status %q", st))
			return
		}
		f.Status = &parsed
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, faults.Validationf("from must be RFC3339"))
			return
		}
		f.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, faults.Validationf("to must be RFC3339"))
			return
		}
		f.To = t
	}
	writeJSON(w, http.StatusOK, s.dispatches.ListByUser(user, f))
}

func (s *Server) handleDispatchCalendar(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	year, month, err := yearMonth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	ds := s.dispatches.ListByUser(user, store.DispatchFilter{From: start, To: start.AddDate(0, 1, 0)})

	byDay := map[int][]*model.Dispatch{}
	for _, d := range ds {
		byDay[d.Start.Day()] = append(byDay[d.Start.Day()], d)
	}
	writeJSON(w, http.StatusOK, byDay)
}

// DispatchStats summarizes a user's dispatch history.
type DispatchStats struct {
	Total          int
	Completed      int
	Cancelled      int
	Failed         int
	EnergyKWh      float64
	NetRevenueCAD  float64
	ReliabilityPct float64
}

func (s *Server) handleDispatchStats(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	ds := s.dispatches.ListByUser(user, store.DispatchFilter{PoolID: r.URL.Query().Get("pool_id")})
	var stats DispatchStats
	var relSum float64
	for _, d := range ds {
		stats.Total++
		switch d.Status {
		case model.DispatchCompleted:
			stats.Completed++
			stats.EnergyKWh += d.EnergyKWh()
			stats.NetRevenueCAD += d.Revenue.NetCAD
			relSum += d.Performance.ReliabilityPct
		case model.DispatchCancelled:
			stats.Cancelled++
		case model.DispatchFailed:
			stats.Failed++
		}
	}
	if stats.Completed > 0 {
		stats.ReliabilityPct = relSum / float64(stats.Completed)
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetDispatch(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	d, err := s.dispatches.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if d.UserID != user {
		writeError(w, faults.Forbiddenf("dispatch %s does not belong to user %s", d.ID, user))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func parseDispatchStatus(s string) (model.DispatchStatus, bool) {
	for _, st := range []model.DispatchStatus{
		model.DispatchScheduled, model.DispatchActive, model.DispatchCompleted,
		model.DispatchCancelled, model.DispatchFailed,
	} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

func yearMonth(r *http.Request) (int, time.Month, error) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 2000 || year > 2200 {
		return 0, 0, faults.Validationf("year must be a four digit integer")
	}
	m, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || m < 1 || m > 12 {
		return 0, 0, faults.Validationf("month must be between 1 and 12")
	}
	return year, time.Month(m), nil
}
