package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/model"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/pkg/export"
)

func (s *Server) handleRevenueSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	summary, err := s.settle.Summary(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRevenueByPool(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	byPool, err := s.settle.ByPool(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, byPool)
}

func (s *Server) handleRevenueTrend(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	months := 12
	if m := r.URL.Query().Get("months"); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 || n > 60 {
			writeError(w, faults.Validationf("months must be an integer between 1 and 60"))
			return
		}
		months = n
	}
	trend, err := s.settle.MonthlyTrend(r.Context(), user, months)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (s *Server) handleRevenueHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	f := store.RevenueFilter{UserID: user, PoolID: r.URL.Query().Get("pool_id")}
	if p := r.URL.Query().Get("period"); p != "" {
		period, ok := model.ParsePeriodType(p)
		if !ok {
			writeError(w, faults.Validationf("unknown period type %q", p))
			return
		}
		f.Period = &period
	}
	records, err := s.settle.History(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRevenueProjection(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	poolID := r.URL.Query().Get("pool_id")
	if poolID == "" {
		writeError(w, faults.Validationf("pool_id is required"))
		return
	}
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 || n > 365 {
			writeError(w, faults.Validationf("days must be an integer between 1 and 365"))
			return
		}
		days = n
	}
	proj, err := s.settle.ProjectedRevenue(r.Context(), user, poolID, days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// handleRevenueExport streams the user's monthly statement as CSV, one row
// per pool record.
func (s *Server) handleRevenueExport(w http.ResponseWriter, r *http.Request) {
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
	records, err := s.settle.MonthRecords(r.Context(), user, year, month)
	if err != nil {
		writeError(w, err)
		return
	}

	rows := make([]export.Row, 0, len(records))
	for _, rec := range records {
		row := export.Row{
			Pool:        rec.PoolID,
			GrossCAD:    rec.GrossCAD,
			PlatformCAD: rec.PlatformFeeCAD,
			OperatorCAD: rec.OperatorFeeCAD,
			NetCAD:      rec.NetCAD,
			Dispatches:  rec.DispatchCount,
			EnergyKWh:   rec.EnergyKWh,
			Reliability: rec.ReliabilityPct,
		}
		if p, err := s.pools.Get(rec.PoolID); err == nil {
			row.Pool = p.Name
			if mkt, err := s.markets.Get(p.MarketID); err == nil {
				row.Region = mkt.Region
			}
		}
		rows = append(rows, row)
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=revenue-%d-%02d.csv", year, int(month)))
	if err := export.WriteRevenueCSV(w, rows); err != nil {
		s.log.Errorf("csv export failed: %v", err)
	}
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeMissingUser(w)
		return
	}
	var req struct {
		PoolID string `json:"pool_id"`
		Year   int    `json:"year"`
		Month  int    `json:"month"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.Validationf("invalid request body: %v", err))
		return
	}
	if req.PoolID == "" || req.Year < 2000 || req.Month < 1 || req.Month > 12 {
		writeError(w, faults.Validationf("pool_id, year and month are required"))
		return
	}
	rec, err := s.settle.ProcessMonthlySettlement(r.Context(), user, req.PoolID, req.Year, time.Month(req.Month))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
