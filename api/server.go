// Package api exposes the engine over HTTP. Requests must include an
// Authorization header with "Bearer <token>" when a token is configured,
// and an X-User-ID header on user-scoped endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gridmesh/vpp/core/allocation"
	"github.com/gridmesh/vpp/core/capacity"
	"github.com/gridmesh/vpp/core/faults"
	"github.com/gridmesh/vpp/core/lifecycle"
	"github.com/gridmesh/vpp/core/logger"
	"github.com/gridmesh/vpp/core/market"
	"github.com/gridmesh/vpp/core/pool"
	"github.com/gridmesh/vpp/core/settlement"
	"github.com/gridmesh/vpp/core/store"
	"github.com/gridmesh/vpp/core/strategy"
)

// Server bundles the engine services behind HTTP handlers.
type Server struct {
	pools      store.PoolStore
	markets    store.MarketStore
	devices    store.DeviceStore
	bids       store.BidStore
	dispatches store.DispatchStore
	membership *pool.Service
	strategy   *strategy.Engine
	allocator  *allocation.Allocator
	lifecycle  *lifecycle.Manager
	settle     *settlement.Engine
	capacity   *capacity.Aggregator
	sim        *market.Simulator
	token      string
	log        logger.Logger
}

// Deps collects the server's collaborators.
type Deps struct {
	Pools      store.PoolStore
	Markets    store.MarketStore
	Devices    store.DeviceStore
	Bids       store.BidStore
	Dispatches store.DispatchStore
	Membership *pool.Service
	Strategy   *strategy.Engine
	Allocator  *allocation.Allocator
	Lifecycle  *lifecycle.Manager
	Settlement *settlement.Engine
	Capacity   *capacity.Aggregator
	Simulator  *market.Simulator
	Token      string
	Log        logger.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(d Deps) (*Server, error) {
	if d.Pools == nil || d.Markets == nil || d.Devices == nil || d.Bids == nil || d.Dispatches == nil ||
		d.Membership == nil || d.Strategy == nil || d.Allocator == nil || d.Lifecycle == nil ||
		d.Settlement == nil || d.Capacity == nil || d.Simulator == nil || d.Log == nil {
		return nil, fmt.Errorf("api: nil dependency provided to NewServer")
	}
	return &Server{
		pools:      d.Pools,
		markets:    d.Markets,
		devices:    d.Devices,
		bids:       d.Bids,
		dispatches: d.Dispatches,
		membership: d.Membership,
		strategy:   d.Strategy,
		allocator:  d.Allocator,
		lifecycle:  d.Lifecycle,
		settle:     d.Settlement,
		capacity:   d.Capacity,
		sim:        d.Simulator,
		token:      d.Token,
		log:        d.Log,
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/pools", s.handleListPools)
	mux.HandleFunc("GET /api/pools/{id}", s.handleGetPool)
	mux.HandleFunc("GET /api/pools/{id}/capacity", s.handlePoolCapacity)
	mux.HandleFunc("POST /api/pools/{id}/join", s.handleJoinPool)
	mux.HandleFunc("POST /api/pools/{id}/leave", s.handleLeavePool)
	mux.HandleFunc("PUT /api/pools/{id}/contribution", s.handleUpdateContribution)

	mux.HandleFunc("GET /api/markets", s.handleListMarkets)
	mux.HandleFunc("GET /api/markets/{id}/forecast", s.handleForecast)

	mux.HandleFunc("POST /api/pools/{id}/bids", s.handleGenerateBid)
	mux.HandleFunc("POST /api/pools/{id}/bids/auto", s.handleAutoGenerateBids)
	mux.HandleFunc("GET /api/pools/{id}/bids", s.handleListPoolBids)
	mux.HandleFunc("GET /api/bids/{id}", s.handleGetBid)
	mux.HandleFunc("POST /api/bids/{id}/cancel", s.handleCancelBid)
	mux.HandleFunc("POST /api/bids/{id}/dispatches", s.handleCreateDispatches)

	mux.HandleFunc("POST /api/dispatches/{id}/execute", s.handleExecuteDispatch)
	mux.HandleFunc("POST /api/dispatches/{id}/cancel", s.handleCancelDispatch)
	mux.HandleFunc("GET /api/dispatches/upcoming", s.handleUpcomingDispatches)
	mux.HandleFunc("GET /api/dispatches/history", s.handleDispatchHistory)
	mux.HandleFunc("GET /api/dispatches/calendar", s.handleDispatchCalendar)
	mux.HandleFunc("GET /api/dispatches/stats", s.handleDispatchStats)
	mux.HandleFunc("GET /api/dispatches/{id}", s.handleGetDispatch)

	mux.HandleFunc("GET /api/revenue/summary", s.handleRevenueSummary)
	mux.HandleFunc("GET /api/revenue/pools", s.handleRevenueByPool)
	mux.HandleFunc("GET /api/revenue/trend", s.handleRevenueTrend)
	mux.HandleFunc("GET /api/revenue/history", s.handleRevenueHistory)
	mux.HandleFunc("GET /api/revenue/projection", s.handleRevenueProjection)
	mux.HandleFunc("GET /api/revenue/export", s.handleRevenueExport)
	mux.HandleFunc("POST /api/revenue/settle", s.handleSettle)

	return s.auth(mux)
}

// auth enforces the bearer token when configured.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			if r.Header.Get("Authorization") != "Bearer "+s.token {
				writeErrorStatus(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// userID extracts the caller identity. The request layer upstream performs
// real authentication; the engine trusts this header.
func userID(r *http.Request) (string, bool) {
	id := r.Header.Get("X-User-ID")
	return id, id != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeErrorStatus(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: msg}})
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case faults.KindNotFound:
		status = http.StatusNotFound
	case faults.KindInvalidState:
		status = http.StatusConflict
	case faults.KindInsufficientCapacity:
		status = http.StatusUnprocessableEntity
	case faults.KindValidation:
		status = http.StatusBadRequest
	case faults.KindUnauthorized:
		status = http.StatusUnauthorized
	case faults.KindForbidden:
		status = http.StatusForbidden
	}
	writeErrorStatus(w, status, kind.String(), err.Error())
}

func writeMissingUser(w http.ResponseWriter) {
	writeErrorStatus(w, http.StatusUnauthorized, faults.KindUnauthorized.String(), "X-User-ID header is required")
}
