// Package api serves pool statistics and leak history over HTTP
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guileen/poolman/logger"
	"github.com/guileen/poolman/pool"
	"github.com/guileen/poolman/registry"
)

const defaultLeakLimit = 100

type Handler struct {
	registry *registry.Registry
	log      *slog.Logger
}

func NewHandler(reg *registry.Registry, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Logger
	}
	return &Handler{
		registry: reg,
		log:      log.With(logger.Component("api")),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/pools", func(r chi.Router) {
		r.Get("/", h.ListPools)
		r.Get("/{name}", h.GetPool)
		r.Get("/{name}/leaks", h.ListLeaks)
		r.Post("/{name}/ping", h.PingPool)
	})
}

type PoolResponse struct {
	Name               string     `json:"name"`
	Closed             bool       `json:"closed"`
	CloseCheckInterval string     `json:"close_check_interval"`
	Journal            bool       `json:"journal"`
	Stats              pool.Stats `json:"stats"`
}

type ListPoolsResponse struct {
	Pools []PoolResponse `json:"pools"`
	Count int            `json:"count"`
}

type LeakResponse struct {
	LeaseID     string    `json:"lease_id"`
	Reason      string    `json:"reason"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ReclaimedAt time.Time `json:"reclaimed_at"`
	Held        string    `json:"held"`
}

type ListLeaksResponse struct {
	Pool  string         `json:"pool"`
	Leaks []LeakResponse `json:"leaks"`
	Count int            `json:"count"`
}

type PingResponse struct {
	Pool    string `json:"pool"`
	LeaseID string `json:"lease_id"`
	Latency string `json:"latency"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.Entries()
	response := ListPoolsResponse{Pools: make([]PoolResponse, 0, len(entries))}
	for _, e := range entries {
		response.Pools = append(response.Pools, poolResponse(e))
	}
	response.Count = len(response.Pools)
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	e, ok := h.find(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, poolResponse(e))
}

func (h *Handler) ListLeaks(w http.ResponseWriter, r *http.Request) {
	e, ok := h.find(w, r)
	if !ok {
		return
	}
	if e.Journal == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("pool %s has no leak journal", e.Pool.Name()))
		return
	}

	limit := getIntQueryParam(r, "limit", defaultLeakLimit)
	leaks, err := e.Journal.List(r.Context(), e.Pool.Name(), limit)
	if err != nil {
		h.log.Error("failed to list leaks", logger.Pool(e.Pool.Name()), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	response := ListLeaksResponse{Pool: e.Pool.Name(), Leaks: make([]LeakResponse, 0, len(leaks))}
	for _, l := range leaks {
		response.Leaks = append(response.Leaks, LeakResponse{
			LeaseID:     l.LeaseID.String(),
			Reason:      string(l.Reason),
			AcquiredAt:  l.AcquiredAt,
			ReclaimedAt: l.ReclaimedAt,
			Held:        l.ReclaimedAt.Sub(l.AcquiredAt).String(),
		})
	}
	response.Count = len(response.Leaks)
	writeJSON(w, http.StatusOK, response)
}

// PingPool checks a connection out, pings it and gives it back
func (h *Handler) PingPool(w http.ResponseWriter, r *http.Request) {
	e, ok := h.find(w, r)
	if !ok {
		return
	}

	start := time.Now()
	conn, err := e.Pool.Acquire(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer conn.Close()

	if err := conn.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, PingResponse{
		Pool:    e.Pool.Name(),
		LeaseID: conn.LeaseID(),
		Latency: time.Since(start).String(),
	})
}

func (h *Handler) find(w http.ResponseWriter, r *http.Request) (registry.Entry, bool) {
	name := chi.URLParam(r, "name")
	e, ok := h.registry.Find(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("pool %s not found", name))
	}
	return e, ok
}

func poolResponse(e registry.Entry) PoolResponse {
	return PoolResponse{
		Name:               e.Pool.Name(),
		Closed:             e.Pool.Closed(),
		CloseCheckInterval: e.Pool.CloseCheckInterval().String(),
		Journal:            e.Journal != nil,
		Stats:              e.Pool.Stats(),
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
