package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clarion-edu/clarion-backend/internal/spi"
)

// POST /students/{studentRef}/spi
func CalculateSPIHandler(agg *spi.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := agg.CalculateSPI(r.Context(), chi.URLParam(r, "studentRef"))
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// GET /students/{studentRef}/spi
func GetLatestSnapshotHandler(store *spi.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok, err := store.LatestSnapshot(r.Context(), chi.URLParam(r, "studentRef"))
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if !ok {
			http.Error(w, "no snapshot yet", 404)
			return
		}
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// GET /students/{studentRef}/spi/history?limit=
func SnapshotHistoryHandler(store *spi.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		snaps, err := store.RecentSnapshots(r.Context(), chi.URLParam(r, "studentRef"), limit)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"snapshots": snaps,
			"count":     len(snaps),
		})
	}
}

// GET /students/{studentRef}/trend
func TrendHandler(agg *spi.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trend, err := agg.Trend(r.Context(), chi.URLParam(r, "studentRef"))
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"trend": string(trend)})
	}
}

// GET /students/{studentRef}/difficulty/recommended
//
// PID-steered tier from recent performance.
func RecommendedDifficultyHandler(agg *spi.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := agg.RecommendedDifficulty(r.Context(), chi.URLParam(r, "studentRef"))
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(rec)
	}
}

// GET /students/{studentRef}/difficulty/optimal
//
// Flow-zone tier from the response model.
func OptimalDifficultyHandler(agg *spi.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sel, err := agg.OptimalDifficulty(r.Context(), chi.URLParam(r, "studentRef"))
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(sel)
	}
}
