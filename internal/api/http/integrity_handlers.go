package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/merkle"
)

// GET /integrity/students/{studentRef}
func VerifyIntegrityHandler(v *merkle.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := v.VerifyChainIntegrity(r.Context(), chi.URLParam(r, "studentRef"))
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// POST /integrity/batches  { "event_ids": [...] }
func BuildMerkleBatchHandler(v *merkle.Verifier, batches *merkle.BatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EventIDs []string `json:"event_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if len(req.EventIDs) == 0 {
			http.Error(w, "event_ids required", 400)
			return
		}
		b, err := v.BuildTree(r.Context(), req.EventIDs)
		if err != nil {
			http.Error(w, err.Error(), 422)
			return
		}
		if err := batches.Save(r.Context(), b); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(b)
	}
}

// POST /integrity/batches/{rootHash}/verify
//
// Recomputes the root over the batch's stored event set against current
// ledger contents. An integrity failure is reported in the body, not as a
// transport error.
func VerifyMerkleBatchHandler(v *merkle.Verifier, batches *merkle.BatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		root := chi.URLParam(r, "rootHash")
		b, err := batches.Get(r.Context(), root)
		if err != nil {
			http.Error(w, err.Error(), 404)
			return
		}
		err = v.Verify(r.Context(), b.EventIDs, b.RootHash)
		resp := map[string]interface{}{
			"root_hash": b.RootHash,
			"events":    len(b.EventIDs),
			"valid":     err == nil,
		}
		var ierr *ledger.IntegrityError
		switch {
		case err == nil:
		case errors.As(err, &ierr):
			resp["reason"] = ierr.Reason
			resp["event_id"] = ierr.EventID
		default:
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
