package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/clarion-edu/clarion-backend/internal/auth/middleware"
	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/rbac"
)

// POST /admin/evaluations/{eventID}/void  { "reason": "..." }
//
// Voiding never mutates the original event: it appends a compensating fact
// that the scoring replay skips, and leaves both visible to auditors.
func VoidEvaluationHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
			http.Error(w, "reason required", 400)
			return
		}
		target, err := store.Get(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			http.Error(w, err.Error(), 404)
			return
		}
		if target.Type != ledger.EventChallengeEvaluated {
			http.Error(w, "only challenge evaluations can be voided", 422)
			return
		}
		payload, err := json.Marshal(ledger.EvaluationVoid{
			StudentRef:    target.StudentRef,
			VoidedEventID: target.ID,
			Reason:        req.Reason,
		})
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		hash, err := ledger.ContentHash(payload)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		ctx := r.Context()
		ev, err := store.Append(ctx, ledger.Event{
			Type:          ledger.EventEvaluationVoided,
			StudentRef:    target.StudentRef,
			Payload:       payload,
			CreatedBy:     rbac.SubjectFromContext(ctx),
			CreatedByRole: rbac.RoleFromContext(ctx),
			IPAddress:     auth.ClientIP(r),
			UserAgent:     r.UserAgent(),
			ContentHash:   hash,
		})
		if err != nil {
			http.Error(w, err.Error(), 422)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ev)
	}
}
