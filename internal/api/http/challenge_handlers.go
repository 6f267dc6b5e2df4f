package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/clarion-edu/clarion-backend/internal/auth/middleware"
	"github.com/clarion-edu/clarion-backend/internal/challenge"
	"github.com/clarion-edu/clarion-backend/internal/rbac"
)

func actorFromRequest(r *http.Request) challenge.Actor {
	ctx := r.Context()
	return challenge.Actor{
		ID:        rbac.SubjectFromContext(ctx),
		Role:      rbac.RoleFromContext(ctx),
		IPAddress: auth.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// POST /challenges
func CreateChallengeHandler(store *challenge.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req challenge.Challenge
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		c, err := store.Create(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(c)
	}
}

// GET /challenges/{challengeID}
func GetChallengeHandler(store *challenge.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := store.Get(r.Context(), chi.URLParam(r, "challengeID"))
		if err != nil {
			http.Error(w, err.Error(), 404)
			return
		}
		_ = json.NewEncoder(w).Encode(c)
	}
}

// POST /challenges/{challengeID}/responses
func SaveChallengeResponsesHandler(store *challenge.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp map[string]challenge.Response
		if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		c, err := store.SaveResponses(r.Context(), chi.URLParam(r, "challengeID"), resp)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		_ = json.NewEncoder(w).Encode(c)
	}
}

// POST /challenges/{challengeID}/submit
func SubmitChallengeHandler(store *challenge.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := store.Submit(r.Context(), chi.URLParam(r, "challengeID"))
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		_ = json.NewEncoder(w).Encode(c)
	}
}

// POST /challenges/{challengeID}/evaluate
//
// A repeat evaluation is answered 200 with duplicate=true: the first result
// stands and no new ledger fact is written.
func EvaluateChallengeHandler(p *challenge.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "challengeID")
		ev, err := p.Evaluate(r.Context(), id, actorFromRequest(r))
		if err != nil {
			if challenge.IsDuplicate(err) {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"challenge_id": id,
					"duplicate":    true,
				})
				return
			}
			http.Error(w, err.Error(), 422)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"challenge_id": id,
			"event":        ev,
			"duplicate":    false,
		})
	}
}
