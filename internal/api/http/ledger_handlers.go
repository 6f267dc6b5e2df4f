package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	auth "github.com/clarion-edu/clarion-backend/internal/auth/middleware"
	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/rbac"
)

// POST /ledger/events
func AppendEventHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type       string          `json:"event_type"`
			StudentRef string          `json:"student_ref"`
			TeacherRef string          `json:"teacher_ref,omitempty"`
			SchoolRef  string          `json:"school_ref,omitempty"`
			Payload    json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		hash, err := ledger.ContentHash(req.Payload)
		if err != nil {
			http.Error(w, "unhashable payload", 400)
			return
		}
		ctx := r.Context()
		ev, err := store.Append(ctx, ledger.Event{
			Type:          ledger.EventType(req.Type),
			StudentRef:    req.StudentRef,
			TeacherRef:    req.TeacherRef,
			SchoolRef:     req.SchoolRef,
			Payload:       req.Payload,
			CreatedBy:     rbac.SubjectFromContext(ctx),
			CreatedByRole: rbac.RoleFromContext(ctx),
			IPAddress:     auth.ClientIP(r),
			UserAgent:     r.UserAgent(),
			ContentHash:   hash,
		})
		if err != nil {
			var verr *ledger.ValidationError
			if errors.As(err, &verr) {
				http.Error(w, verr.Error(), 422)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ev)
	}
}

// GET /ledger/events?student_ref=&teacher_ref=&school_ref=&event_type=&from=&to=&limit=&offset=
func QueryEventsHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := ledger.Filter{
			StudentRef: q.Get("student_ref"),
			TeacherRef: q.Get("teacher_ref"),
			SchoolRef:  q.Get("school_ref"),
			Type:       ledger.EventType(q.Get("event_type")),
		}
		if v := q.Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, "bad from timestamp", 400)
				return
			}
			f.From = t
		}
		if v := q.Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, "bad to timestamp", 400)
				return
			}
			f.To = t
		}
		p := ledger.Page{}
		if v := q.Get("limit"); v != "" {
			p.Limit, _ = strconv.Atoi(v)
		}
		if v := q.Get("offset"); v != "" {
			p.Offset, _ = strconv.Atoi(v)
		}
		evs, err := store.Query(r.Context(), f, p)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"events": evs,
			"count":  len(evs),
		})
	}
}

// GET /ledger/events/{eventID}
func GetEventHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := store.Get(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			http.Error(w, err.Error(), 404)
			return
		}
		_ = json.NewEncoder(w).Encode(ev)
	}
}
