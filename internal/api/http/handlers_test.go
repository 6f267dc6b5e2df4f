package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	auth "github.com/clarion-edu/clarion-backend/internal/auth/middleware"
	"github.com/clarion-edu/clarion-backend/internal/db"
	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/merkle"
	"github.com/clarion-edu/clarion-backend/internal/rbac"
)

type testEnv struct {
	router  chi.Router
	authSvc *auth.AuthService
	events  *ledger.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "api.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })

	events := ledger.NewStore(dbh)
	batches := merkle.NewBatchStore(dbh)
	verifier := merkle.NewVerifier(events)
	authSvc := auth.NewAuthService("test-secret")

	r := chi.NewRouter()
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.With(rbac.Require("ledger:append")).
			Post("/ledger/events", AppendEventHandler(events))
		pr.With(rbac.Require("ledger:view")).
			Get("/ledger/events", QueryEventsHandler(events))
		pr.With(rbac.Require("integrity:verify")).
			Get("/integrity/students/{studentRef}", VerifyIntegrityHandler(verifier))
		pr.With(rbac.Require("integrity:verify")).
			Post("/integrity/batches", BuildMerkleBatchHandler(verifier, batches))
		pr.With(rbac.Require("ledger:void")).
			Post("/admin/evaluations/{eventID}/void", VoidEvaluationHandler(events))
	})
	return &testEnv{router: r, authSvc: authSvc, events: events}
}

func (e *testEnv) do(t *testing.T, method, path, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		tok, err := e.authSvc.IssueJWT(role+"-1", role, "school-9")
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func appendBody(challengeID string, score float64) map[string]interface{} {
	return map[string]interface{}{
		"event_type":  "ChallengeEvaluated",
		"student_ref": "student-1",
		"payload": map[string]interface{}{
			"challenge_id": challengeID,
			"student_ref":  "student-1",
			"topic":        "forces",
			"difficulty":   "medium",
			"total_score":  score,
			"passed":       score >= 50,
		},
	}
}

func TestAppendAndQueryEvents(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/ledger/events", "teacher", appendBody("c1", 80))
	if rec.Code != http.StatusCreated {
		t.Fatalf("append status = %d: %s", rec.Code, rec.Body)
	}
	var ev ledger.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.CreatedBy != "teacher-1" || ev.CreatedByRole != "teacher" {
		t.Fatalf("actor not stamped: %+v", ev)
	}
	if ev.ContentHash == "" || ev.Seq != 1 {
		t.Fatalf("chain fields missing: %+v", ev)
	}

	rec = env.do(t, "GET", "/ledger/events?student_ref=student-1", "teacher", nil)
	if rec.Code != 200 {
		t.Fatalf("query status = %d", rec.Code)
	}
	var out struct {
		Events []ledger.Event `json:"events"`
		Count  int            `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 {
		t.Fatalf("count = %d, want 1", out.Count)
	}
}

func TestAppendEnforcesRBAC(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, "POST", "/ledger/events", "student", appendBody("c1", 80)); rec.Code != http.StatusForbidden {
		t.Fatalf("student append status = %d, want 403", rec.Code)
	}
	if rec := env.do(t, "POST", "/ledger/events", "", appendBody("c1", 80)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous append status = %d, want 401", rec.Code)
	}
}

func TestAppendRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]interface{}{
		"event_type":  "ChallengeEvaluated",
		"student_ref": "student-1",
		"payload":     map[string]interface{}{"total_score": 200},
	}
	rec := env.do(t, "POST", "/ledger/events", "teacher", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed payload status = %d, want 422", rec.Code)
	}
}

func TestIntegrityEndpoints(t *testing.T) {
	env := newTestEnv(t)
	var ids []string
	for i := 0; i < 3; i++ {
		rec := env.do(t, "POST", "/ledger/events", "teacher", appendBody(fmt.Sprintf("c%d", i), 70))
		if rec.Code != http.StatusCreated {
			t.Fatalf("append %d status = %d", i, rec.Code)
		}
		var ev ledger.Event
		if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, ev.ID)
	}

	rec := env.do(t, "GET", "/integrity/students/student-1", "school_admin", nil)
	if rec.Code != 200 {
		t.Fatalf("verify status = %d", rec.Code)
	}
	var report merkle.ChainReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Checked != 3 {
		t.Fatalf("report = %+v", report)
	}

	rec = env.do(t, "POST", "/integrity/batches", "school_admin", map[string]interface{}{"event_ids": ids})
	if rec.Code != http.StatusCreated {
		t.Fatalf("batch status = %d: %s", rec.Code, rec.Body)
	}
	var b merkle.Batch
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if b.RootHash == "" || len(b.LeafHashes) != 3 {
		t.Fatalf("batch = %+v", b)
	}
}

func TestVoidEvaluation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/ledger/events", "teacher", appendBody("c1", 80))
	var ev ledger.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, "POST", "/admin/evaluations/"+ev.ID+"/void", "teacher",
		map[string]string{"reason": "entered for the wrong learner"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("void status = %d: %s", rec.Code, rec.Body)
	}
	var voidEv ledger.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &voidEv); err != nil {
		t.Fatal(err)
	}
	if voidEv.Type != ledger.EventEvaluationVoided {
		t.Fatalf("type = %s", voidEv.Type)
	}

	// Reason is mandatory; a missing target 404s.
	rec = env.do(t, "POST", "/admin/evaluations/"+ev.ID+"/void", "teacher", map[string]string{})
	if rec.Code != 400 {
		t.Fatalf("missing reason status = %d", rec.Code)
	}
	rec = env.do(t, "POST", "/admin/evaluations/nope/void", "teacher", map[string]string{"reason": "x"})
	if rec.Code != 404 {
		t.Fatalf("missing event status = %d", rec.Code)
	}

	// A void event itself cannot be voided.
	rec = env.do(t, "POST", "/admin/evaluations/"+voidEv.ID+"/void", "teacher", map[string]string{"reason": "x"})
	if rec.Code != 422 {
		t.Fatalf("void-of-void status = %d", rec.Code)
	}
}
