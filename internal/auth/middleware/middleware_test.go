package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clarion-edu/clarion-backend/internal/rbac"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret")
	tok, err := svc.IssueJWT("student-1", "student", "school-9")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Sub != "student-1" || claims.Role != "student" || claims.SchoolRef != "school-9" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := NewAuthService("secret-a").IssueJWT("u", "teacher", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewAuthService("secret-b").Parse(tok); err == nil {
		t.Fatal("expected parse to fail with wrong secret")
	}
}

func TestJWTMiddlewareStampsContext(t *testing.T) {
	svc := NewAuthService("test-secret")
	tok, _ := svc.IssueJWT("teacher-1", "teacher", "school-9")

	var gotSub, gotRole, gotSchool string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = rbac.SubjectFromContext(r.Context())
		gotRole = rbac.RoleFromContext(r.Context())
		gotSchool = rbac.SchoolFromContext(r.Context())
	})
	h := JWTMiddleware(svc)(inner)

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotSub != "teacher-1" || gotRole != "teacher" || gotSchool != "school-9" {
		t.Fatalf("context = %q %q %q", gotSub, gotRole, gotSchool)
	}

	// No bearer.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing bearer status = %d", rec.Code)
	}
}

func TestLoginHandler(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	svc := NewAuthService("test-secret")
	h := LoginHandler(svc, map[string]Credential{
		"teacher-1": {PasswordHash: hash, Role: "teacher", SchoolRef: "school-9"},
	})

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest("POST", "/auth/login", bytes.NewBufferString(body)))
		return rec
	}

	rec := post(`{"username":"teacher-1","password":"correct horse"}`)
	if rec.Code != 200 {
		t.Fatalf("login status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	claims, err := svc.Parse(resp["access_token"])
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.Role != "teacher" {
		t.Fatalf("role = %s", claims.Role)
	}

	if rec := post(`{"username":"teacher-1","password":"wrong"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rec.Code)
	}
	if rec := post(`{"username":"nobody","password":"x"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user status = %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:5544"
	if got := ClientIP(r); got != "10.1.2.3" {
		t.Fatalf("remote addr ip = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Fatalf("forwarded ip = %q", got)
	}
}
