package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy(fallback string) RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, FallbackModel: fallback}
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":` + jsonString(content) + `}}]}`))
	if err != nil {
		t.Fatal(err)
	}
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func TestEvaluateHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `{"answer_correct": true, "answer_score": 62, "reasoning_score": 24, "feedback": "solid"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "judge-large", fastPolicy(""), nil, time.Second, nil)
	ev, err := c.Evaluate(context.Background(), Request{Question: "q", CorrectAnswer: "a", StudentAnswer: "a", Reasoning: "because"})
	if err != nil {
		t.Fatal(err)
	}
	if !ev.AnswerCorrect || ev.AnswerScore != 62 || ev.ReasoningScore != 24 {
		t.Fatalf("unexpected evaluation: %+v", ev)
	}
}

func TestEvaluateRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		chatReply(t, w, `{"answer_correct": false, "answer_score": 10, "reasoning_score": 5, "feedback": "weak"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "judge-large", fastPolicy(""), nil, time.Second, nil)
	ev, err := c.Evaluate(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if ev.AnswerScore != 10 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected success on third call, got %+v after %d calls", ev, calls)
	}
}

func TestEvaluateFallsBackToSecondModel(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = jsonDecode(r, &req)
		models = append(models, req.Model)
		if req.Model != "judge-small" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		chatReply(t, w, `{"answer_correct": true, "answer_score": 50, "reasoning_score": 20, "feedback": "ok"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "judge-large", fastPolicy("judge-small"), nil, time.Second, nil)
	ev, err := c.Evaluate(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if ev.AnswerScore != 50 {
		t.Fatalf("unexpected evaluation: %+v", ev)
	}
	if len(models) != 3 || models[2] != "judge-small" {
		t.Fatalf("expected fallback model on final attempt, got %v", models)
	}
}

func TestEvaluateSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "judge-large", fastPolicy(""), nil, time.Second, nil)
	_, err := c.Evaluate(context.Background(), Request{})
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if uerr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", uerr.Attempts)
	}
}

func TestParseEvaluationToleratesProseAndClamps(t *testing.T) {
	ev, err := parseEvaluation("Sure! Here is the grade:\n{\"answer_correct\": true, \"answer_score\": 400, \"reasoning_score\": -3, \"feedback\": \"hm\"}\nHope that helps.")
	if err != nil {
		t.Fatal(err)
	}
	if ev.AnswerScore != 70 || ev.ReasoningScore != 0 {
		t.Fatalf("scores must clamp to their bands: %+v", ev)
	}

	if _, err := parseEvaluation("no json here"); err == nil {
		t.Fatal("expected malformed-output error")
	}
}

func TestTokenBucketBlocksAndRefills(t *testing.T) {
	b := NewTokenBucket(60000) // 1000/sec so the test stays fast
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}

	// A cancelled context unblocks a starved waiter.
	small := NewTokenBucket(1)
	small.tokens = 0
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := small.Wait(cctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func jsonDecode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
