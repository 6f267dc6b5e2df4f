package challenge

import (
	"fmt"
	"time"
)

// Challenge lifecycle. The owner of generated→submitted is the challenge
// front end; this package owns the submitted→evaluated transition.
const (
	StatusGenerated  = "generated"
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"
	StatusEvaluated  = "evaluated"
)

// Question types routed by the grading strategies.
const (
	TypeMCQSingle    = "mcq_single"
	TypeTrueFalse    = "true_false"
	TypeShortAnswer  = "short_answer"
	TypeOpenResponse = "open_response"
)

type Question struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Prompt        string   `json:"prompt"`
	AnswerKey     []string `json:"answer_key,omitempty"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	Points        float64  `json:"points"`
	Competencies  []string `json:"competencies,omitempty"`
}

// Response is a learner's answer to one question, with optional reasoning
// for open-response grading.
type Response struct {
	Answer    string `json:"answer"`
	Reasoning string `json:"reasoning,omitempty"`
}

type Challenge struct {
	ID          string              `json:"id"`
	StudentRef  string              `json:"student_ref"`
	Topic       string              `json:"topic"`
	Difficulty  string              `json:"difficulty"`
	Questions   []Question          `json:"questions"`
	Responses   map[string]Response `json:"responses"`
	Status      string              `json:"status"`
	Version     int64               `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	SubmittedAt *time.Time          `json:"submitted_at,omitempty"`
	EvaluatedAt *time.Time          `json:"evaluated_at,omitempty"`
}

// DuplicateEvaluationError trips when a challenge that is already evaluated
// is submitted for evaluation again. Callers treat it as a success no-op:
// the single existing result stands.
type DuplicateEvaluationError struct {
	ChallengeID string
}

func (e *DuplicateEvaluationError) Error() string {
	return fmt.Sprintf("challenge %s already evaluated", e.ChallengeID)
}

// Actor identifies who (or what) triggered a pipeline action, as supplied by
// the identity provider; it is stamped onto every ledger write.
type Actor struct {
	ID        string
	Role      string
	IPAddress string
	UserAgent string
}
