package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventChallengeEvaluated EventType = "ChallengeEvaluated"
	EventCompetencyAssessed EventType = "CompetencyAssessed"
	EventReportGenerated    EventType = "ReportGenerated"
	EventEvaluationVoided   EventType = "EvaluationVoided"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusVoided    Status = "voided"
)

// Event is one immutable assessment fact. Once confirmed, payload and hashes
// never change; corrections are appended as compensating events.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"event_type"`
	StudentRef    string          `json:"student_ref,omitempty"`
	TeacherRef    string          `json:"teacher_ref,omitempty"`
	SchoolRef     string          `json:"school_ref,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedBy     string          `json:"created_by"`
	CreatedByRole string          `json:"created_by_role"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	ContentHash   string          `json:"content_hash"`
	PrevHash      string          `json:"prev_hash,omitempty"`
	Seq           int64           `json:"seq"`
	Status        Status          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ChallengeEvaluation is the payload of a ChallengeEvaluated event. Produced
// exactly once per submitted challenge.
type ChallengeEvaluation struct {
	ChallengeID      string            `json:"challenge_id"`
	StudentRef       string            `json:"student_ref"`
	Topic            string            `json:"topic"`
	Difficulty       string            `json:"difficulty"`
	TotalScore       float64           `json:"total_score"`
	Passed           bool              `json:"passed"`
	CompetencyScores map[string]float64 `json:"competency_scores,omitempty"`
	TimeTakenSeconds int64             `json:"time_taken_seconds"`
}

func (p ChallengeEvaluation) Validate() error {
	if p.ChallengeID == "" {
		return &ValidationError{Field: "payload.challenge_id", Reason: "required"}
	}
	if p.StudentRef == "" {
		return &ValidationError{Field: "payload.student_ref", Reason: "required"}
	}
	if p.TotalScore < 0 || p.TotalScore > 100 {
		return &ValidationError{Field: "payload.total_score", Reason: "must be in [0,100]"}
	}
	for tag, s := range p.CompetencyScores {
		if s < 0 || s > 100 {
			return &ValidationError{Field: "payload.competency_scores." + tag, Reason: "must be in [0,100]"}
		}
	}
	return nil
}

// CompetencyAssessment is the payload of a CompetencyAssessed event: a direct
// teacher-entered judgement of one competency.
type CompetencyAssessment struct {
	StudentRef string  `json:"student_ref"`
	Competency string  `json:"competency"`
	Score      float64 `json:"score"`
	Note       string  `json:"note,omitempty"`
}

func (p CompetencyAssessment) Validate() error {
	if p.StudentRef == "" {
		return &ValidationError{Field: "payload.student_ref", Reason: "required"}
	}
	if p.Competency == "" {
		return &ValidationError{Field: "payload.competency", Reason: "required"}
	}
	if p.Score < 0 || p.Score > 100 {
		return &ValidationError{Field: "payload.score", Reason: "must be in [0,100]"}
	}
	return nil
}

// ReportSummary is the payload of a ReportGenerated event, appended after
// each persisted performance-index snapshot.
type ReportSummary struct {
	StudentRef   string  `json:"student_ref"`
	SPI          float64 `json:"spi"`
	Grade        string  `json:"grade"`
	CalculatedAt int64   `json:"calculated_at"`
}

func (p ReportSummary) Validate() error {
	if p.StudentRef == "" {
		return &ValidationError{Field: "payload.student_ref", Reason: "required"}
	}
	if p.SPI < 0 || p.SPI > 100 {
		return &ValidationError{Field: "payload.spi", Reason: "must be in [0,100]"}
	}
	return nil
}

// EvaluationVoid is the compensating payload that marks an earlier evaluation
// as void. The original event is never touched.
type EvaluationVoid struct {
	StudentRef    string `json:"student_ref"`
	VoidedEventID string `json:"voided_event_id"`
	Reason        string `json:"reason"`
}

func (p EvaluationVoid) Validate() error {
	if p.StudentRef == "" {
		return &ValidationError{Field: "payload.student_ref", Reason: "required"}
	}
	if p.VoidedEventID == "" {
		return &ValidationError{Field: "payload.voided_event_id", Reason: "required"}
	}
	return nil
}

// validatePayload decodes raw payload bytes against the closed union variant
// for typ. Unknown event types and shape mismatches are ValidationErrors.
func validatePayload(typ EventType, raw json.RawMessage) error {
	if len(raw) == 0 {
		return &ValidationError{Field: "payload", Reason: "required"}
	}
	dec := func(v interface{ Validate() error }) error {
		if err := strictUnmarshal(raw, v); err != nil {
			return &ValidationError{Field: "payload", Reason: fmt.Sprintf("malformed %s payload: %v", typ, err)}
		}
		return v.Validate()
	}
	switch typ {
	case EventChallengeEvaluated:
		return dec(&ChallengeEvaluation{})
	case EventCompetencyAssessed:
		return dec(&CompetencyAssessment{})
	case EventReportGenerated:
		return dec(&ReportSummary{})
	case EventEvaluationVoided:
		return dec(&EvaluationVoid{})
	default:
		return &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", typ)}
	}
}

// strictUnmarshal decodes raw into v rejecting unknown fields, keeping the
// payload union closed: nothing rides into a hashed payload unchecked.
func strictUnmarshal(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Filter narrows a ledger query. Zero values mean "any".
type Filter struct {
	StudentRef string
	TeacherRef string
	SchoolRef  string
	Type       EventType
	From       time.Time
	To         time.Time
}

// Page controls query pagination. Results are reverse-chronological.
type Page struct {
	Limit  int
	Offset int
}

const defaultPageLimit = 50
