package challenge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists challenges across the generated→evaluated lifecycle.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Create(ctx context.Context, c Challenge) (Challenge, error) {
	if c.StudentRef == "" {
		return Challenge{}, fmt.Errorf("student_ref required")
	}
	if len(c.Questions) == 0 {
		return Challenge{}, fmt.Errorf("at least one question required")
	}
	qj, err := json.Marshal(c.Questions)
	if err != nil {
		return Challenge{}, err
	}
	c.ID = uuid.NewString()
	c.Status = StatusGenerated
	c.CreatedAt = time.Now().UTC()
	if c.Responses == nil {
		c.Responses = map[string]Response{}
	}
	rj, _ := json.Marshal(c.Responses)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO challenges (id,student_ref,topic,difficulty,questions_json,responses_json,status,version,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8)`,
		c.ID, c.StudentRef, c.Topic, c.Difficulty, string(qj), string(rj), c.Status, c.CreatedAt.Unix())
	if err != nil {
		return Challenge{}, err
	}
	return c, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Challenge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,student_ref,topic,difficulty,questions_json,responses_json,status,version,created_at,submitted_at,evaluated_at
		 FROM challenges WHERE id=$1`, id)
	var c Challenge
	var qj, rj string
	var createdAt int64
	var submittedAt, evaluatedAt sql.NullInt64
	err := row.Scan(&c.ID, &c.StudentRef, &c.Topic, &c.Difficulty, &qj, &rj, &c.Status, &c.Version, &createdAt, &submittedAt, &evaluatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Challenge{}, fmt.Errorf("challenge %s not found", id)
	}
	if err != nil {
		return Challenge{}, err
	}
	if err := json.Unmarshal([]byte(qj), &c.Questions); err != nil {
		return Challenge{}, err
	}
	if err := json.Unmarshal([]byte(rj), &c.Responses); err != nil {
		c.Responses = map[string]Response{}
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	if submittedAt.Valid {
		t := time.Unix(submittedAt.Int64, 0).UTC()
		c.SubmittedAt = &t
	}
	if evaluatedAt.Valid {
		t := time.Unix(evaluatedAt.Int64, 0).UTC()
		c.EvaluatedAt = &t
	}
	return c, nil
}

// SaveResponses merges answers into an open challenge, moving it to
// in_progress on first save.
func (s *SQLStore) SaveResponses(ctx context.Context, id string, resp map[string]Response) (Challenge, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Challenge{}, err
	}
	if c.Status == StatusSubmitted || c.Status == StatusEvaluated {
		return Challenge{}, fmt.Errorf("challenge %s already %s", id, c.Status)
	}
	for qid, r := range resp {
		c.Responses[qid] = r
	}
	rj, _ := json.Marshal(c.Responses)
	_, err = s.db.ExecContext(ctx,
		`UPDATE challenges SET responses_json=$1, status=$2, version=version+1 WHERE id=$3`,
		string(rj), StatusInProgress, id)
	if err != nil {
		return Challenge{}, err
	}
	return s.Get(ctx, id)
}

// Submit closes the answer window. Submitting twice is a no-op.
func (s *SQLStore) Submit(ctx context.Context, id string) (Challenge, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Challenge{}, err
	}
	if c.Status == StatusSubmitted || c.Status == StatusEvaluated {
		return c, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE challenges SET status=$1, submitted_at=$2, version=version+1 WHERE id=$3 AND status IN ($4,$5)`,
		StatusSubmitted, time.Now().Unix(), id, StatusGenerated, StatusInProgress)
	if err != nil {
		return Challenge{}, err
	}
	return s.Get(ctx, id)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// MarkEvaluated is the compare-and-set guarding against double evaluation:
// only a challenge still in submitted state transitions. Zero rows affected
// means another evaluation won the race (or already finished), which
// surfaces as a DuplicateEvaluationError.
func (s *SQLStore) MarkEvaluated(ctx context.Context, id string) error {
	return markEvaluated(ctx, s.db, id)
}

// MarkEvaluatedTx runs the same compare-and-set inside a caller-owned
// transaction, so the status flip commits together with the ledger fact.
func (s *SQLStore) MarkEvaluatedTx(ctx context.Context, tx *sql.Tx, id string) error {
	return markEvaluated(ctx, tx, id)
}

func markEvaluated(ctx context.Context, db execer, id string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE challenges SET status=$1, evaluated_at=$2, version=version+1 WHERE id=$3 AND status=$4`,
		StatusEvaluated, time.Now().Unix(), id, StatusSubmitted)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &DuplicateEvaluationError{ChallengeID: id}
	}
	return nil
}
