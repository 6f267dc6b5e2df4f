package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the append-only SQL ledger. It exposes no update or delete; the
// only mutation is Append, and a confirmed row is never touched again.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Append validates, hashes and persists one event, returning it with the
// server-assigned id, sequence and timestamp. Events of one learner form a
// hash chain: each confirmed event records the content hash of its
// predecessor, so deletion and reordering are detectable, not just payload
// tampering.
func (s *Store) Append(ctx context.Context, ev Event) (Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, err
	}
	defer tx.Rollback()
	ev, err = s.AppendTx(ctx, tx, ev)
	if err != nil {
		return Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// AppendTx is Append inside a caller-owned transaction, for writes that must
// commit atomically with other state (the evaluation pipeline pairs it with
// the challenge status flip). The caller commits or rolls back.
func (s *Store) AppendTx(ctx context.Context, tx *sql.Tx, ev Event) (Event, error) {
	if ev.Type == "" {
		return Event{}, &ValidationError{Field: "event_type", Reason: "required"}
	}
	if ev.CreatedBy == "" || ev.CreatedByRole == "" {
		return Event{}, &ValidationError{Field: "created_by", Reason: "actor identity required"}
	}
	if err := validatePayload(ev.Type, ev.Payload); err != nil {
		return Event{}, err
	}
	want, err := ContentHash(ev.Payload)
	if err != nil {
		return Event{}, &ValidationError{Field: "payload", Reason: "not canonicalizable: " + err.Error()}
	}
	if ev.ContentHash == "" {
		return Event{}, &ValidationError{Field: "content_hash", Reason: "required"}
	}
	if ev.ContentHash != want {
		return Event{}, &ValidationError{Field: "content_hash", Reason: "does not match payload"}
	}
	if ev.Status == "" {
		ev.Status = StatusConfirmed
	}

	// Chain link: last confirmed event of the same learner.
	var prevSeq int64
	var prevHash string
	row := tx.QueryRowContext(ctx,
		`SELECT seq, content_hash FROM ledger_events
		 WHERE student_ref=$1 AND status='confirmed'
		 ORDER BY seq DESC LIMIT 1`, ev.StudentRef)
	if err := row.Scan(&prevSeq, &prevHash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Event{}, err
	}

	ev.ID = uuid.NewString()
	ev.Seq = prevSeq + 1
	ev.PrevHash = prevHash
	ev.Timestamp = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_events
		 (id,event_type,student_ref,teacher_ref,school_ref,payload_json,created_by,created_by_role,
		  ip_address,user_agent,content_hash,prev_hash,seq,status,ts)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		ev.ID, string(ev.Type), ev.StudentRef, ev.TeacherRef, ev.SchoolRef, string(ev.Payload),
		ev.CreatedBy, ev.CreatedByRole, ev.IPAddress, ev.UserAgent,
		ev.ContentHash, ev.PrevHash, ev.Seq, string(ev.Status), ev.Timestamp.UnixNano())
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

const eventColumns = `id,event_type,student_ref,teacher_ref,school_ref,payload_json,created_by,created_by_role,
 ip_address,user_agent,content_hash,prev_hash,seq,status,ts`

// Query filters events, paginated, newest first.
func (s *Store) Query(ctx context.Context, f Filter, p Page) ([]Event, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.StudentRef != "" {
		add("student_ref=$%d", f.StudentRef)
	}
	if f.TeacherRef != "" {
		add("teacher_ref=$%d", f.TeacherRef)
	}
	if f.SchoolRef != "" {
		add("school_ref=$%d", f.SchoolRef)
	}
	if f.Type != "" {
		add("event_type=$%d", string(f.Type))
	}
	if !f.From.IsZero() {
		add("ts>=$%d", f.From.UnixNano())
	}
	if !f.To.IsZero() {
		add("ts<=$%d", f.To.UnixNano())
	}

	q := "SELECT " + eventColumns + " FROM ledger_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY ts DESC, seq DESC LIMIT $%d", len(args))
	args = append(args, p.Offset)
	q += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Get fetches one event by id.
func (s *Store) Get(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM ledger_events WHERE id=$1", id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("event %s not found", id)
	}
	return ev, err
}

// GetMany fetches events by id, preserving the requested order.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]Event, error) {
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		ev, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// ConfirmedByStudent returns a learner's confirmed events in chain order
// (oldest first). This is the replay feed for the scoring engine and the
// input to chain verification.
func (s *Store) ConfirmedByStudent(ctx context.Context, studentRef string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+` FROM ledger_events
		 WHERE student_ref=$1 AND status='confirmed'
		 ORDER BY seq ASC`, studentRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(r rowScanner) (Event, error) {
	var ev Event
	var typ, status, payload string
	var ts int64
	err := r.Scan(&ev.ID, &typ, &ev.StudentRef, &ev.TeacherRef, &ev.SchoolRef, &payload,
		&ev.CreatedBy, &ev.CreatedByRole, &ev.IPAddress, &ev.UserAgent,
		&ev.ContentHash, &ev.PrevHash, &ev.Seq, &status, &ts)
	if err != nil {
		return Event{}, err
	}
	ev.Type = EventType(typ)
	ev.Status = Status(status)
	ev.Payload = []byte(payload)
	ev.Timestamp = time.Unix(0, ts).UTC()
	return ev, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
