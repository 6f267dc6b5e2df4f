package challenge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/spi"
)

// Recalculator derives the performance index; the pipeline triggers it after
// every confirmed evaluation and never lets its failures touch the ledger
// path.
type Recalculator interface {
	CalculateSPI(ctx context.Context, studentRef string) (spi.Snapshot, error)
}

// LedgerAppender is the only ledger surface the pipeline writes through. The
// append runs inside the pipeline's transaction so the evaluation fact and
// the challenge status flip commit or fail as one.
type LedgerAppender interface {
	AppendTx(ctx context.Context, tx *sql.Tx, ev ledger.Event) (ledger.Event, error)
}

// Pipeline drives submitted challenges through grading, the ledger write and
// the asynchronous index recompute. Work for a single learner is serialized;
// different learners proceed in parallel.
type Pipeline struct {
	challenges *SQLStore
	events     LedgerAppender
	grader     *Grader
	recalc     Recalculator
	log        *zap.Logger

	spiTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*studentLock
	wg    sync.WaitGroup
}

// studentLock serializes pipeline work for one learner. Entries are
// reference-counted and dropped from the map once uncontended, so the map
// does not grow with the learner population.
type studentLock struct {
	mu   sync.Mutex
	refs int
}

func NewPipeline(challenges *SQLStore, events LedgerAppender, grader *Grader,
	recalc Recalculator, spiTimeout time.Duration, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if spiTimeout <= 0 {
		spiTimeout = 15 * time.Second
	}
	return &Pipeline{
		challenges: challenges,
		events:     events,
		grader:     grader,
		recalc:     recalc,
		log:        log,
		spiTimeout: spiTimeout,
		locks:      map[string]*studentLock{},
	}
}

func (p *Pipeline) lockStudent(studentRef string) *studentLock {
	p.mu.Lock()
	l, ok := p.locks[studentRef]
	if !ok {
		l = &studentLock{}
		p.locks[studentRef] = l
	}
	l.refs++
	p.mu.Unlock()
	l.mu.Lock()
	return l
}

func (p *Pipeline) unlockStudent(studentRef string, l *studentLock) {
	l.mu.Unlock()
	p.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, studentRef)
	}
	p.mu.Unlock()
}

// Evaluate grades one submitted challenge, appends exactly one
// ChallengeEvaluated fact and schedules the index recompute. A challenge that
// was already evaluated returns a DuplicateEvaluationError, which callers
// log and treat as success: the single existing result stands.
//
// Ordering matters: grading happens before the compare-and-set, so a lost
// race costs a wasted grading pass but can never double-write the ledger.
func (p *Pipeline) Evaluate(ctx context.Context, challengeID string, actor Actor) (ledger.Event, error) {
	c, err := p.challenges.Get(ctx, challengeID)
	if err != nil {
		return ledger.Event{}, err
	}

	lock := p.lockStudent(c.StudentRef)
	defer p.unlockStudent(c.StudentRef, lock)

	c, err = p.challenges.Get(ctx, challengeID)
	if err != nil {
		return ledger.Event{}, err
	}
	if c.Status == StatusEvaluated {
		return ledger.Event{}, &DuplicateEvaluationError{ChallengeID: challengeID}
	}
	if c.Status != StatusSubmitted {
		return ledger.Event{}, fmt.Errorf("challenge %s is %s, not submitted", challengeID, c.Status)
	}

	timeTaken := int64(0)
	if c.SubmittedAt != nil {
		timeTaken = int64(c.SubmittedAt.Sub(c.CreatedAt).Seconds())
	}
	eval, err := p.grader.GradeChallenge(ctx, c, timeTaken)
	if err != nil {
		return ledger.Event{}, fmt.Errorf("grade challenge %s: %w", challengeID, err)
	}

	payload, err := json.Marshal(eval)
	if err != nil {
		return ledger.Event{}, err
	}
	hash, err := ledger.ContentHash(payload)
	if err != nil {
		return ledger.Event{}, err
	}

	// Status flip and ledger fact commit atomically: a failed append rolls
	// the challenge back to submitted, so a retry can still produce the
	// result instead of tripping the duplicate guard forever.
	tx, err := p.challenges.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Event{}, err
	}
	defer tx.Rollback()
	if err := p.challenges.MarkEvaluatedTx(ctx, tx, challengeID); err != nil {
		return ledger.Event{}, err
	}
	ev, err := p.events.AppendTx(ctx, tx, ledger.Event{
		Type:          ledger.EventChallengeEvaluated,
		StudentRef:    c.StudentRef,
		Payload:       payload,
		CreatedBy:     actor.ID,
		CreatedByRole: actor.Role,
		IPAddress:     actor.IPAddress,
		UserAgent:     actor.UserAgent,
		ContentHash:   hash,
	})
	if err != nil {
		return ledger.Event{}, fmt.Errorf("append evaluation fact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Event{}, err
	}

	p.scheduleRecompute(c.StudentRef)
	return ev, nil
}

// scheduleRecompute runs the index recompute off the request path with its
// own timeout budget and one delayed retry. A failed recompute is only
// logged: the ledger is the source of truth and the last snapshot stays
// visible until the next successful run.
func (p *Pipeline) scheduleRecompute(studentRef string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for attempt := 0; attempt < 2; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), p.spiTimeout)
			_, err := p.recalc.CalculateSPI(ctx, studentRef)
			cancel()
			if err == nil {
				return
			}
			p.log.Warn("spi recompute failed",
				zap.String("student", studentRef),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			time.Sleep(time.Second)
		}
	}()
}

// Wait blocks until scheduled recomputes have drained. Used for shutdown and
// tests.
func (p *Pipeline) Wait() { p.wg.Wait() }

// IsDuplicate reports whether err is the idempotency trip, which callers
// treat as success.
func IsDuplicate(err error) bool {
	var dup *DuplicateEvaluationError
	return errors.As(err, &dup)
}
