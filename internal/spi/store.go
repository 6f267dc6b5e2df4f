package spi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/clarion-edu/clarion-backend/internal/scoring"
)

// Snapshot is one immutable point in a learner's performance-index series.
type Snapshot struct {
	StudentRef           string             `json:"student_ref"`
	SPI                  float64            `json:"spi"`
	SPIRaw               float64            `json:"spi_raw"`
	Grade                string             `json:"grade"`
	LearningState        string             `json:"learning_state"`
	AbilityUncertainty   float64            `json:"ability_uncertainty"`
	ConceptMastery       map[string]float64 `json:"concept_mastery"`
	ChallengesConsidered int                `json:"challenges_considered"`
	Source               string             `json:"source"`
	CalculatedAt         time.Time          `json:"calculated_at"`
}

// Store persists the snapshot series and the three live projections. The
// snapshot series is append-only; projections are rebuildable caches of the
// ledger and carry a version counter so stale reads are detectable.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	mastery, err := json.Marshal(snap.ConceptMastery)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spi_snapshots
		 (student_ref,calculated_at,spi,spi_raw,grade,learning_state,ability_uncertainty,mastery_json,challenges_considered,source)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		snap.StudentRef, snap.CalculatedAt.UnixNano(), snap.SPI, snap.SPIRaw, snap.Grade,
		snap.LearningState, snap.AbilityUncertainty, string(mastery), snap.ChallengesConsidered, snap.Source)
	return err
}

// LatestSnapshot returns the newest snapshot, or ok=false when the learner
// has none yet.
func (s *Store) LatestSnapshot(ctx context.Context, studentRef string) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT student_ref,calculated_at,spi,spi_raw,grade,learning_state,ability_uncertainty,mastery_json,challenges_considered,source
		 FROM spi_snapshots WHERE student_ref=$1 ORDER BY calculated_at DESC LIMIT 1`, studentRef)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// RecentSnapshots returns up to limit snapshots, oldest first, for trend
// classification.
func (s *Store) RecentSnapshots(ctx context.Context, studentRef string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_ref,calculated_at,spi,spi_raw,grade,learning_state,ability_uncertainty,mastery_json,challenges_considered,source
		 FROM spi_snapshots WHERE student_ref=$1 ORDER BY calculated_at DESC LIMIT $2`, studentRef, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(r rowScanner) (Snapshot, error) {
	var snap Snapshot
	var calculatedAt int64
	var mastery string
	err := r.Scan(&snap.StudentRef, &calculatedAt, &snap.SPI, &snap.SPIRaw, &snap.Grade,
		&snap.LearningState, &snap.AbilityUncertainty, &mastery, &snap.ChallengesConsidered, &snap.Source)
	if err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(mastery), &snap.ConceptMastery); err != nil {
		return Snapshot{}, err
	}
	snap.CalculatedAt = time.Unix(0, calculatedAt).UTC()
	return snap, nil
}

// SaveAbility upserts the live ability projection, bumping its version.
func (s *Store) SaveAbility(ctx context.Context, studentRef string, st scoring.AbilityState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ability_states (student_ref,estimated_ability,uncertainty,version,updated_at)
		 VALUES ($1,$2,$3,1,$4)
		 ON CONFLICT (student_ref) DO UPDATE SET
		   estimated_ability=EXCLUDED.estimated_ability,
		   uncertainty=EXCLUDED.uncertainty,
		   version=ability_states.version+1,
		   updated_at=EXCLUDED.updated_at`,
		studentRef, st.Estimate, st.Uncertainty, time.Now().UnixNano())
	return err
}

// GetAbility returns the live ability projection and its version; ok=false
// when the learner has never been evaluated.
func (s *Store) GetAbility(ctx context.Context, studentRef string) (scoring.AbilityState, int64, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT estimated_ability,uncertainty,version,updated_at FROM ability_states WHERE student_ref=$1`, studentRef)
	var st scoring.AbilityState
	var version, updatedAt int64
	if err := row.Scan(&st.Estimate, &st.Uncertainty, &version, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scoring.AbilityState{}, 0, false, nil
		}
		return scoring.AbilityState{}, 0, false, err
	}
	st.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return st, version, true, nil
}

// SaveBeliefs replaces the live competency projection for one learner.
func (s *Store) SaveBeliefs(ctx context.Context, studentRef string, beliefs map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UnixNano()
	for tag, mastery := range beliefs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO competency_beliefs (student_ref,competency,mastery,updated_at)
			 VALUES ($1,$2,$3,$4)
			 ON CONFLICT (student_ref,competency) DO UPDATE SET
			   mastery=EXCLUDED.mastery, updated_at=EXCLUDED.updated_at`,
			studentRef, tag, mastery, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetBeliefs(ctx context.Context, studentRef string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT competency, mastery FROM competency_beliefs WHERE student_ref=$1`, studentRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var tag string
		var mastery float64
		if err := rows.Scan(&tag, &mastery); err != nil {
			return nil, err
		}
		out[tag] = mastery
	}
	return out, rows.Err()
}

// SaveLearningState upserts the live learning-state projection.
func (s *Store) SaveLearningState(ctx context.Context, studentRef, scope string, state scoring.LearningState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_states (student_ref,scope,state,updated_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (student_ref,scope) DO UPDATE SET
		   state=EXCLUDED.state, updated_at=EXCLUDED.updated_at`,
		studentRef, scope, string(state), time.Now().UnixNano())
	return err
}

func (s *Store) GetLearningState(ctx context.Context, studentRef, scope string) (scoring.LearningState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state FROM learning_states WHERE student_ref=$1 AND scope=$2`, studentRef, scope)
	var state string
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return scoring.LearningState(state), true, nil
}
