package spi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/scoring"
)

// consistencyWindow bounds how many recent scores feed the consistency
// component.
const consistencyWindow = 10

// Weights combine the three components into one index. Validated at startup
// to sum to one.
type Weights struct {
	Challenge   float64
	Competency  float64
	Consistency float64
}

// EventSource is the ledger surface the aggregator needs: the confirmed
// replay feed plus the ability to append its own report fact. It never
// mutates existing events.
type EventSource interface {
	ConfirmedByStudent(ctx context.Context, studentRef string) ([]ledger.Event, error)
	Append(ctx context.Context, ev ledger.Event) (ledger.Event, error)
}

// Aggregator derives the full read model for one learner from the confirmed
// ledger history and persists an immutable snapshot. Everything it computes
// is replayable from the ledger alone.
type Aggregator struct {
	events    EventSource
	store     *Store
	estimator scoring.AbilityEstimator
	pid       scoring.DifficultyController
	weights   Weights
	log       *zap.Logger
}

func NewAggregator(events EventSource, store *Store, estimator scoring.AbilityEstimator,
	pid scoring.DifficultyController, weights Weights, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		events:    events,
		store:     store,
		estimator: estimator,
		pid:       pid,
		weights:   weights,
		log:       log,
	}
}

// replayState is the scoring state rebuilt from one pass over the ledger.
type replayState struct {
	scores  []float64
	ability scoring.AbilityState
	network *scoring.CompetencyNetwork
}

// replay folds a learner's confirmed history into fresh scoring state,
// honoring compensating void events.
func (a *Aggregator) replay(ctx context.Context, studentRef string) (replayState, error) {
	events, err := a.events.ConfirmedByStudent(ctx, studentRef)
	if err != nil {
		return replayState{}, err
	}

	voided := map[string]bool{}
	for _, ev := range events {
		if ev.Type != ledger.EventEvaluationVoided {
			continue
		}
		var p ledger.EvaluationVoid
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			voided[p.VoidedEventID] = true
		}
	}

	st := replayState{network: scoring.NewCompetencyNetwork()}
	st.ability = a.estimator.Init()
	for _, ev := range events {
		if voided[ev.ID] {
			continue
		}
		switch ev.Type {
		case ledger.EventChallengeEvaluated:
			var p ledger.ChallengeEvaluation
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return replayState{}, fmt.Errorf("replay event %s: %w", ev.ID, err)
			}
			st.ability, err = a.estimator.Update(st.ability, p.TotalScore)
			if err != nil {
				return replayState{}, fmt.Errorf("replay event %s: %w", ev.ID, err)
			}
			st.scores = append(st.scores, p.TotalScore)
			for tag, score := range p.CompetencyScores {
				if err := st.network.Observe(tag, score); err != nil {
					return replayState{}, fmt.Errorf("replay event %s: %w", ev.ID, err)
				}
			}
		case ledger.EventCompetencyAssessed:
			var p ledger.CompetencyAssessment
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return replayState{}, fmt.Errorf("replay event %s: %w", ev.ID, err)
			}
			if err := st.network.Observe(p.Competency, p.Score); err != nil {
				return replayState{}, fmt.Errorf("replay event %s: %w", ev.ID, err)
			}
		}
	}
	return st, nil
}

// CalculateSPI rebuilds the learner's state from the ledger, combines it into
// a single index, persists an immutable snapshot, refreshes the live
// projections and appends a report fact. Recomputation is idempotent: the
// same ledger history yields the same index.
func (a *Aggregator) CalculateSPI(ctx context.Context, studentRef string) (Snapshot, error) {
	st, err := a.replay(ctx, studentRef)
	if err != nil {
		return Snapshot{}, err
	}

	challengeComponent := st.ability.Estimate
	competencyComponent := st.network.Mean()
	consistencyComponent := consistencyScore(st.scores)

	raw := a.weights.Challenge*challengeComponent +
		a.weights.Competency*competencyComponent +
		a.weights.Consistency*consistencyComponent
	index := clampIndex(raw)
	state := scoring.ClassifyPerformance(index)

	snap := Snapshot{
		StudentRef:           studentRef,
		SPI:                  index,
		SPIRaw:               raw,
		Grade:                GradeFor(index),
		LearningState:        string(state),
		AbilityUncertainty:   st.ability.Uncertainty,
		ConceptMastery:       st.network.Snapshot(),
		ChallengesConsidered: len(st.scores),
		Source:               "ledger-replay",
		CalculatedAt:         time.Now().UTC(),
	}

	if err := a.store.SaveSnapshot(ctx, snap); err != nil {
		return Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	if err := a.store.SaveAbility(ctx, studentRef, st.ability); err != nil {
		return Snapshot{}, fmt.Errorf("persist ability projection: %w", err)
	}
	if err := a.store.SaveBeliefs(ctx, studentRef, st.network.Snapshot()); err != nil {
		return Snapshot{}, fmt.Errorf("persist belief projection: %w", err)
	}
	if err := a.store.SaveLearningState(ctx, studentRef, "global", state); err != nil {
		return Snapshot{}, fmt.Errorf("persist learning state: %w", err)
	}

	a.appendReportFact(ctx, snap)
	return snap, nil
}

// appendReportFact records the report in the ledger. Failure here is logged
// and dropped: the snapshot is already durable and the fact can be emitted on
// the next recompute.
func (a *Aggregator) appendReportFact(ctx context.Context, snap Snapshot) {
	payload, err := json.Marshal(ledger.ReportSummary{
		StudentRef:   snap.StudentRef,
		SPI:          snap.SPI,
		Grade:        snap.Grade,
		CalculatedAt: snap.CalculatedAt.UnixNano(),
	})
	if err != nil {
		a.log.Error("marshal report fact", zap.Error(err))
		return
	}
	hash, err := ledger.ContentHash(payload)
	if err != nil {
		a.log.Error("hash report fact", zap.Error(err))
		return
	}
	_, err = a.events.Append(ctx, ledger.Event{
		Type:          ledger.EventReportGenerated,
		StudentRef:    snap.StudentRef,
		Payload:       payload,
		CreatedBy:     "spi-aggregator",
		CreatedByRole: "system",
		ContentHash:   hash,
	})
	if err != nil {
		a.log.Error("append report fact", zap.String("student", snap.StudentRef), zap.Error(err))
	}
}

// Trend classifies the learner's longitudinal SPI direction from recent
// snapshots.
func (a *Aggregator) Trend(ctx context.Context, studentRef string) (scoring.Trend, error) {
	snaps, err := a.store.RecentSnapshots(ctx, studentRef, 5)
	if err != nil {
		return "", err
	}
	history := make([]float64, len(snaps))
	for i, s := range snaps {
		history[i] = s.SPI
	}
	return scoring.ClassifyTrend(history), nil
}

// RecommendedDifficulty replays recent performance through the PID loop.
func (a *Aggregator) RecommendedDifficulty(ctx context.Context, studentRef string) (scoring.Recommendation, error) {
	st, err := a.replay(ctx, studentRef)
	if err != nil {
		return scoring.Recommendation{}, err
	}
	history := st.scores
	if len(history) > consistencyWindow {
		history = history[len(history)-consistencyWindow:]
	}
	rec, _, err := a.pid.Replay(history)
	return rec, err
}

// OptimalDifficulty picks the flow-zone tier from the current ability
// estimate.
func (a *Aggregator) OptimalDifficulty(ctx context.Context, studentRef string) (scoring.TierSelection, error) {
	st, err := a.replay(ctx, studentRef)
	if err != nil {
		return scoring.TierSelection{}, err
	}
	return scoring.SelectOptimalDifficulty(st.ability.Estimate)
}

// GradeFor maps an index to its letter grade. Bands are fixed: the lower
// bound is inclusive, so exactly 90.0 is an A+ and 89.99 an A.
func GradeFor(index float64) string {
	switch {
	case index >= 90:
		return "A+"
	case index >= 80:
		return "A"
	case index >= 70:
		return "B"
	case index >= 60:
		return "C"
	case index >= 50:
		return "D"
	default:
		return "F"
	}
}

// consistencyScore rewards steady recent performance: 100 minus twice the
// standard deviation of the last few scores, floored at zero. One score or
// none is perfectly consistent.
func consistencyScore(scores []float64) float64 {
	if len(scores) > consistencyWindow {
		scores = scores[len(scores)-consistencyWindow:]
	}
	if len(scores) < 2 {
		return 100
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	var sq float64
	for _, s := range scores {
		sq += (s - mean) * (s - mean)
	}
	sd := math.Sqrt(sq / float64(len(scores)))
	return clampIndex(100 - 2*sd)
}

func clampIndex(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
