package spi

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/clarion-edu/clarion-backend/internal/db"
	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/scoring"
)

func defaultWeights() Weights {
	return Weights{Challenge: 0.60, Competency: 0.25, Consistency: 0.15}
}

func newTestAggregator(t *testing.T) (*Aggregator, *ledger.Store, *Store) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "spi.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	events := ledger.NewStore(dbh)
	store := NewStore(dbh)
	agg := NewAggregator(events, store, scoring.NewAbilityEstimator(5, 15),
		scoring.NewDifficultyController(0.5, 0.1, 0.2), defaultWeights(), zap.NewNop())
	return agg, events, store
}

func appendEvaluation(t *testing.T, events *ledger.Store, student, challengeID string, score float64, competencies map[string]float64) ledger.Event {
	t.Helper()
	raw, err := json.Marshal(ledger.ChallengeEvaluation{
		ChallengeID:      challengeID,
		StudentRef:       student,
		Topic:            "energy",
		Difficulty:       "medium",
		TotalScore:       score,
		Passed:           score >= 50,
		CompetencyScores: competencies,
		TimeTakenSeconds: 300,
	})
	if err != nil {
		t.Fatal(err)
	}
	hash, err := ledger.ContentHash(raw)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := events.Append(context.Background(), ledger.Event{
		Type:          ledger.EventChallengeEvaluated,
		StudentRef:    student,
		Payload:       raw,
		CreatedBy:     "pipeline",
		CreatedByRole: "system",
		ContentHash:   hash,
	})
	if err != nil {
		t.Fatalf("append evaluation: %v", err)
	}
	return ev
}

func TestCalculateSPISingleEvaluation(t *testing.T) {
	agg, events, store := newTestAggregator(t)
	ctx := context.Background()
	appendEvaluation(t, events, "stu-1", "ch-1", 80, map[string]float64{"critical-thinking": 90})

	snap, err := agg.CalculateSPI(ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}

	// Kalman worked example: one score of 80 from the prior ⇒ x=76.25.
	// Competency worked example: one 90 on an unseen tag ⇒ 58.
	// One score ⇒ consistency 100.
	wantRaw := 0.60*76.25 + 0.25*58 + 0.15*100
	if math.Abs(snap.SPIRaw-wantRaw) > 1e-9 {
		t.Fatalf("spi raw: got %v want %v", snap.SPIRaw, wantRaw)
	}
	if snap.SPI < 0 || snap.SPI > 100 {
		t.Fatalf("spi out of range: %v", snap.SPI)
	}
	if snap.ChallengesConsidered != 1 {
		t.Fatalf("challenges considered: %d", snap.ChallengesConsidered)
	}
	if math.Abs(snap.AbilityUncertainty-13.125) > 1e-9 {
		t.Fatalf("uncertainty: got %v want 13.125", snap.AbilityUncertainty)
	}

	// Live projections refreshed.
	ability, version, ok, err := store.GetAbility(ctx, "stu-1")
	if err != nil || !ok {
		t.Fatalf("ability projection missing: %v", err)
	}
	if math.Abs(ability.Estimate-76.25) > 1e-9 || version != 1 {
		t.Fatalf("ability projection: %+v v%d", ability, version)
	}
	beliefs, err := store.GetBeliefs(ctx, "stu-1")
	if err != nil || math.Abs(beliefs["critical-thinking"]-58) > 1e-9 {
		t.Fatalf("belief projection: %v %v", beliefs, err)
	}
	state, ok, err := store.GetLearningState(ctx, "stu-1", "global")
	if err != nil || !ok || state != scoring.ClassifyPerformance(snap.SPI) {
		t.Fatalf("learning state projection: %v %v %v", state, ok, err)
	}

	// A report fact lands in the ledger.
	reports, err := events.Query(ctx, ledger.Filter{StudentRef: "stu-1", Type: ledger.EventReportGenerated}, ledger.Page{})
	if err != nil || len(reports) != 1 {
		t.Fatalf("expected one report fact, got %d (%v)", len(reports), err)
	}
}

func TestCalculateSPIIsReplayable(t *testing.T) {
	agg, events, _ := newTestAggregator(t)
	ctx := context.Background()
	for i, score := range []float64{55, 70, 82, 64} {
		appendEvaluation(t, events, "stu-1", "ch-"+string(rune('a'+i)), score,
			map[string]float64{"analysis": score})
	}

	first, err := agg.CalculateSPI(ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := agg.CalculateSPI(ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.SPI != second.SPI || first.SPIRaw != second.SPIRaw || first.Grade != second.Grade {
		t.Fatalf("recompute must be idempotent: %+v vs %+v", first, second)
	}
	if first.AbilityUncertainty != second.AbilityUncertainty {
		t.Fatalf("replayed uncertainty drifted: %v vs %v", first.AbilityUncertainty, second.AbilityUncertainty)
	}

	// Projection version counts both recomputes.
	_, version, _, err := agg.store.GetAbility(ctx, "stu-1")
	if err != nil || version != 2 {
		t.Fatalf("expected projection version 2, got %d (%v)", version, err)
	}
}

func TestVoidedEvaluationIsExcluded(t *testing.T) {
	agg, events, _ := newTestAggregator(t)
	ctx := context.Background()
	appendEvaluation(t, events, "stu-1", "ch-1", 80, nil)
	bad := appendEvaluation(t, events, "stu-1", "ch-2", 5, nil)

	before, err := agg.CalculateSPI(ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}

	// Compensating void event, never a mutation of the original.
	raw, _ := json.Marshal(ledger.EvaluationVoid{StudentRef: "stu-1", VoidedEventID: bad.ID, Reason: "grading error"})
	hash, _ := ledger.ContentHash(raw)
	if _, err := events.Append(ctx, ledger.Event{
		Type: ledger.EventEvaluationVoided, StudentRef: "stu-1", Payload: raw,
		CreatedBy: "teacher-1", CreatedByRole: "teacher", ContentHash: hash,
	}); err != nil {
		t.Fatal(err)
	}

	after, err := agg.CalculateSPI(ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}
	if after.ChallengesConsidered != 1 {
		t.Fatalf("voided evaluation still considered: %+v", after)
	}
	if after.SPI <= before.SPI {
		t.Fatalf("voiding the bad score should raise the index: %v -> %v", before.SPI, after.SPI)
	}
}

func TestGradeBoundariesExact(t *testing.T) {
	cases := []struct {
		index float64
		want  string
	}{
		{100, "A+"}, {90.0, "A+"}, {89.99, "A"}, {80, "A"},
		{79.99, "B"}, {70, "B"}, {69.99, "C"}, {60, "C"},
		{59.99, "D"}, {50, "D"}, {49.99, "F"}, {0, "F"},
	}
	for _, tc := range cases {
		if got := GradeFor(tc.index); got != tc.want {
			t.Errorf("GradeFor(%v): got %s want %s", tc.index, got, tc.want)
		}
	}
}

func TestConsistencyScore(t *testing.T) {
	if got := consistencyScore(nil); got != 100 {
		t.Fatalf("no scores: got %v", got)
	}
	if got := consistencyScore([]float64{70}); got != 100 {
		t.Fatalf("single score: got %v", got)
	}
	steady := consistencyScore([]float64{70, 71, 69, 70})
	erratic := consistencyScore([]float64{20, 95, 30, 90})
	if steady <= erratic {
		t.Fatalf("steady %v should beat erratic %v", steady, erratic)
	}
	if erratic < 0 || steady > 100 {
		t.Fatalf("consistency out of range: %v %v", erratic, steady)
	}
}

func TestTrendFromSnapshots(t *testing.T) {
	agg, events, _ := newTestAggregator(t)
	ctx := context.Background()

	for i, score := range []float64{40, 60, 80, 95} {
		appendEvaluation(t, events, "stu-1", "ch-"+string(rune('a'+i)), score, nil)
		if _, err := agg.CalculateSPI(ctx, "stu-1"); err != nil {
			t.Fatal(err)
		}
	}
	trend, err := agg.Trend(ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}
	if trend != scoring.TrendImproving {
		t.Fatalf("expected improving trend, got %s", trend)
	}
}

func TestDifficultyFromLedgerHistory(t *testing.T) {
	agg, events, _ := newTestAggregator(t)
	ctx := context.Background()

	// No history yet: neutral PID recommendation, prior-ability IRT pick.
	rec, err := agg.RecommendedDifficulty(ctx, "stu-new")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Difficulty != scoring.DifficultyMedium || rec.Confidence >= 0.5 {
		t.Fatalf("cold start: %+v", rec)
	}

	for i, score := range []float64{15, 20, 10, 25} {
		appendEvaluation(t, events, "stu-1", "ch-"+string(rune('a'+i)), score, nil)
	}
	rec, err = agg.RecommendedDifficulty(ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Difficulty != scoring.DifficultyEasy {
		t.Fatalf("struggling learner: %+v", rec)
	}

	sel, err := agg.OptimalDifficulty(ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Difficulty != scoring.DifficultyEasy {
		t.Fatalf("irt pick for struggling learner: %+v", sel)
	}
	if sel.AbilityEstimate >= 50 {
		t.Fatalf("ability should have dropped below the prior: %v", sel.AbilityEstimate)
	}
}
