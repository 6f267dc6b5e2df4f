package scoring

import (
	"errors"
	"math"
	"testing"
	"testing/quick"
)

func testController() DifficultyController {
	return NewDifficultyController(0.5, 0.1, 0.2)
}

func TestPIDNeutralWithoutHistory(t *testing.T) {
	rec, _, err := testController().Replay(nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Difficulty != DifficultyMedium {
		t.Fatalf("expected medium without history, got %s", rec.Difficulty)
	}
	if rec.Confidence >= 0.5 {
		t.Fatalf("expected low confidence without history, got %v", rec.Confidence)
	}
}

func TestPIDSteersTowardTarget(t *testing.T) {
	c := testController()

	// Consistently weak performance eases the next challenge.
	rec, _, err := c.Replay([]float64{20, 25, 15, 30})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Difficulty != DifficultyEasy || rec.Adjustment <= 0 {
		t.Fatalf("weak learner: got %+v", rec)
	}

	// Consistently strong performance hardens it.
	rec, _, err = c.Replay([]float64{98, 100, 97, 99})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Difficulty != DifficultyHard || rec.Adjustment >= 0 {
		t.Fatalf("strong learner: got %+v", rec)
	}

	// Performance at target stays on medium.
	rec, _, err = c.Replay([]float64{75, 75, 75})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Difficulty != DifficultyMedium {
		t.Fatalf("on-target learner: got %+v", rec)
	}
}

func TestPIDIntegralAntiWindup(t *testing.T) {
	c := testController()

	// Hammer the controller with extreme errors in both directions.
	st := PIDState{}
	var err error
	for i := 0; i < 1000; i++ {
		_, st, err = c.Step(st, 0)
		if err != nil {
			t.Fatal(err)
		}
		if st.Integral < integralMin || st.Integral > integralMax {
			t.Fatalf("integral escaped bounds: %v", st.Integral)
		}
	}
	if st.Integral != integralMax {
		t.Fatalf("expected saturated integral %v, got %v", integralMax, st.Integral)
	}
	for i := 0; i < 1000; i++ {
		_, st, err = c.Step(st, 100)
		if err != nil {
			t.Fatal(err)
		}
		if st.Integral < integralMin || st.Integral > integralMax {
			t.Fatalf("integral escaped bounds: %v", st.Integral)
		}
	}

	f := func(raw []uint8) bool {
		st := PIDState{}
		for _, r := range raw {
			var err error
			_, st, err = c.Step(st, float64(r)*100/255)
			if err != nil {
				return false
			}
			if st.Integral < integralMin || st.Integral > integralMax {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestPIDConfidenceGrowsWithHistory(t *testing.T) {
	c := testController()
	short, _, _ := c.Replay([]float64{75})
	long, _, _ := c.Replay([]float64{75, 75, 75, 75, 75, 75})
	if long.Confidence <= short.Confidence {
		t.Fatalf("confidence should grow with history: %v vs %v", short.Confidence, long.Confidence)
	}
	if long.Confidence > 0.95 {
		t.Fatalf("confidence must saturate at 0.95, got %v", long.Confidence)
	}
}

func TestPIDRejectsBadInput(t *testing.T) {
	c := testController()
	for _, perf := range []float64{-0.1, 100.1, math.NaN(), math.Inf(-1)} {
		_, _, err := c.Step(PIDState{}, perf)
		var derr *NumericDomainError
		if !errors.As(err, &derr) {
			t.Errorf("perf=%v: expected NumericDomainError, got %v", perf, err)
		}
	}
}
