package scoring

import "math"

// Difficulty tiers recommended to the challenge generator.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

const (
	// TargetPerformance is the setpoint the controller steers toward.
	TargetPerformance = 75.0

	// Anti-windup bounds on the integral accumulator.
	integralMin = -50.0
	integralMax = 50.0

	// tierDeadband: adjustments inside ±10 stay on medium.
	tierDeadband = 10.0
)

// PIDState is the controller memory for one learner. It is replayed from
// evaluation history, so a lost state is recoverable from the ledger.
type PIDState struct {
	Integral  float64 `json:"integral"`
	PrevError float64 `json:"prev_error"`
	Samples   int     `json:"samples"`
}

// Recommendation is a discrete difficulty with the raw adjustment that
// produced it and a confidence that grows with history.
type Recommendation struct {
	Difficulty string  `json:"difficulty"`
	Adjustment float64 `json:"adjustment"`
	Confidence float64 `json:"confidence"`
}

// DifficultyController is a PID loop over performance error. A learner
// scoring below target produces a positive adjustment, which eases the next
// challenge; scoring above target hardens it.
type DifficultyController struct {
	Kp float64
	Ki float64
	Kd float64
}

func NewDifficultyController(kp, ki, kd float64) DifficultyController {
	return DifficultyController{Kp: kp, Ki: ki, Kd: kd}
}

// Step folds one performance sample in [0,100] into the state and returns the
// next recommendation. The integral accumulator is clamped to [−50,50] no
// matter how many consecutive extreme errors arrive.
func (c DifficultyController) Step(st PIDState, performance float64) (Recommendation, PIDState, error) {
	if math.IsNaN(performance) || math.IsInf(performance, 0) {
		return Recommendation{}, st, &NumericDomainError{Value: performance, Reason: "performance must be finite"}
	}
	if performance < 0 || performance > 100 {
		return Recommendation{}, st, &NumericDomainError{Value: performance, Reason: "performance must be in [0,100]"}
	}

	errTerm := TargetPerformance - performance
	p := c.Kp * errTerm
	st.Integral = clampIntegral(st.Integral + errTerm)
	i := c.Ki * st.Integral
	d := c.Kd * (errTerm - st.PrevError)
	st.PrevError = errTerm
	st.Samples++

	adj := p + i + d
	return Recommendation{
		Difficulty: tierFor(adj),
		Adjustment: adj,
		Confidence: confidenceFor(st.Samples),
	}, st, nil
}

// Replay runs a full performance history through the controller from zero
// state and returns the final recommendation. With no history it returns the
// neutral medium recommendation at low confidence rather than failing.
func (c DifficultyController) Replay(history []float64) (Recommendation, PIDState, error) {
	st := PIDState{}
	if len(history) == 0 {
		return Recommendation{Difficulty: DifficultyMedium, Confidence: confidenceFor(0)}, st, nil
	}
	var rec Recommendation
	var err error
	for _, perf := range history {
		rec, st, err = c.Step(st, perf)
		if err != nil {
			return Recommendation{}, PIDState{}, err
		}
	}
	return rec, st, nil
}

func tierFor(adjustment float64) string {
	switch {
	case adjustment > tierDeadband:
		return DifficultyEasy
	case adjustment < -tierDeadband:
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// confidenceFor grows with sample count and saturates at 0.95.
func confidenceFor(samples int) float64 {
	conf := 0.25 + 0.1*float64(samples)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func clampIntegral(v float64) float64 {
	if v < integralMin {
		return integralMin
	}
	if v > integralMax {
		return integralMax
	}
	return v
}
