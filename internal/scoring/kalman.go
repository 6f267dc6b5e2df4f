package scoring

import (
	"math"
	"time"
)

// Fixed priors for a learner's first observation.
const (
	PriorAbility     = 50.0
	PriorUncertainty = 100.0
)

// AbilityState is one learner's scalar ability estimate and its uncertainty.
// It is only ever produced by the estimator; corrections happen by replaying
// the ledger, never by editing state.
type AbilityState struct {
	Estimate     float64   `json:"estimated_ability"`
	Uncertainty  float64   `json:"uncertainty"`
	Observations int       `json:"observations"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AbilityEstimator is a one-dimensional Kalman filter over challenge scores.
// Q is process noise (ability drifts between challenges), R is measurement
// noise (a single score is an unreliable probe).
type AbilityEstimator struct {
	Q float64
	R float64
}

func NewAbilityEstimator(q, r float64) AbilityEstimator {
	if q <= 0 {
		q = 5
	}
	if r <= 0 {
		r = 15
	}
	return AbilityEstimator{Q: q, R: r}
}

// Init returns the fixed prior state.
func (e AbilityEstimator) Init() AbilityState {
	return AbilityState{Estimate: PriorAbility, Uncertainty: PriorUncertainty}
}

// Update folds one observed score z in [0,100] into the state.
//
//	predict: P_pred = P + Q
//	gain:    K = P_pred / (P_pred + R)
//	update:  x' = x + K·(z − x);  P' = (1 − K)·P_pred
//
// Uncertainty trends toward zero as evidence accumulates but never reaches
// it, and is never negative.
func (e AbilityEstimator) Update(st AbilityState, z float64) (AbilityState, error) {
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return st, &NumericDomainError{Value: z, Reason: "observation must be finite"}
	}
	if z < 0 || z > 100 {
		return st, &NumericDomainError{Value: z, Reason: "observation must be in [0,100]"}
	}
	pPred := st.Uncertainty + e.Q
	k := pPred / (pPred + e.R)
	st.Estimate = clamp01(st.Estimate + k*(z-st.Estimate))
	st.Uncertainty = (1 - k) * pPred
	st.Observations++
	st.UpdatedAt = time.Now().UTC()
	return st, nil
}

// Replay folds a full score history from the fixed prior. Replaying the same
// history always reproduces the same (x, P).
func (e AbilityEstimator) Replay(scores []float64) (AbilityState, error) {
	st := e.Init()
	for _, z := range scores {
		var err error
		st, err = e.Update(st, z)
		if err != nil {
			return AbilityState{}, err
		}
	}
	return st, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
