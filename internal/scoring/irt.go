package scoring

import (
	"fmt"
	"math"
)

// Flow zone: the success-probability band that keeps a learner challenged but
// not overwhelmed.
const (
	flowZoneLow    = 0.70
	flowZoneHigh   = 0.80
	flowZoneCenter = (flowZoneLow + flowZoneHigh) / 2

	// Item discrimination for the 2PL response function.
	discrimination = 1.0
	// abilityScale maps a 0..100 ability onto the logit scale, centered at
	// the neutral prior.
	abilityScale = 15.0
)

// tierDifficulty holds the fixed item-difficulty parameter per tier, on the
// same logit scale as the transformed ability.
var tierDifficulty = []struct {
	Tier string
	B    float64
}{
	{DifficultyEasy, -1.2},
	{DifficultyMedium, 0.0},
	{DifficultyHard, 1.2},
}

// TierSelection is the IRT pick for the next challenge.
type TierSelection struct {
	Difficulty          string  `json:"difficulty"`
	AbilityEstimate     float64 `json:"ability_estimate"`
	ExpectedSuccessRate float64 `json:"expected_success_rate"`
	Reasoning           string  `json:"reasoning"`
}

// SuccessProbability is the logistic item-response function for a learner of
// the given ability (0..100) against one tier's difficulty parameter.
func SuccessProbability(ability, b float64) float64 {
	theta := (ability - PriorAbility) / abilityScale
	return 1 / (1 + math.Exp(-discrimination*(theta-b)))
}

// SelectOptimalDifficulty picks the tier whose expected success probability
// lands closest to the flow zone.
func SelectOptimalDifficulty(ability float64) (TierSelection, error) {
	if math.IsNaN(ability) || math.IsInf(ability, 0) || ability < 0 || ability > 100 {
		return TierSelection{}, &NumericDomainError{Value: ability, Reason: "ability must be in [0,100]"}
	}

	best := TierSelection{AbilityEstimate: ability}
	bestDist := math.Inf(1)
	for _, tier := range tierDifficulty {
		p := SuccessProbability(ability, tier.B)
		dist := math.Abs(p - flowZoneCenter)
		if dist < bestDist {
			bestDist = dist
			best.Difficulty = tier.Tier
			best.ExpectedSuccessRate = p
		}
	}

	if best.ExpectedSuccessRate >= flowZoneLow && best.ExpectedSuccessRate <= flowZoneHigh {
		best.Reasoning = fmt.Sprintf("%s tier puts expected success at %.0f%%, inside the %.0f–%.0f%% flow zone",
			best.Difficulty, best.ExpectedSuccessRate*100, flowZoneLow*100, flowZoneHigh*100)
	} else {
		best.Reasoning = fmt.Sprintf("%s tier is closest to the flow zone at %.0f%% expected success",
			best.Difficulty, best.ExpectedSuccessRate*100)
	}
	return best, nil
}
