package scoring

// LearningState is the discrete classification of recent performance.
type LearningState string

const (
	StateAdvanced   LearningState = "advanced"
	StateProficient LearningState = "proficient"
	StateDeveloping LearningState = "developing"
	StateEmerging   LearningState = "emerging"
)

// Trend classifies the direction of a learner's performance index over time.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Fixed thresholds; boundaries are inclusive on the lower edge.
const (
	advancedThreshold   = 85.0
	proficientThreshold = 70.0
	developingThreshold = 50.0

	// trendWindow bounds how far back trend classification looks.
	trendWindow = 5
	// trendDeadband absorbs noise: a swing inside ±3 points is stable.
	trendDeadband = 3.0
)

// ClassifyPerformance maps the latest aggregate score to a learning state.
// Pure function: no hidden memory.
func ClassifyPerformance(score float64) LearningState {
	switch {
	case score >= advancedThreshold:
		return StateAdvanced
	case score >= proficientThreshold:
		return StateProficient
	case score >= developingThreshold:
		return StateDeveloping
	default:
		return StateEmerging
	}
}

// ClassifyTrend compares the newest score in a short snapshot window against
// the oldest. history is ordered oldest first; fewer than two points is
// always stable.
func ClassifyTrend(history []float64) Trend {
	if len(history) < 2 {
		return TrendStable
	}
	if len(history) > trendWindow {
		history = history[len(history)-trendWindow:]
	}
	delta := history[len(history)-1] - history[0]
	switch {
	case delta > trendDeadband:
		return TrendImproving
	case delta < -trendDeadband:
		return TrendDeclining
	default:
		return TrendStable
	}
}
