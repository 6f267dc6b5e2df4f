package scoring

import "testing"

func TestClassifyPerformanceBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  LearningState
	}{
		{100, StateAdvanced},
		{85, StateAdvanced},
		{84.99, StateProficient},
		{70, StateProficient},
		{69.99, StateDeveloping},
		{50, StateDeveloping},
		{49.99, StateEmerging},
		{0, StateEmerging},
	}
	for _, tc := range cases {
		if got := ClassifyPerformance(tc.score); got != tc.want {
			t.Errorf("score %v: got %s want %s", tc.score, got, tc.want)
		}
	}
}

func TestClassifyTrend(t *testing.T) {
	cases := []struct {
		name    string
		history []float64
		want    Trend
	}{
		{"empty", nil, TrendStable},
		{"single", []float64{70}, TrendStable},
		{"rising", []float64{60, 65, 70}, TrendImproving},
		{"falling", []float64{70, 65, 58}, TrendDeclining},
		{"jitter inside deadband", []float64{70, 73, 71}, TrendStable},
		{"window ignores old history", []float64{10, 10, 70, 71, 72, 73, 74}, TrendStable},
	}
	for _, tc := range cases {
		if got := ClassifyTrend(tc.history); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}
