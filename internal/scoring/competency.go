package scoring

import (
	"math"
	"sort"
)

const (
	// Smoothing factor: 80% history, 20% new evidence.
	SmoothingAlpha = 0.2
	// NeutralMastery is the prior for a competency never observed before.
	NeutralMastery = 50.0

	focusSetSize = 3
)

// CompetencyNetwork holds one learner's per-competency mastery beliefs. The
// weak and strong sets are recomputed synchronously after every update, so a
// reader never sees beliefs and focus sets out of step.
type CompetencyNetwork struct {
	beliefs map[string]float64
	weak    []string
	strong  []string
}

func NewCompetencyNetwork() *CompetencyNetwork {
	return &CompetencyNetwork{beliefs: map[string]float64{}}
}

// NewCompetencyNetworkFrom seeds a network from persisted beliefs.
func NewCompetencyNetworkFrom(beliefs map[string]float64) *CompetencyNetwork {
	n := NewCompetencyNetwork()
	for tag, m := range beliefs {
		n.beliefs[tag] = m
	}
	n.refocus()
	return n
}

// Observe smooths one scored competency into the belief map:
// belief' = belief·(1−α) + observed·α, starting from the neutral prior for an
// unseen tag.
func (n *CompetencyNetwork) Observe(tag string, observed float64) error {
	if tag == "" {
		return &NumericDomainError{Value: observed, Reason: "competency tag required"}
	}
	if math.IsNaN(observed) || math.IsInf(observed, 0) || observed < 0 || observed > 100 {
		return &NumericDomainError{Value: observed, Reason: "competency score must be in [0,100]"}
	}
	belief, ok := n.beliefs[tag]
	if !ok {
		belief = NeutralMastery
	}
	n.beliefs[tag] = belief*(1-SmoothingAlpha) + observed*SmoothingAlpha
	n.refocus()
	return nil
}

// Belief returns the current mastery for tag, or the neutral prior if never
// observed.
func (n *CompetencyNetwork) Belief(tag string) float64 {
	if b, ok := n.beliefs[tag]; ok {
		return b
	}
	return NeutralMastery
}

// Snapshot copies the belief map.
func (n *CompetencyNetwork) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(n.beliefs))
	for tag, m := range n.beliefs {
		out[tag] = m
	}
	return out
}

// Weak returns up to three lowest-mastery competencies.
func (n *CompetencyNetwork) Weak() []string { return append([]string(nil), n.weak...) }

// Strong returns up to three highest-mastery competencies.
func (n *CompetencyNetwork) Strong() []string { return append([]string(nil), n.strong...) }

// Mean is the average mastery across observed competencies, or the neutral
// prior when nothing has been observed.
func (n *CompetencyNetwork) Mean() float64 {
	if len(n.beliefs) == 0 {
		return NeutralMastery
	}
	var sum float64
	for _, m := range n.beliefs {
		sum += m
	}
	return sum / float64(len(n.beliefs))
}

func (n *CompetencyNetwork) refocus() {
	tags := make([]string, 0, len(n.beliefs))
	for tag := range n.beliefs {
		tags = append(tags, tag)
	}
	// Alphabetical pre-sort, then a stable sort by mastery: ties resolve
	// deterministically by tag name.
	sort.Strings(tags)
	sort.SliceStable(tags, func(i, j int) bool {
		return n.beliefs[tags[i]] < n.beliefs[tags[j]]
	})

	k := focusSetSize
	if len(tags) < k {
		k = len(tags)
	}
	n.weak = append([]string(nil), tags[:k]...)

	n.strong = make([]string, 0, k)
	for i := 0; i < k; i++ {
		n.strong = append(n.strong, tags[len(tags)-1-i])
	}
}
