package challenge

import (
	"context"
	"fmt"
	"strings"

	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/oracle"
)

// questionResult is the graded outcome of a single question.
type questionResult struct {
	Earned float64
	Max    float64
}

// Strategy grades one question type.
type Strategy interface {
	Grade(ctx context.Context, q Question, resp Response) (questionResult, error)
}

// Grader routes questions to strategies: objective types grade locally, open
// responses go to the scoring oracle.
type Grader struct {
	strategies map[string]Strategy
}

// OracleEvaluator is the slice of the oracle client the grader needs.
type OracleEvaluator interface {
	Evaluate(ctx context.Context, req oracle.Request) (oracle.Evaluation, error)
}

func NewGrader(judge OracleEvaluator) *Grader {
	exact := exactMatchStrategy{}
	return &Grader{
		strategies: map[string]Strategy{
			TypeMCQSingle:    exact,
			TypeTrueFalse:    exact,
			TypeShortAnswer:  fuzzyMatchStrategy{},
			TypeOpenResponse: oracleStrategy{judge: judge},
		},
	}
}

// GradeChallenge grades every answered question and folds the results into a
// ChallengeEvaluation payload: a 0–100 total plus a 0–100 score per
// competency tag. Unanswered questions earn zero.
func (g *Grader) GradeChallenge(ctx context.Context, c Challenge, timeTakenSeconds int64) (ledger.ChallengeEvaluation, error) {
	var earned, max float64
	compEarned := map[string]float64{}
	compMax := map[string]float64{}

	for _, q := range c.Questions {
		max += q.Points
		for _, tag := range q.Competencies {
			compMax[tag] += q.Points
		}
		resp, answered := c.Responses[q.ID]
		if !answered {
			continue
		}
		strat, ok := g.strategies[q.Type]
		if !ok {
			return ledger.ChallengeEvaluation{}, fmt.Errorf("no grading strategy for question type %q", q.Type)
		}
		res, err := strat.Grade(ctx, q, resp)
		if err != nil {
			return ledger.ChallengeEvaluation{}, fmt.Errorf("grade question %s: %w", q.ID, err)
		}
		earned += res.Earned
		for _, tag := range q.Competencies {
			compEarned[tag] += res.Earned
		}
	}
	if max <= 0 {
		return ledger.ChallengeEvaluation{}, fmt.Errorf("challenge %s has no gradable points", c.ID)
	}

	total := earned / max * 100
	compScores := make(map[string]float64, len(compMax))
	for tag, m := range compMax {
		compScores[tag] = compEarned[tag] / m * 100
	}

	return ledger.ChallengeEvaluation{
		ChallengeID:      c.ID,
		StudentRef:       c.StudentRef,
		Topic:            c.Topic,
		Difficulty:       c.Difficulty,
		TotalScore:       total,
		Passed:           total >= 50,
		CompetencyScores: compScores,
		TimeTakenSeconds: timeTakenSeconds,
	}, nil
}

type exactMatchStrategy struct{}

func (exactMatchStrategy) Grade(_ context.Context, q Question, resp Response) (questionResult, error) {
	res := questionResult{Max: q.Points}
	answer := strings.TrimSpace(strings.ToLower(resp.Answer))
	for _, key := range q.AnswerKey {
		if answer == strings.TrimSpace(strings.ToLower(key)) {
			res.Earned = q.Points
			break
		}
	}
	return res, nil
}

// oracleStrategy asks the external judge; its 0–100 verdict (70 answer + 30
// reasoning) scales to the question's points.
type oracleStrategy struct {
	judge OracleEvaluator
}

func (s oracleStrategy) Grade(ctx context.Context, q Question, resp Response) (questionResult, error) {
	res := questionResult{Max: q.Points}
	if s.judge == nil {
		return res, fmt.Errorf("no oracle configured for open responses")
	}
	ev, err := s.judge.Evaluate(ctx, oracle.Request{
		Question:      q.Prompt,
		CorrectAnswer: q.CorrectAnswer,
		StudentAnswer: resp.Answer,
		Reasoning:     resp.Reasoning,
	})
	if err != nil {
		return res, err
	}
	res.Earned = (ev.AnswerScore + ev.ReasoningScore) / 100 * q.Points
	return res, nil
}
