// Package evaluate decides whether a job listing is worth applying to.
// Everything here is a pure function of signals already extracted by the site adapter.
package evaluate

import (
	"fmt"

	"github.com/jonathan/apply-autopilot/internal/types"
)

// Default thresholds: four positive indicators and no negative ones.
const (
	DefaultMinPositive = 4
	DefaultMaxNegative = 0
)

// Policy is the match threshold rule.
type Policy struct {
	MinPositive int `json:"min_positive"`
	MaxNegative int `json:"max_negative"`
}

// DefaultPolicy returns the default threshold rule.
func DefaultPolicy() Policy {
	return Policy{
		MinPositive: DefaultMinPositive,
		MaxNegative: DefaultMaxNegative,
	}
}

// Evaluation is the result of evaluating a set of match signals.
type Evaluation struct {
	Decision types.MatchDecision `json:"decision"`
	Score    int                 `json:"score"`
	Negative int                 `json:"negative"`
	Reasons  []string            `json:"reasons"`
}

// Evaluate scores the signals and applies the policy. The score is the number of
// positive signals; the decision is GoodMatch only when the score reaches
// MinPositive and the negative count does not exceed MaxNegative.
func (p Policy) Evaluate(signals types.MatchSignals) Evaluation {
	eval := Evaluation{Reasons: make([]string, 0, 6)}

	for _, s := range signals.All() {
		switch s.Value {
		case types.SignalMatch:
			eval.Score++
		case types.SignalMismatch:
			eval.Negative++
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("%s does not match", s.Name))
		}
	}

	switch {
	case eval.Negative > p.MaxNegative:
		eval.Decision = types.DecisionPoorMatch
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("%d negative signals (max %d)", eval.Negative, p.MaxNegative))
	case eval.Score < p.MinPositive:
		eval.Decision = types.DecisionPoorMatch
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("%d positive signals (need %d)", eval.Score, p.MinPositive))
	default:
		eval.Decision = types.DecisionGoodMatch
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("%d positive signals, %d negative", eval.Score, eval.Negative))
	}

	return eval
}

// ShouldApply combines the match decision with the apply path. Only a direct
// apply on a good match proceeds; otherwise the skip reason is returned.
func ShouldApply(eval Evaluation, path types.ApplyPathKind) (bool, string) {
	if eval.Decision != types.DecisionGoodMatch {
		return false, types.ReasonPoorMatch
	}
	switch path {
	case types.ApplyPathDirect:
		return true, ""
	case types.ApplyPathExternal:
		return false, types.ReasonExternalApply
	default:
		return false, types.ReasonApplyUnavailable
	}
}
