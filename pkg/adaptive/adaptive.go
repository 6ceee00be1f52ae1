// Package adaptive implements the adaptive control loop (§4.G): confidence
// calibration, adaptive-trust scope risk scoring, drill ambition, and
// convergence metrics.
package adaptive

import (
	"math"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// Outcome is one historical (confidence, succeeded) sample used for
// calibration.
type Outcome struct {
	Confidence int
	Succeeded  bool
}

const calibrationMinCycles = 5

// CalibrateConfidence fits a lightweight logistic regression over historical
// (confidence, succeeded) pairs via a handful of gradient steps, then
// returns the delta (clamped to [-10, +10]) to apply to
// effectiveMinConfidence. Returns 0 until more than calibrationMinCycles of
// history exists.
func CalibrateConfidence(cyclesElapsed int, history []Outcome) float64 {
	if cyclesElapsed <= calibrationMinCycles || len(history) == 0 {
		return 0
	}

	w, b := fitLogistic(history)

	// The fitted curve's midpoint (where predicted success probability
	// crosses 0.5) tells us where the bar "should" sit; compare it against
	// the neutral midpoint (50) to get a directional nudge.
	midpoint := 50.0
	if w != 0 {
		midpoint = -b / w
	}
	delta := (midpoint - 50) / 5
	if delta > 10 {
		delta = 10
	}
	if delta < -10 {
		delta = -10
	}
	return delta
}

// fitLogistic runs batch gradient descent on P(success) = sigmoid(w*x + b)
// over confidence values scaled to [0,1].
func fitLogistic(history []Outcome) (w, b float64) {
	const learningRate = 0.1
	const iterations = 200

	for i := 0; i < iterations; i++ {
		var gradW, gradB float64
		for _, o := range history {
			x := float64(o.Confidence) / 100.0
			y := 0.0
			if o.Succeeded {
				y = 1.0
			}
			pred := sigmoid(w*x + b)
			err := pred - y
			gradW += err * x
			gradB += err
		}
		n := float64(len(history))
		w -= learningRate * gradW / n
		b -= learningRate * gradB / n
	}
	return w, b
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

const (
	riskLowMax        = 20.0
	riskElevatedMax   = 40.0
	weightPerLearning = 10.0 / 50.0
)

// AssessAdaptiveRisk computes a weighted risk score from matching learnings
// and classifies it into a RiskLevel (§4.G).
func AssessAdaptiveRisk(allowedPaths []string, learnings []types.Learning) (types.RiskLevel, float64) {
	score := 0.0
	for _, l := range learnings {
		if matchesAnyPath(l, allowedPaths) {
			score += weightPerLearning * l.Weight
		}
	}
	switch {
	case score < riskLowMax:
		return types.RiskLow, score
	case score < riskElevatedMax:
		return types.RiskElevated, score
	default:
		return types.RiskHigh, score
	}
}

func matchesAnyPath(l types.Learning, allowedPaths []string) bool {
	if l.Structured == nil || len(l.Structured.FragilePaths) == 0 {
		return true // an unstructured learning applies broadly
	}
	for _, fragile := range l.Structured.FragilePaths {
		for _, p := range allowedPaths {
			if p == fragile {
				return true
			}
		}
	}
	return false
}

// ApplyRiskEffect mutates a ScopePolicy per §4.G's risk-level effects:
// low loosens the file/line budget, elevated/high tighten it and force a
// plan.
func ApplyRiskEffect(policy *types.ScopePolicy, risk types.RiskLevel, baseMaxLines int) {
	policy.RiskAssessment = risk
	switch risk {
	case types.RiskLow:
		policy.MaxFiles = 15
		policy.MaxLines = int(math.Round(1.5 * float64(baseMaxLines)))
	case types.RiskElevated:
		policy.MaxFiles = 7
		policy.PlanRequired = true
	case types.RiskHigh:
		policy.MaxFiles = 5
		policy.PlanRequired = true
	}
}

// AmbitionFromCompletionRate picks the drill-mode posture from the recent
// drill completion rate (§4.G).
func AmbitionFromCompletionRate(rate float64) types.Ambition {
	switch {
	case rate < 0.4:
		return types.AmbitionConservative
	case rate < 0.75:
		return types.AmbitionModerate
	default:
		return types.AmbitionAmbitious
	}
}

// ConvergenceInput aggregates the signals behind the §4.G convergence
// recommendation.
type ConvergenceInput struct {
	SectorCoverage           float64 // fraction of sectors scanned at least once
	RecentCycleYield         float64 // EMA proposals/cycle over the recent window
	TrajectoryCompletionRate float64
	PRMergeRate              float64
	TrajectoryHasProgress    bool // §4.C abandonment rule: a trajectory with meaningful progress vetoes "stop"
}

// Converge aggregates the inputs into an advisory action. "stop" is only
// authoritative when no active trajectory has meaningful progress.
func Converge(in ConvergenceInput) types.ConvergenceAction {
	score := 0.25*in.SectorCoverage + 0.25*clamp01(in.RecentCycleYield) +
		0.25*in.TrajectoryCompletionRate + 0.25*in.PRMergeRate

	switch {
	case score >= 0.8:
		if in.TrajectoryHasProgress {
			return types.ConvergeNarrow
		}
		return types.ConvergeStop
	case score >= 0.5:
		return types.ConvergeNarrow
	case score >= 0.2:
		return types.ConvergeContinue
	default:
		return types.ConvergeWiden
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
