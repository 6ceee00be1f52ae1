// Package orchestrator drives the cycle loop (§4.A): pre-cycle maintenance,
// scout, proposal pipeline, execution batch, post-cycle maintenance, and
// the stop-signal evaluation that ends a session.
package orchestrator

import (
	"math"
	"time"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// Budget is the session's overall resource envelope, accepted from the
// process surface (§6).
type Budget struct {
	TotalCycles   int
	MaxPRs        int
	StartedAt     time.Time
	TotalDuration time.Duration
}

// Session holds the orchestrator's single-owner mutable state (§3
// "Ownership summary"). Workers never mutate this directly.
type Session struct {
	Budget                 Budget
	CycleCount             int
	SessionPhase           types.SessionPhase
	EffectiveMinConfidence int
	ConsecutiveLowYield    int
	ShutdownRequested      bool
	ShutdownReason         types.ShutdownReason
	TrajectoryGuided       bool
	OpenPRCount            int
}

// PreCycleInputs are the external readings pre-cycle maintenance consumes.
type PreCycleInputs struct {
	BaseMinConfidence float64 // the sector's calibrated minimum confidence (§4.G)
	QualityRate       float64 // post-cycle-2 quality rate
	OpenPRFraction    float64 // open PRs / pr cap
}

// PauseRequested is returned by PreCycle when the open-PR fraction exceeds
// 70%: the caller must sleep 15s and must not advance cycleCount.
type PauseRequested struct {
	SleepFor time.Duration
}

// PreCycle runs the §4.A pre-cycle maintenance computation: increments
// cycleCount, recomputes sessionPhase from elapsed budget fraction, and
// adjusts effectiveMinConfidence. Returns a PauseRequested when open PRs
// exceed 70% of the cap, in which case the caller must decrement
// cycleCount back (the increment is undone here) and retry later.
func (s *Session) PreCycle(now time.Time, in PreCycleInputs) *PauseRequested {
	s.CycleCount++

	elapsedFraction := elapsedFraction(s.Budget, now)
	s.SessionPhase = sessionPhaseFor(elapsedFraction)

	confidence := in.BaseMinConfidence
	switch s.SessionPhase {
	case types.PhaseWarmup:
		confidence += 10
	case types.PhaseDeep:
		confidence -= 10
		if confidence < 10 {
			confidence = 10
		}
	}
	if s.CycleCount > 2 && in.QualityRate < 0.5 {
		confidence += 10
	}
	if in.OpenPRFraction > 0.4 {
		confidence += 15
	}
	confidence = clamp(confidence, 0, 80)
	s.EffectiveMinConfidence = int(math.Round(confidence))

	if in.OpenPRFraction > 0.7 {
		s.CycleCount--
		return &PauseRequested{SleepFor: 15 * time.Second}
	}
	return nil
}

func elapsedFraction(b Budget, now time.Time) float64 {
	if b.TotalDuration <= 0 {
		return 0
	}
	elapsed := now.Sub(b.StartedAt)
	fraction := float64(elapsed) / float64(b.TotalDuration)
	return clamp(fraction, 0, 1)
}

func sessionPhaseFor(elapsedFraction float64) types.SessionPhase {
	switch {
	case elapsedFraction < 0.2:
		return types.PhaseWarmup
	case elapsedFraction > 0.8:
		return types.PhaseCooldown
	default:
		return types.PhaseDeep
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ShouldRebuildTasteProfile reports whether this cycle falls on the every
// 10 cycles taste-profile rebuild.
func ShouldRebuildTasteProfile(cycleCount int) bool { return cycleCount%10 == 0 }

// ShouldConsolidateLearnings reports whether this cycle falls on the every
// 5 cycles learnings-consolidation pass.
func ShouldConsolidateLearnings(cycleCount int) bool { return cycleCount%5 == 0 }

// InterCycleSleep is 1s when trajectory-guided, else 5s (§4.A).
func InterCycleSleep(trajectoryGuided bool) time.Duration {
	if trajectoryGuided {
		return 1 * time.Second
	}
	return 5 * time.Second
}

// CycleOutcome summarizes one cycle's ticket results for stop-signal and
// post-cycle bookkeeping.
type CycleOutcome struct {
	Succeeded []string
	Failed    []string
	NoChanges []string
	Formula   string
	ScopeUsed string
}

func (o CycleOutcome) completedAnything() bool {
	return len(o.Succeeded) > 0
}

// StopSignalInputs are the conditions the orchestrator checks at the end of
// each cycle, in priority order (§4.A).
type StopSignalInputs struct {
	BranchDiverged  bool
	Convergence     types.ConvergenceAction
	PRCapReached    bool
	BudgetExhausted bool
	UserSignal      bool
}

const (
	lowYieldThresholdNormal     = 3
	lowYieldThresholdTrajectory = 5
)

// EvaluateStopSignals applies the outcome of this cycle to the
// consecutive-low-yield counter and checks every stop condition in the
// order the spec lists them, returning the first applicable reason.
func (s *Session) EvaluateStopSignals(outcome CycleOutcome, in StopSignalInputs) (types.ShutdownReason, bool) {
	if outcome.completedAnything() {
		s.ConsecutiveLowYield = 0
	} else {
		s.ConsecutiveLowYield++
	}

	threshold := lowYieldThresholdNormal
	if s.TrajectoryGuided {
		threshold = lowYieldThresholdTrajectory
	}

	switch {
	case s.ConsecutiveLowYield >= threshold:
		return s.stop(types.ShutdownLowYield)
	case in.BranchDiverged:
		return s.stop(types.ShutdownBranchDiverged)
	case in.Convergence == types.ConvergeStop:
		return s.stop(types.ShutdownConvergence)
	case in.PRCapReached:
		return s.stop(types.ShutdownPRCapReached)
	case in.BudgetExhausted:
		return s.stop(types.ShutdownBudgetExhausted)
	case in.UserSignal:
		return s.stop(types.ShutdownUserSignal)
	default:
		return "", false
	}
}

func (s *Session) stop(reason types.ShutdownReason) (types.ShutdownReason, bool) {
	if !s.ShutdownRequested {
		s.ShutdownRequested = true
		s.ShutdownReason = reason
	}
	return s.ShutdownReason, true
}

// IndexNeedsRefresh reports whether the codebase index should be rebuilt:
// any sector's mtime is newer than the index build time, or any sampled
// file's mtime changed (§4.A).
func IndexNeedsRefresh(indexBuiltAt time.Time, sectorMTimes []time.Time, sampledFileChanged bool) bool {
	if sampledFileChanged {
		return true
	}
	for _, mtime := range sectorMTimes {
		if mtime.After(indexBuiltAt) {
			return true
		}
	}
	return false
}
