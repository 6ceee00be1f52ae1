package trajectory

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// StepState is the mutable runtime state of one step (§3 TrajectoryStepState).
type StepState struct {
	Status                 types.TrajectoryStepStatus
	CyclesAttempted        int
	LastAttemptedCycle     int
	CompletedAt            *time.Time
	LastVerificationOutput string
	ConsecutiveFailures    int
	TotalFailures          int
	CommandOutcomes        []CommandOutcome
}

// CommandOutcome is one verification command's most recent result.
type CommandOutcome struct {
	Command  string
	Passed   bool
	Output   string // truncated to 500 chars
	Measured *float64
}

// State is the persisted runtime state of an active trajectory (§3
// TrajectoryState).
type State struct {
	TrajectoryName string
	StartedAt      time.Time
	StepStates     map[string]*StepState
	CurrentStepID  string
	Paused         bool
	Status         types.TrajectoryStatus
}

// NewState initializes per-step state for a freshly loaded trajectory, all
// steps pending.
func NewState(traj Trajectory, now time.Time) *State {
	states := make(map[string]*StepState, len(traj.Steps))
	for _, s := range traj.Steps {
		states[s.ID] = &StepState{Status: types.StepPending}
	}
	return &State{
		TrajectoryName: traj.Name,
		StartedAt:      now,
		StepStates:     states,
		Status:         types.TrajectoryActive,
	}
}

func resolved(states map[string]*StepState, id string) bool {
	st, ok := states[id]
	return ok && st.Status.Resolved()
}

func dependenciesResolved(step TrajectoryStep, states map[string]*StepState) bool {
	for _, dep := range step.DependsOn {
		if !resolved(states, dep) {
			return false
		}
	}
	return true
}

// GetReadySteps returns every non-terminal step whose dependencies are all
// resolved, sorted by descending priority then ascending ID for a
// deterministic tie-break.
func GetReadySteps(traj Trajectory, states map[string]*StepState) []TrajectoryStep {
	var ready []TrajectoryStep
	for _, s := range traj.Steps {
		st := states[s.ID]
		if st == nil || st.Status.Terminal() {
			continue
		}
		if dependenciesResolved(s, states) {
			ready = append(ready, s)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// GetNextStep is the highest-priority ready step, or "" if none remain.
func GetNextStep(traj Trajectory, states map[string]*StepState) (TrajectoryStep, bool) {
	ready := GetReadySteps(traj, states)
	if len(ready) == 0 {
		return TrajectoryStep{}, false
	}
	return ready[0], true
}

// CommandRunner executes a verification/measure command in the worktree
// with the given timeout, returning combined stdout+stderr.
type CommandRunner func(ctx context.Context, cmd string, timeout time.Duration) (output string, err error)

const verifyTimeout = 30 * time.Second

// AdvanceResult reports what happened to the active step on this cycle.
type AdvanceResult struct {
	Completed  bool
	Stuck      bool
	NextStepID string
	Ended      bool
	Outcome    types.TrajectoryStatus
}

// Advance runs verification for the trajectory's current active step,
// updates its state, and selects the next step on completion or stuck
// detection (§4.C "Advancement").
func Advance(ctx context.Context, traj Trajectory, state *State, cycle int, run CommandRunner) AdvanceResult {
	step, ok := findStep(traj, state.CurrentStepID)
	if !ok {
		return AdvanceResult{}
	}
	st := state.StepStates[step.ID]

	allPassed := true
	var outcomes []CommandOutcome
	var failOutput strings.Builder

	for _, cmd := range step.VerificationCommands {
		output, err := run(ctx, cmd, verifyTimeout)
		if err != nil && isResilientPreVerifyError(output, err) {
			continue
		}
		passed := err == nil
		outcome := CommandOutcome{Command: cmd, Passed: passed, Output: truncate(output, 500)}
		outcomes = append(outcomes, outcome)
		if !passed {
			allPassed = false
			failOutput.WriteString(outcome.Output)
			failOutput.WriteString("\n")
		}
	}

	measureMet := true
	if step.Measure != nil {
		output, err := run(ctx, step.Measure.Cmd, verifyTimeout)
		if err == nil {
			if value, perr := strconv.ParseFloat(strings.TrimSpace(output), 64); perr == nil {
				if step.Measure.Direction == types.DirectionUp {
					measureMet = value >= step.Measure.Target
				} else {
					measureMet = value <= step.Measure.Target
				}
			} else {
				measureMet = false
			}
		} else {
			measureMet = false
		}
	}

	st.CommandOutcomes = outcomes
	st.LastAttemptedCycle = cycle

	if allPassed && measureMet {
		now := time.Now()
		st.Status = types.StepCompleted
		st.LastVerificationOutput = ""
		st.ConsecutiveFailures = 0
		st.CompletedAt = &now
		slog.Info("trajectory step completed", "step", step.ID, "cycle", cycle)

		next, hasNext := GetNextStep(traj, state.StepStates)
		if hasNext {
			state.CurrentStepID = next.ID
			return AdvanceResult{Completed: true, NextStepID: next.ID}
		}
		return finishTrajectory(traj, state)
	}

	st.CyclesAttempted++
	st.ConsecutiveFailures++
	st.TotalFailures++
	st.LastVerificationOutput = truncate(failOutput.String(), 500)

	maxRetries := step.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if st.CyclesAttempted >= maxRetries || st.TotalFailures >= 2*maxRetries {
		st.Status = types.StepFailed
		slog.Warn("trajectory step stuck", "step", step.ID, "cycles_attempted", st.CyclesAttempted, "total_failures", st.TotalFailures)
		next, hasNext := GetNextStep(traj, state.StepStates)
		if hasNext {
			state.CurrentStepID = next.ID
			return AdvanceResult{Stuck: true, NextStepID: next.ID}
		}
		result := finishTrajectory(traj, state)
		result.Stuck = true
		return result
	}

	return AdvanceResult{}
}

func finishTrajectory(traj Trajectory, state *State) AdvanceResult {
	allResolvedNonFailed := true
	for _, s := range traj.Steps {
		st := state.StepStates[s.ID]
		if st.Status == types.StepFailed {
			continue
		}
		if st.Status != types.StepCompleted && st.Status != types.StepSkipped {
			allResolvedNonFailed = false
		}
	}
	if allResolvedNonFailed {
		state.Status = types.TrajectoryCompleted
	} else {
		state.Status = types.TrajectoryStalled
	}
	return AdvanceResult{Ended: true, Outcome: state.Status}
}

func isResilientPreVerifyError(output string, err error) bool {
	return err != nil && strings.Contains(strings.ToLower(output), "not a git repository")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func findStep(traj Trajectory, id string) (TrajectoryStep, bool) {
	for _, s := range traj.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return TrajectoryStep{}, false
}

const defaultCycleBudgetBase = 15

// MaxCycles computes the per-trajectory cycle budget (§4.C): base scaled by
// a clamp(1 + max(0, steps-3)/5, 0.8, 2.5) factor, rounded.
func MaxCycles(stepCount int) int {
	factor := 1 + math.Max(0, float64(stepCount-3))/5
	if factor < 0.8 {
		factor = 0.8
	}
	if factor > 2.5 {
		factor = 2.5
	}
	return int(math.Round(defaultCycleBudgetBase * factor))
}

// CycleBudgetExhausted sums cyclesAttempted across all steps and compares
// against MaxCycles.
func CycleBudgetExhausted(traj Trajectory, state *State) bool {
	total := 0
	for _, st := range state.StepStates {
		total += st.CyclesAttempted
	}
	return total >= MaxCycles(len(traj.Steps))
}

// ConvergenceAbandonThreshold computes the adaptive abandonment threshold
// T := round(30 + weightedCompletionRate*40), clamped to [30, 70].
func ConvergenceAbandonThreshold(weightedCompletionRate float64) int {
	t := 30 + weightedCompletionRate*40
	if t < 30 {
		t = 30
	}
	if t > 70 {
		t = 70
	}
	return int(math.Round(t))
}

// ShouldAbandonOnConvergenceStop reports whether an active trajectory
// should be abandoned when the convergence module suggests "stop" (§4.C).
func ShouldAbandonOnConvergenceStop(traj Trajectory, state *State, weightedCompletionRate float64) bool {
	completed := 0
	for _, s := range traj.Steps {
		if state.StepStates[s.ID].Status == types.StepCompleted {
			completed++
		}
	}
	if len(traj.Steps) == 0 {
		return true
	}
	pct := float64(completed) / float64(len(traj.Steps)) * 100
	threshold := ConvergenceAbandonThreshold(weightedCompletionRate)
	return pct < float64(threshold)
}

// PreVerifyAndAutoAdvance runs verification commands for each active step
// without invoking the agent, marking completed+advancing while commands
// already pass; bounded by len(steps) iterations so it always terminates
// (§4.C "Pre-verify & auto-advance").
func PreVerifyAndAutoAdvance(ctx context.Context, traj Trajectory, state *State, run CommandRunner) {
	if state.CurrentStepID == "" {
		next, ok := GetNextStep(traj, state.StepStates)
		if !ok {
			return
		}
		state.CurrentStepID = next.ID
	}

	for i := 0; i < len(traj.Steps); i++ {
		step, ok := findStep(traj, state.CurrentStepID)
		if !ok {
			return
		}
		allPassed := true
		for _, cmd := range step.VerificationCommands {
			output, err := run(ctx, cmd, verifyTimeout)
			if err != nil && isResilientPreVerifyError(output, err) {
				continue
			}
			if err != nil {
				allPassed = false
				break
			}
		}
		if !allPassed {
			return
		}

		now := time.Now()
		st := state.StepStates[step.ID]
		st.Status = types.StepCompleted
		st.CompletedAt = &now

		next, hasNext := GetNextStep(traj, state.StepStates)
		if !hasNext {
			finishTrajectory(traj, state)
			return
		}
		state.CurrentStepID = next.ID
	}
}

// ApplyGraphOrdering adds a dependency from stepB to stepA when stepA's
// scope touches a module imported by a module in stepB's scope, provided
// stepB does not already depend on stepA and the edge would not introduce a
// cycle (§4.C "Graph-based ordering"). stepModules maps step ID to the
// module paths its scope covers; importedBy maps a module to the modules
// that import it.
func ApplyGraphOrdering(steps []TrajectoryStep, stepModules map[string][]string, importedBy map[string][]string) []TrajectoryStep {
	byID := make(map[string]int, len(steps))
	for i, s := range steps {
		byID[s.ID] = i
	}

	for _, a := range steps {
		for _, b := range steps {
			if a.ID == b.ID {
				continue
			}
			bIdx := byID[b.ID]
			if containsString(steps[bIdx].DependsOn, a.ID) {
				continue
			}
			if !anyModuleImportedByScope(stepModules[a.ID], stepModules[b.ID], importedBy) {
				continue
			}

			tentative := append(append([]string(nil), steps[bIdx].DependsOn...), a.ID)
			trial := make([]TrajectoryStep, len(steps))
			copy(trial, steps)
			trial[bIdx].DependsOn = tentative
			if _, err := kahnSort(trial); err == nil {
				steps = trial
			}
		}
	}
	return steps
}

func anyModuleImportedByScope(aModules, bModules []string, importedBy map[string][]string) bool {
	bSet := make(map[string]struct{}, len(bModules))
	for _, m := range bModules {
		bSet[m] = struct{}{}
	}
	for _, m := range aModules {
		for _, importer := range importedBy[m] {
			if _, ok := bSet[importer]; ok {
				return true
			}
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
