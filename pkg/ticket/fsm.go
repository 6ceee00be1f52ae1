package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/wheelwright-dev/wheelwright/pkg/capability"
	"github.com/wheelwright-dev/wheelwright/pkg/spindle"
	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// Phase is the ticket worker's FSM state (§4.E).
type Phase string

const (
	PhaseInit              Phase = "INIT"
	PhasePlan              Phase = "PLAN"
	PhaseExecute           Phase = "EXECUTE"
	PhaseVerify            Phase = "VERIFY"
	PhaseQA                Phase = "QA"
	PhaseCrossQA           Phase = "CROSS_QA"
	PhasePR                Phase = "PR"
	PhaseTerminal          Phase = "TERMINAL"
	PhaseBlockedNeedsHuman Phase = "BLOCKED_NEEDS_HUMAN"
)

// Worker drives one ticket through the FSM on its own git worktree.
type Worker struct {
	Ticket         types.Ticket
	Policy         types.ScopePolicy
	Phase          Phase
	WorktreePath   string
	PlanRejections int
	SpindleState   spindle.State
	SpindleConfig  spindle.Config
	CrossVerify    bool
	CreatePRs      bool
	FailureReason  types.FailureReason
}

// NewWorker starts a worker in INIT for a ready ticket. Docs-category
// tickets skip straight to EXECUTE unless the caller later discovers
// elevated/high risk during plan submission.
func NewWorker(ticket types.Ticket, policy types.ScopePolicy, worktreePath string, spindleCfg spindle.Config) *Worker {
	phase := PhasePlan
	if ticket.Category == types.CategoryDocs {
		phase = PhaseExecute
	}
	return &Worker{
		Ticket:        ticket,
		Policy:        policy,
		Phase:         phase,
		WorktreePath:  worktreePath,
		SpindleConfig: spindleCfg,
	}
}

// SubmitPlan runs the PLAN phase transition.
func (w *Worker) SubmitPlan(plan Plan) (PlanOutcome, error) {
	outcome, err := EvaluatePlan(plan, w.Policy, w.Ticket.Category, w.WorktreePath, w.PlanRejections)
	switch outcome {
	case PlanApproved:
		w.Phase = PhaseExecute
	case PlanRejected:
		w.PlanRejections++
	case PlanBlockedNeedsHuman:
		w.Phase = PhaseBlockedNeedsHuman
		w.FailureReason = types.FailureBlockedNeedsHuman
		slog.Warn("ticket blocked needs human", "ticket", w.Ticket.ID, "risk", plan.RiskLevel)
	}
	return outcome, err
}

// ExecuteResult is the ticket's TICKET_RESULT payload.
type ExecuteResult struct {
	ChangedFiles []string
	LinesAdded   int
	LinesRemoved int
	Diff         string
	Stdout       string
}

// ErrSurpriseFiles is returned when the agent touched files outside its
// approved plan.
type ErrSurpriseFiles struct {
	Files []string
}

func (e *ErrSurpriseFiles) Error() string {
	return fmt.Sprintf("scope blocked: surprise files %v", e.Files)
}

// ErrLineBudgetExceeded is returned when total changed lines exceed the
// ticket's max-lines budget.
type ErrLineBudgetExceeded struct {
	Total, Max int
}

func (e *ErrLineBudgetExceeded) Error() string {
	return fmt.Sprintf("line budget exceeded: %d > %d", e.Total, e.Max)
}

// ValidateExecuteResult checks the agent's TICKET_RESULT against the
// approved plan and the line budget (§4.E EXECUTE).
func ValidateExecuteResult(result ExecuteResult, plan Plan, maxLines int) error {
	planned := make(map[string]struct{}, len(plan.FilesToTouch))
	for _, ft := range plan.FilesToTouch {
		planned[ft.Path] = struct{}{}
	}

	var surprises []string
	for _, f := range result.ChangedFiles {
		if _, ok := planned[f]; !ok {
			surprises = append(surprises, f)
		}
	}
	if len(surprises) > 0 {
		return &ErrSurpriseFiles{Files: surprises}
	}

	if maxLines > 0 && result.LinesAdded+result.LinesRemoved > maxLines {
		return &ErrLineBudgetExceeded{Total: result.LinesAdded + result.LinesRemoved, Max: maxLines}
	}
	return nil
}

// AfterTurn runs the spindle detector on one agent turn's output and diff,
// surfacing an abort as the worker's failure reason (§4.E, §4.F).
func (w *Worker) AfterTurn(output, diff string) spindle.Result {
	result := spindle.Check(&w.SpindleState, w.SpindleConfig, output, diff)
	if result.ShouldAbort {
		w.FailureReason = types.FailureReason(fmt.Sprintf("spindle_abort:%s", result.Reason))
	}
	return result
}

// RunVerify executes the fast-verifier subset of qaCommands, skipping
// baseline-preexisting failures, and returns the ones that still fail
// (§4.E VERIFY).
func RunVerify(ctx context.Context, qaCommands []string, baseline []BaselineFailure, run capability.ExecBackend, worktree string) ([]QACommandResult, error) {
	var failing []QACommandResult
	for _, cmd := range qaCommands {
		if !IsFastVerifier(cmd) {
			continue
		}
		if IsPreExisting(cmd, baseline) {
			continue
		}
		res, err := run.Run(ctx, capability.ExecRequest{Prompt: cmd, WorkDir: worktree})
		if err != nil || res.ExitCode != 0 {
			failing = append(failing, QACommandResult{Command: cmd, Passed: false, Output: res.Stdout})
		}
	}
	return failing, nil
}

// QAOutcome is the final result of running the full QA command list.
type QAOutcome struct {
	Passed  bool
	Results []QACommandResult
}

// RunQA runs every configured QA command and classifies failures,
// returning the retry budget consumed per failing class (§4.E QA).
func RunQA(ctx context.Context, qaCommands []string, baseline []BaselineFailure, run capability.ExecBackend, worktree string) QAOutcome {
	var results []QACommandResult
	allPassed := true
	for _, cmd := range qaCommands {
		res, err := run.Run(ctx, capability.ExecRequest{Prompt: cmd, WorkDir: worktree})
		passed := err == nil && res.ExitCode == 0
		if !passed && IsPreExisting(cmd, baseline) {
			passed = true // pre-existing failures don't count against the ticket
		}
		if !passed {
			allPassed = false
		}
		results = append(results, QACommandResult{Command: cmd, Passed: passed, Output: res.Stdout})
	}
	return QAOutcome{Passed: allPassed, Results: results}
}

// PendingTicket is one ticket awaiting dispatch into a worker batch.
type PendingTicket struct {
	Ticket   types.Ticket
	Priority int
}

// PathsOverlap reports whether any of A's allowed paths shares a real
// directory prefix with any of B's; an empty allowed_paths list is treated
// as a wildcard that conflicts with everything (§4.E).
func PathsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, pa := range a {
		for _, pb := range b {
			if sharesPrefix(pa, pb) {
				return true
			}
		}
	}
	return false
}

func sharesPrefix(a, b string) bool {
	a, b = strings.TrimSuffix(a, "/**"), strings.TrimSuffix(b, "/**")
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// DispatchBatch greedily selects non-overlapping tickets in priority order,
// capped at min(parallelCap, pool size); skipped tickets are reported
// separately for a PARALLEL_DECONFLICTED event (§4.E).
func DispatchBatch(pool []PendingTicket, allowedPaths map[string][]string, parallelCap int) (accepted, deconflicted []types.Ticket) {
	sorted := append([]PendingTicket(nil), pool...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	batchCap := parallelCap
	if len(sorted) < batchCap {
		batchCap = len(sorted)
	}

	var acceptedPaths [][]string
	for _, pt := range sorted {
		if len(accepted) >= batchCap {
			deconflicted = append(deconflicted, pt.Ticket)
			continue
		}
		candidate := allowedPaths[pt.Ticket.ID]
		overlaps := false
		for _, already := range acceptedPaths {
			if PathsOverlap(candidate, already) {
				overlaps = true
				break
			}
		}
		if overlaps {
			deconflicted = append(deconflicted, pt.Ticket)
			continue
		}
		accepted = append(accepted, pt.Ticket)
		acceptedPaths = append(acceptedPaths, candidate)
	}
	return accepted, deconflicted
}

// SessionEndCleanup finalizes any tickets left in a non-terminal state: each
// is marked aborted, its worktree removed, and any branch with no PR
// deleted (§4.E "Session end cleanup").
func SessionEndCleanup(ctx context.Context, tickets []types.Ticket, git capability.Git, worktreeOf func(string) string, branchOf func(string) string, hasPR func(string) bool) []types.Ticket {
	var aborted []types.Ticket
	for _, t := range tickets {
		switch t.Status {
		case types.TicketReady, types.TicketInProgress, types.TicketBlocked:
			t.Status = types.TicketAborted
			aborted = append(aborted, t)

			if wt := worktreeOf(t.ID); wt != "" {
				_ = git.WorktreeRemove(ctx, wt)
			}
			if branch := branchOf(t.ID); branch != "" && !hasPR(t.ID) {
				_ = git.DeleteBranch(ctx, branch)
			}
		}
	}
	return aborted
}
