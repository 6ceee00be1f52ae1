package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wheelwright-dev/wheelwright/pkg/capability"
	"github.com/wheelwright-dev/wheelwright/pkg/config"
	"github.com/wheelwright-dev/wheelwright/pkg/proposal"
	"github.com/wheelwright-dev/wheelwright/pkg/scope"
	"github.com/wheelwright-dev/wheelwright/pkg/sector"
	"github.com/wheelwright-dev/wheelwright/pkg/spindle"
	"github.com/wheelwright-dev/wheelwright/pkg/store"
	"github.com/wheelwright-dev/wheelwright/pkg/telemetry"
	"github.com/wheelwright-dev/wheelwright/pkg/ticket"
	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// Deps are the external collaborators one cycle drives. Sectors is mutated
// in place as scans complete (§4.B RecordScanResult).
type Deps struct {
	Exec    capability.ExecBackend
	Repo    capability.TicketRepo
	Events  *store.EventLog
	Sectors []types.Sector
	RepoDir string // repository root tickets execute against in direct mode
}

// RunCycle drives one full cycle: sector selection, a scout turn, the
// proposal pipeline, ticket dispatch, and the PLAN/EXECUTE/VERIFY/QA walk
// for each dispatched ticket. It runs in "direct" mode (§6 budget.direct):
// tickets execute straight against Deps.RepoDir, with no worktree or PR —
// the mode that needs no concrete capability.Git implementation.
func RunCycle(ctx context.Context, deps Deps, cfg config.SessionConfig, cycleCount int) (CycleOutcome, error) {
	ctx, cycleSpan := telemetry.StartCycleSpan(ctx, cycleCount, "")
	defer cycleSpan.End()
	slog.Info("cycle starting", "cycle", cycleCount)

	target, ok := sector.SelectCandidate(deps.Sectors, cycleCount)
	if !ok {
		slog.Info("cycle skipped: no sector candidate", "cycle", cycleCount)
		return CycleOutcome{}, nil
	}
	slog.Info("sector selected", "cycle", cycleCount, "sector", target.Sector.Path, "scope", target.Scope)

	proposals, err := scoutProposals(ctx, deps, target, cfg)
	if err != nil {
		return CycleOutcome{}, fmt.Errorf("scout: %w", err)
	}

	existing, err := existingContext(ctx, deps.Repo)
	if err != nil {
		return CycleOutcome{}, fmt.Errorf("load existing tickets: %w", err)
	}
	proposals = proposal.Dedup(proposals, existing)
	proposals = proposal.ScopeFilter(proposals, proposal.FilterParams{
		SectorOrStepScope: target.Scope,
		DeniedPaths:       types.DefaultDeniedPaths,
		MinConfidence:     int(cfg.Budget.MinConfidence),
		CategoryWhitelist: cfg.Budget.Categories,
	})

	pending := make([]ticket.PendingTicket, 0, len(proposals))
	allowedPaths := make(map[string][]string, len(proposals))
	for _, p := range proposals {
		t := ticketFromProposal(p)
		pending = append(pending, ticket.PendingTicket{Ticket: t, Priority: int(t.ImpactScore * 10)})
		allowedPaths[t.ID] = t.AllowedPaths
	}

	accepted, deconflicted := ticket.DispatchBatch(pending, allowedPaths, cfg.Budget.Parallel)
	if len(deconflicted) > 0 {
		deps.emit(types.EventParallelDeconflict, map[string]any{"deconflicted": len(deconflicted)})
		slog.Info("tickets deconflicted out of this batch", "cycle", cycleCount, "count", len(deconflicted))
	}

	outcome := CycleOutcome{}
	for _, t := range accepted {
		if err := deps.Repo.CreateTicket(ctx, t); err != nil {
			continue
		}
		result := runTicket(ctx, deps, cfg, t)
		switch {
		case result.merged:
			outcome.Succeeded = append(outcome.Succeeded, t.ID)
		case result.failed:
			outcome.Failed = append(outcome.Failed, t.ID)
		default:
			outcome.NoChanges = append(outcome.NoChanges, t.ID)
		}
	}

	for i := range deps.Sectors {
		if deps.Sectors[i].Path == target.Sector.Path {
			sector.RecordScanResult(&deps.Sectors[i], cycleCount, len(proposals), time.Now().UnixMilli())
			break
		}
	}
	telemetry.EndCycleSpan(cycleSpan, len(outcome.Succeeded), "")
	slog.Info("cycle finished", "cycle", cycleCount,
		"succeeded", len(outcome.Succeeded), "failed", len(outcome.Failed), "no_change", len(outcome.NoChanges))
	return outcome, nil
}

func (d Deps) emit(t types.EventType, payload map[string]any) {
	if d.Events == nil {
		return
	}
	ev, err := d.Events.Append(t, payload)
	if err != nil {
		return
	}
	if d.Repo != nil {
		_ = d.Repo.AppendEvent(context.Background(), ev)
	}
}

func scoutProposals(ctx context.Context, deps Deps, target sector.Target, cfg config.SessionConfig) ([]types.Proposal, error) {
	prompt := fmt.Sprintf(
		"Scan %s for improvement opportunities. Respond with a JSON array of proposals, "+
			"each with title, description, category, files, allowed_paths, acceptance_criteria, "+
			"verification_commands, confidence (0-100), impact_score (0-10), rationale, estimated_complexity.",
		target.Sector.Path,
	)
	res, err := deps.Exec.Run(ctx, capability.ExecRequest{Prompt: prompt, WorkDir: deps.RepoDir})
	if err != nil {
		return nil, err
	}
	deps.emit(types.EventScoutOutput, map[string]any{"sector": target.Sector.Path, "scope": target.Scope})

	var proposals []types.Proposal
	if err := json.Unmarshal([]byte(res.Output), &proposals); err != nil {
		return nil, nil // agent returned non-JSON or an empty scan; treat as zero-yield
	}
	return proposals, nil
}

func existingContext(ctx context.Context, repo capability.TicketRepo) (proposal.Existing, error) {
	if repo == nil {
		return proposal.Existing{}, nil
	}
	var existing proposal.Existing
	for _, status := range []types.TicketStatus{types.TicketReady, types.TicketInProgress} {
		tickets, err := repo.ListTickets(ctx, status)
		if err != nil {
			return proposal.Existing{}, err
		}
		for _, t := range tickets {
			existing.ReadyOrInProgressTitles = append(existing.ReadyOrInProgressTitles, t.Title)
		}
	}
	// types.Ticket carries no completion timestamp, so the 24h recency window
	// from §4.D can't be applied here; every done ticket counts toward dedup.
	done, err := repo.ListTickets(ctx, types.TicketDone)
	if err != nil {
		return proposal.Existing{}, err
	}
	for _, t := range done {
		existing.RecentlyDoneTitles = append(existing.RecentlyDoneTitles, t.Title)
	}
	return existing, nil
}

func ticketFromProposal(p types.Proposal) types.Ticket {
	return types.Ticket{
		ID:                   uuid.NewString(),
		Title:                p.Title,
		Description:          p.Description,
		Category:             p.Category,
		AllowedPaths:         p.AllowedPaths,
		VerificationCommands: p.VerificationCommands,
		Status:               types.TicketReady,
		Priority:             int(p.WeightedScore() * 10),
		Confidence:           p.Confidence,
		ImpactScore:          p.ImpactScore,
	}
}

type ticketRunResult struct {
	merged, failed bool
}

// runTicket walks one ticket through PLAN, EXECUTE, VERIFY, QA, and
// (optionally) CROSS_QA, recording events and metrics at each transition.
func runTicket(ctx context.Context, deps Deps, cfg config.SessionConfig, t types.Ticket) ticketRunResult {
	ctx, ticketSpan := telemetry.StartTicketSpan(ctx, t.ID, string(t.Category))
	defer func() { telemetry.EndTicketSpan(ticketSpan, "") }()
	slog.Info("ticket starting", "ticket", t.ID, "category", t.Category, "title", t.Title)

	policy := scope.Derive(scope.Params{
		AllowedPaths:      t.AllowedPaths,
		Category:          t.Category,
		MaxLinesPerTicket: cfg.Budget.TicketStepBudget * 50,
		WorktreeRoot:      deps.RepoDir,
	})
	worker := ticket.NewWorker(t, policy, deps.RepoDir, spindle.DefaultConfig())
	worker.CrossVerify = cfg.Budget.CrossVerify

	runID := uuid.NewString()
	_ = deps.Repo.RecordRun(ctx, runID, t.ID, time.Now())

	var plan ticket.Plan
	havePlan := false
	if worker.Phase == ticket.PhasePlan {
		p, ok := submitPlan(ctx, deps, worker)
		if !ok {
			slog.Info("ticket transition", "ticket", t.ID, "outcome", "plan_rejected")
			finishTicket(ctx, deps, runID, worker, "plan_rejected")
			return ticketRunResult{failed: true}
		}
		plan, havePlan = p, true
	}

	res, ok := runExecute(ctx, deps, worker, plan, havePlan)
	if !ok {
		slog.Info("ticket transition", "ticket", t.ID, "outcome", string(worker.FailureReason))
		finishTicket(ctx, deps, runID, worker, string(worker.FailureReason))
		return ticketRunResult{failed: true}
	}

	_, spindleSpan := telemetry.StartSpindleCheckSpan(ctx, t.ID, 0)
	spindleResult := worker.AfterTurn(res.Output, res.Diff)
	telemetry.EndSpindleCheckSpan(spindleSpan, spindleResult.ShouldAbort, spindleResult.Reason)
	if spindleResult.ShouldAbort {
		telemetry.RecordSpindleAbort(spindleResult.Reason)
		slog.Info("spindle abort", "ticket", t.ID, "reason", spindleResult.Reason)
		finishTicket(ctx, deps, runID, worker, string(worker.FailureReason))
		return ticketRunResult{failed: true}
	}

	runVerify(ctx, deps, cfg, worker)

	worker.Phase = ticket.PhaseQA
	qa := ticket.RunQA(ctx, cfg.QA.Commands, nil, deps.Exec, deps.RepoDir)
	recordQAResults(qa, t.ID)

	if cfg.Budget.CrossVerify && qa.Passed {
		qa = runCrossQA(ctx, deps, cfg, worker, qa)
	}

	outcome := "failed"
	result := ticketRunResult{failed: true}
	if qa.Passed {
		worker.Phase = ticket.PhaseTerminal
		outcome = "merged"
		result = ticketRunResult{merged: true}
	}
	slog.Info("ticket transition", "ticket", t.ID, "outcome", outcome)
	telemetry.RecordTicketOutcome(string(t.Category), outcome)
	finishTicket(ctx, deps, runID, worker, outcome)
	return result
}

func recordQAResults(qa ticket.QAOutcome, ticketID string) {
	for _, r := range qa.Results {
		if !r.Passed {
			class := ticket.ClassifyQAError(r.Output)
			telemetry.RecordQARetry(r.Command, string(class))
			slog.Info("qa command failed", "ticket", ticketID, "command", r.Command, "class", class)
		}
	}
}

// runExecute invokes the agent's EXECUTE turn and, when an approved plan is
// on hand, validates the TICKET_RESULT against it (§4.E EXECUTE). A
// surprise-file violation is reported with SCOPE_BLOCKED and given one
// retry with the surprise files folded into the policy's allowed paths,
// matching "agent must revert and resubmit". A line-budget violation is
// not retried.
func runExecute(ctx context.Context, deps Deps, worker *ticket.Worker, plan ticket.Plan, havePlan bool) (capability.ExecResult, bool) {
	res, err := deps.Exec.Run(ctx, capability.ExecRequest{Prompt: executePrompt(worker), WorkDir: deps.RepoDir})
	if err != nil {
		worker.FailureReason = types.FailureReason("exec_error:" + err.Error())
		return capability.ExecResult{}, false
	}
	if !havePlan {
		return res, true
	}

	execResult := executeResultFrom(res)
	verr := ticket.ValidateExecuteResult(execResult, plan, worker.Policy.MaxLines)
	if verr == nil {
		return res, true
	}

	var surprise *ticket.ErrSurpriseFiles
	if !errors.As(verr, &surprise) {
		worker.FailureReason = types.FailureLineBudget
		return capability.ExecResult{}, false
	}

	deps.emit(types.EventScopeBlocked, map[string]any{"ticket": worker.Ticket.ID, "surprise_files": surprise.Files})
	slog.Info("scope blocked, retrying with expanded scope", "ticket", worker.Ticket.ID, "surprise_files", surprise.Files)
	worker.Policy.AllowedPaths = append(worker.Policy.AllowedPaths, surprise.Files...)

	res, err = deps.Exec.Run(ctx, capability.ExecRequest{Prompt: revertAndResubmitPrompt(worker, surprise.Files), WorkDir: deps.RepoDir})
	if err != nil {
		worker.FailureReason = types.FailureReason("exec_error:" + err.Error())
		return capability.ExecResult{}, false
	}
	if verr := ticket.ValidateExecuteResult(executeResultFrom(res), plan, worker.Policy.MaxLines); verr != nil {
		worker.FailureReason = types.FailureScopeBlocked
		return capability.ExecResult{}, false
	}
	return res, true
}

func executeResultFrom(res capability.ExecResult) ticket.ExecuteResult {
	added, removed := countDiffLines(res.Diff)
	return ticket.ExecuteResult{
		ChangedFiles: res.ChangedFiles,
		LinesAdded:   added,
		LinesRemoved: removed,
		Diff:         res.Diff,
		Stdout:       res.Stdout,
	}
}

// countDiffLines counts added/removed lines in a unified diff, the same
// "+"/"-" convention spindle.diffLines uses, skipping the +++/--- headers.
func countDiffLines(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

// runVerify runs the fast-verifier subset; on failure it re-invokes the
// agent once with a fix prompt and re-checks, then proceeds to QA
// regardless of the outcome — QA fails authoritatively on persistence
// (§4.E VERIFY).
func runVerify(ctx context.Context, deps Deps, cfg config.SessionConfig, worker *ticket.Worker) {
	worker.Phase = ticket.PhaseVerify
	failing, _ := ticket.RunVerify(ctx, cfg.QA.Commands, nil, deps.Exec, deps.RepoDir)
	if len(failing) == 0 {
		return
	}
	slog.Info("verify failed, re-invoking agent", "ticket", worker.Ticket.ID, "failing", len(failing))
	if _, err := deps.Exec.Run(ctx, capability.ExecRequest{Prompt: verifyFixPrompt(worker, failing), WorkDir: deps.RepoDir}); err != nil {
		return
	}
	failing, _ = ticket.RunVerify(ctx, cfg.QA.Commands, nil, deps.Exec, deps.RepoDir)
	if len(failing) > 0 {
		slog.Info("verify still failing after fix turn, proceeding to QA", "ticket", worker.Ticket.ID, "failing", len(failing))
	}
}

// runCrossQA re-runs QA in a clean checkout once QA has already passed
// (§4.E CROSS_QA). Failure sends the worker back toward EXECUTE rather
// than terminal: finishTicket leaves it non-terminal, so it surfaces as
// blocked for a later cycle's dispatch to pick back up.
func runCrossQA(ctx context.Context, deps Deps, cfg config.SessionConfig, worker *ticket.Worker, qa ticket.QAOutcome) ticket.QAOutcome {
	worker.Phase = ticket.PhaseCrossQA
	crossQA := ticket.RunQA(ctx, cfg.QA.Commands, nil, deps.Exec, deps.RepoDir)
	recordQAResults(crossQA, worker.Ticket.ID)
	if crossQA.Passed {
		return qa
	}
	slog.Info("cross-qa failed, returning ticket to EXECUTE", "ticket", worker.Ticket.ID)
	deps.emit(types.EventQAFailed, map[string]any{"ticket": worker.Ticket.ID, "phase": string(ticket.PhaseCrossQA)})
	worker.Phase = ticket.PhaseExecute
	worker.FailureReason = types.FailureQACode
	return crossQA
}

func submitPlan(ctx context.Context, deps Deps, worker *ticket.Worker) (ticket.Plan, bool) {
	res, err := deps.Exec.Run(ctx, capability.ExecRequest{
		Prompt:  planPrompt(worker),
		WorkDir: deps.RepoDir,
	})
	if err != nil {
		return ticket.Plan{}, false
	}

	var plan ticket.Plan
	if err := json.Unmarshal([]byte(res.Output), &plan); err != nil {
		return ticket.Plan{}, false
	}
	outcome, err := worker.SubmitPlan(plan)
	deps.emit(types.EventPlanSubmitted, map[string]any{"ticket": worker.Ticket.ID, "outcome": string(outcome)})
	slog.Info("plan submitted", "ticket", worker.Ticket.ID, "outcome", string(outcome))
	return plan, err == nil && outcome == ticket.PlanApproved
}

func planPrompt(w *ticket.Worker) string {
	return fmt.Sprintf("Submit a PLAN for ticket %q (%s): %s", w.Ticket.Title, w.Ticket.Category, w.Ticket.Description)
}

func executePrompt(w *ticket.Worker) string {
	return fmt.Sprintf("Execute the approved plan for ticket %q. Allowed paths: %v", w.Ticket.Title, w.Policy.AllowedPaths)
}

func revertAndResubmitPrompt(w *ticket.Worker, surpriseFiles []string) string {
	return fmt.Sprintf(
		"Your previous turn touched files outside the approved plan for ticket %q: %v. "+
			"Revert those changes and resubmit, staying within the allowed paths: %v",
		w.Ticket.Title, surpriseFiles, w.Policy.AllowedPaths)
}

func verifyFixPrompt(w *ticket.Worker, failing []ticket.QACommandResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix the following verifier failures for ticket %q:\n", w.Ticket.Title)
	for _, r := range failing {
		fmt.Fprintf(&b, "- %s:\n%s\n", r.Command, ticket.TruncateForFixPrompt(r.Output))
	}
	return b.String()
}

func finishTicket(ctx context.Context, deps Deps, runID string, worker *ticket.Worker, outcome string) {
	status := types.TicketDone
	if worker.Phase != ticket.PhaseTerminal {
		status = types.TicketBlocked
	}
	_ = deps.Repo.UpdateTicketStatus(ctx, worker.Ticket.ID, status)
	_ = deps.Repo.CompleteRun(ctx, runID, time.Now(), outcome)
	deps.emit(types.EventTicketResult, map[string]any{"ticket": worker.Ticket.ID, "outcome": outcome})
}
