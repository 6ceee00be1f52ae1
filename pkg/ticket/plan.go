// Package ticket implements the ticket worker FSM (§4.E): PLAN validation,
// EXECUTE/VERIFY/QA/CROSS_QA phases, QA error classification, and parallel
// dispatch deconfliction. Each worker runs against one ticket on a
// dedicated git worktree.
package ticket

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wheelwright-dev/wheelwright/pkg/scope"
	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// FileAction is what a plan intends to do to one path.
type FileAction string

const (
	ActionCreate FileAction = "create"
	ActionModify FileAction = "modify"
	ActionDelete FileAction = "delete"
)

// FileTouch is one entry in a plan's files_to_touch list.
type FileTouch struct {
	Path   string
	Action FileAction
	Reason string
}

// Plan is the agent-submitted PLAN_SUBMITTED payload (§4.E).
type Plan struct {
	FilesToTouch   []FileTouch
	ExpectedTests  []string
	RiskLevel      types.RiskLevel
	EstimatedLines int
}

// ErrPlanRejected wraps a specific plan-validation failure; the caller
// counts rejections toward the 3-strike cap (§4.E, §7).
var ErrPlanRejected = errors.New("plan rejected")

// ValidatePlanScope runs the server-side PLAN checks: a non-empty
// files_to_touch within policy.max_files, estimated_lines within
// policy.max_lines, a known risk_level, and every path permitted by the
// scope policy.
func ValidatePlanScope(plan Plan, policy types.ScopePolicy, category types.Category, worktreeRoot string) error {
	if len(plan.FilesToTouch) == 0 {
		return fmt.Errorf("%w: files_to_touch is empty", ErrPlanRejected)
	}
	if policy.MaxFiles > 0 && len(plan.FilesToTouch) > policy.MaxFiles {
		return fmt.Errorf("%w: %d files exceeds max_files %d", ErrPlanRejected, len(plan.FilesToTouch), policy.MaxFiles)
	}
	if policy.MaxLines > 0 && plan.EstimatedLines > policy.MaxLines {
		return fmt.Errorf("%w: estimated_lines %d exceeds max_lines %d", ErrPlanRejected, plan.EstimatedLines, policy.MaxLines)
	}
	switch plan.RiskLevel {
	case types.RiskLow, types.RiskMedium, types.RiskHigh:
	default:
		return fmt.Errorf("%w: unknown risk_level %q", ErrPlanRejected, plan.RiskLevel)
	}

	for _, ft := range plan.FilesToTouch {
		if err := isFileAllowed(ft.Path, policy, category, worktreeRoot); err != nil {
			return fmt.Errorf("%w: %s", ErrPlanRejected, err)
		}
	}
	return nil
}

// isFileAllowed is the mandatory credential/scope gate a plan path must
// pass: allowed_paths match, denied_paths/sensitive extensions excluded,
// worktree containment when applicable (§6).
func isFileAllowed(path string, policy types.ScopePolicy, category types.Category, worktreeRoot string) error {
	if len(policy.AllowedPaths) > 0 && !matchesAnyPrefix(path, policy.AllowedPaths) {
		return fmt.Errorf("%q is outside the ticket's allowed paths", path)
	}

	resolved := path
	if worktreeRoot != "" {
		resolved = filepath.Join(worktreeRoot, path)
	}
	return scope.Enforce(policy, category, resolved, path)
}

func matchesAnyPrefix(path string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.TrimSuffix(a, "/**")
		if path == a || strings.HasPrefix(path, a+"/") {
			return true
		}
	}
	return false
}

// PlanOutcome is what happens to a submitted plan (§4.E).
type PlanOutcome string

const (
	PlanApproved          PlanOutcome = "approved"
	PlanRejected          PlanOutcome = "rejected"
	PlanBlockedNeedsHuman PlanOutcome = "blocked_needs_human"
)

const maxPlanRejections = 3

// EvaluatePlan applies the PLAN phase's rejection-cap and high-risk
// routing rules on top of ValidatePlanScope (§4.E):
//   - any validation failure counts as a rejection; the 4th moves to
//     BLOCKED_NEEDS_HUMAN;
//   - a high-risk plan always blocks for a human, regardless of validity;
//   - docs-category tickets skip PLAN unless risk is elevated/high.
func EvaluatePlan(plan Plan, policy types.ScopePolicy, category types.Category, worktreeRoot string, priorRejections int) (PlanOutcome, error) {
	if category == types.CategoryDocs && plan.RiskLevel != types.RiskElevated && plan.RiskLevel != types.RiskHigh {
		return PlanApproved, nil
	}
	if plan.RiskLevel == types.RiskHigh {
		return PlanBlockedNeedsHuman, nil
	}

	if err := ValidatePlanScope(plan, policy, category, worktreeRoot); err != nil {
		if priorRejections+1 >= maxPlanRejections+1 {
			return PlanBlockedNeedsHuman, err
		}
		return PlanRejected, err
	}
	return PlanApproved, nil
}
