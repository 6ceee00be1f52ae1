package config

import "github.com/wheelwright-dev/wheelwright/pkg/types"

// DefaultBudget mirrors the teacher's builtin.go: sane values a session can
// run with if the user YAML omits them entirely.
func DefaultBudget() BudgetConfig {
	return BudgetConfig{
		StepBudget:       40,
		TicketStepBudget: 12,
		MaxPRs:           5,
		Parallel:         3,
		CreatePRs:        true,
		Direct:           false,
		CrossVerify:      false,
		PullPolicy:       types.PullPolicyWarn,
		Categories: []types.Category{
			types.CategorySecurity, types.CategoryFix, types.CategoryPerf,
			types.CategoryRefactor, types.CategoryTest, types.CategoryTypes,
			types.CategoryCleanup, types.CategoryDocs,
		},
		MinConfidence: 40,
	}
}

// DefaultLenses is the builtin formula set the scout rotates through when
// the user YAML defines none.
func DefaultLenses() []types.Lens {
	return []types.Lens{
		{Name: "bugs", Categories: []types.Category{types.CategoryFix}, Style: "defect-hunting"},
		{Name: "security", Categories: []types.Category{types.CategorySecurity}, Style: "adversarial"},
		{Name: "cleanup", Categories: []types.Category{types.CategoryCleanup, types.CategoryRefactor}, Style: "tidying"},
		{Name: "coverage", Categories: []types.Category{types.CategoryTest}, Style: "gap-finding"},
		{Name: "docs", Categories: []types.Category{types.CategoryDocs}, Style: "clarity"},
	}
}

func DefaultQA() QAConfig {
	return QAConfig{
		Commands:      []string{"go build ./...", "go vet ./...", "go test ./..."},
		FastVerifiers: []string{"golangci-lint", "eslint", "gofmt"},
	}
}

func DefaultStore(stateDir string) StoreConfig {
	return StoreConfig{
		StateDir:     stateDir,
		WorktreesDir: stateDir + "/worktrees",
		EventLogPath: stateDir + "/events.log",
	}
}

func DefaultTrajectory(stateDir string) TrajectoryConfig {
	return TrajectoryConfig{Dir: stateDir + "/trajectories"}
}
