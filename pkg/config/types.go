package config

import (
	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// SessionConfig is the umbrella object returned by Initialize(): the budget
// parameters a session is launched with (§6 "Process surface"), lens
// definitions for the sector scheduler, the QA command list, and where the
// session's durable state lives on disk.
type SessionConfig struct {
	configDir string

	Budget     BudgetConfig     `yaml:"-"`
	Lenses     []types.Lens     `yaml:"lenses"`
	QA         QAConfig         `yaml:"qa"`
	Store      StoreConfig      `yaml:"store"`
	Trajectory TrajectoryConfig `yaml:"trajectory"`
}

// BudgetConfig holds the session budget parameters listed in §6.
type BudgetConfig struct {
	StepBudget       int              `yaml:"step_budget"`
	TicketStepBudget int              `yaml:"ticket_step_budget"`
	MaxPRs           int              `yaml:"max_prs"`
	Parallel         int              `yaml:"parallel"`
	CreatePRs        bool             `yaml:"create_prs"`
	Direct           bool             `yaml:"direct"`
	CrossVerify      bool             `yaml:"cross_verify"`
	PullPolicy       types.PullPolicy `yaml:"pull_policy"`
	Categories       []types.Category `yaml:"categories"`
	MinConfidence    float64          `yaml:"min_confidence"`
}

// QAConfig lists the commands run in the ticket worker's QA phase and the
// fast-verifier subset used for pre-verify/auto-advance (§4.C, §4.E).
type QAConfig struct {
	Commands      []string `yaml:"commands"`
	FastVerifiers []string `yaml:"fast_verifiers"`
}

// StoreConfig locates the session's on-disk state (§4.H).
type StoreConfig struct {
	StateDir     string `yaml:"state_dir"`
	WorktreesDir string `yaml:"worktrees_dir"`
	EventLogPath string `yaml:"event_log_path"`
}

// TrajectoryConfig configures where hand-authored trajectories live and an
// optional OCI bundle of shared trajectory templates to pull before the
// first cycle.
type TrajectoryConfig struct {
	Dir       string `yaml:"dir"`
	BundleRef string `yaml:"bundle_ref"`
}

func (c *SessionConfig) ConfigDir() string { return c.configDir }
