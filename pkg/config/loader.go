package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// wheelwrightYAML is the shape of <configDir>/wheelwright.yaml.
type wheelwrightYAML struct {
	Budget     *BudgetConfig     `yaml:"budget"`
	Lenses     []types.Lens      `yaml:"lenses"`
	QA         *QAConfig         `yaml:"qa"`
	Store      *StoreConfig      `yaml:"store"`
	Trajectory *TrajectoryConfig `yaml:"trajectory"`
}

// Initialize loads wheelwright.yaml from configDir, expands environment
// variables, merges it over the builtin defaults, and validates the result.
// Mirrors the teacher's pkg/config.Initialize pipeline.
func Initialize(ctx context.Context, configDir string) (*SessionConfig, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading session configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("session configuration loaded",
		"lenses", len(cfg.Lenses), "categories", len(cfg.Budget.Categories),
		"parallel", cfg.Budget.Parallel)
	return cfg, nil
}

func load(configDir string) (*SessionConfig, error) {
	path := filepath.Join(configDir, "wheelwright.yaml")
	var raw wheelwrightYAML

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = ExpandEnv(data)
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, NewLoadError("wheelwright.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
	case os.IsNotExist(err):
		// absent config dir is valid: the session runs on pure defaults.
	default:
		return nil, NewLoadError("wheelwright.yaml", err)
	}

	stateDir := filepath.Join(configDir, "state")

	budget := DefaultBudget()
	if raw.Budget != nil {
		if err := mergo.Merge(&budget, raw.Budget, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge budget config: %w", err)
		}
	}

	store := DefaultStore(stateDir)
	if raw.Store != nil {
		if err := mergo.Merge(&store, raw.Store, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge store config: %w", err)
		}
	}

	trajectory := DefaultTrajectory(stateDir)
	if raw.Trajectory != nil {
		if err := mergo.Merge(&trajectory, raw.Trajectory, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge trajectory config: %w", err)
		}
	}

	qa := DefaultQA()
	if raw.QA != nil {
		if err := mergo.Merge(&qa, raw.QA, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge qa config: %w", err)
		}
	}

	lenses := raw.Lenses
	if len(lenses) == 0 {
		lenses = DefaultLenses()
	}

	return &SessionConfig{
		configDir:  configDir,
		Budget:     budget,
		Lenses:     lenses,
		QA:         qa,
		Store:      store,
		Trajectory: trajectory,
	}, nil
}

func validate(cfg *SessionConfig) error {
	if cfg.Budget.Parallel < 1 {
		return NewValidationError("budget.parallel", fmt.Errorf("%w: must be >= 1", ErrValidationFailed))
	}
	if cfg.Budget.StepBudget < 1 {
		return NewValidationError("budget.step_budget", fmt.Errorf("%w: must be >= 1", ErrValidationFailed))
	}
	if cfg.Budget.MinConfidence < 0 || cfg.Budget.MinConfidence > 100 {
		return NewValidationError("budget.min_confidence", fmt.Errorf("%w: must be in [0,100]", ErrValidationFailed))
	}
	switch cfg.Budget.PullPolicy {
	case types.PullPolicyHalt, types.PullPolicyWarn:
	default:
		return NewValidationError("budget.pull_policy", fmt.Errorf("%w: %q", ErrValidationFailed, cfg.Budget.PullPolicy))
	}
	for _, c := range cfg.Budget.Categories {
		if !c.IsValid() {
			return NewValidationError("budget.categories", fmt.Errorf("%w: unknown category %q", ErrValidationFailed, c))
		}
	}
	for _, l := range cfg.Lenses {
		if l.Name == "" {
			return NewValidationError("lenses", fmt.Errorf("%w: lens missing name", ErrValidationFailed))
		}
	}
	if len(cfg.QA.Commands) == 0 {
		return NewValidationError("qa.commands", fmt.Errorf("%w: at least one QA command required", ErrValidationFailed))
	}
	return nil
}
