package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

func TestInitializeOnMissingConfigDirUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(context.Background(), filepath.Join(dir, "nonexistent"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBudget().Parallel, cfg.Budget.Parallel)
	assert.Len(t, cfg.Lenses, len(DefaultLenses()))
}

func TestInitializeMergesUserYAMLOverBuiltinDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
budget:
  parallel: 7
  max_prs: 1
qa:
  commands:
    - "go test ./..."
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wheelwright.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Budget.Parallel)
	assert.Equal(t, 1, cfg.Budget.MaxPRs)
	assert.Equal(t, DefaultBudget().StepBudget, cfg.Budget.StepBudget, "unset fields keep builtin defaults")
	assert.Equal(t, []string{"go test ./..."}, cfg.QA.Commands)
}

func TestInitializeExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WHEELWRIGHT_TEST_PARALLEL", "4")
	yamlContent := "budget:\n  parallel: ${WHEELWRIGHT_TEST_PARALLEL}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wheelwright.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Budget.Parallel)
}

func TestInitializeRejectsInvalidPullPolicy(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "budget:\n  pull_policy: explode\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wheelwright.yaml"), []byte(yamlContent), 0o644))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestInitializeRejectsZeroParallel(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "budget:\n  parallel: 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wheelwright.yaml"), []byte(yamlContent), 0o644))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitializeRejectsEmptyQACommands(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "qa:\n  commands: []\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wheelwright.yaml"), []byte(yamlContent), 0o644))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitializeDerivesStorePathsFromConfigDir(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Store.StateDir)
	assert.Equal(t, filepath.Join(dir, "state")+"/worktrees", cfg.Store.WorktreesDir)
}

func TestValidateRejectsUnknownCategory(t *testing.T) {
	cfg := &SessionConfig{
		Budget: BudgetConfig{
			Parallel: 1, StepBudget: 1, MinConfidence: 50,
			PullPolicy: types.PullPolicyWarn,
			Categories: []types.Category{"not-a-category"},
		},
		QA: QAConfig{Commands: []string{"go test ./..."}},
	}
	err := validate(cfg)
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestConfigDirAccessor(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ConfigDir())
}
