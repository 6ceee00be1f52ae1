package spindle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

func TestCheckDisabledNeverAborts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	state := &State{}

	for i := 0; i < 10; i++ {
		result := Check(state, cfg, strings.Repeat("x", 1_000_000), "+const DEBUG=true;")
		require.False(t, result.ShouldAbort)
	}
}

func TestCheckTokenBudgetExhaustedAborts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenBudgetAbort = 100
	state := &State{}

	result := Check(state, cfg, strings.Repeat("a", 500), "+x")
	require.True(t, result.ShouldAbort)
	assert.Equal(t, types.SpindleTokenBudget, result.Reason)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestCheckTokenBudgetWarningBelowAbort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenBudgetAbort = 100000
	cfg.TokenBudgetWarning = 10
	state := &State{}

	result := Check(state, cfg, strings.Repeat("a", 100), "+some real change")
	require.False(t, result.ShouldAbort)
	assert.Contains(t, result.Warnings, "tokenBudgetWarning")
}

func TestCheckStallingAbortsAfterMaxIterations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStallIterations = 3
	state := &State{}

	var result Result
	for i := 0; i < 3; i++ {
		result = Check(state, cfg, "thinking about it", "")
	}
	require.True(t, result.ShouldAbort)
	assert.Equal(t, types.SpindleStalling, result.Reason)
}

func TestCheckStallingResetsOnChange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStallIterations = 3
	state := &State{}

	Check(state, cfg, "no change yet", "")
	Check(state, cfg, "no change yet", "")
	result := Check(state, cfg, "applied a fix", "+const x = 1;\n-const x = 0;")
	require.False(t, result.ShouldAbort)
	assert.Equal(t, 0, state.iterationsSinceChange)
}

// TestCheckOscillationAbortsOnAlternatingDebugFlag mirrors the spec's
// worked example: the agent alternates adding and removing the same debug
// constant three times in a row.
func TestCheckOscillationAbortsOnAlternatingDebugFlag(t *testing.T) {
	cfg := DefaultConfig()
	state := &State{}

	diffs := []string{
		"+const DEBUG=true;",
		"-const DEBUG=true;",
		"+const DEBUG=true;",
	}

	var result Result
	for _, diff := range diffs {
		result = Check(state, cfg, "adjusting debug flag", diff)
		if result.ShouldAbort {
			break
		}
	}
	require.True(t, result.ShouldAbort)
	assert.Equal(t, types.SpindleOscillation, result.Reason)
	assert.GreaterOrEqual(t, result.Confidence, 0.8)
}

func TestCheckOscillationIgnoresTrivialLines(t *testing.T) {
	cfg := DefaultConfig()
	state := &State{}

	Check(state, cfg, "step one", "+{\n+}\n+;")
	result := Check(state, cfg, "step two", "-{\n-}\n-;")
	assert.False(t, result.ShouldAbort, "punctuation-only lines must not count as add/remove content")
}

func TestCheckRepetitionAbortsOnSimilarOutputs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSimilarOutputs = 3
	cfg.SimilarityThreshold = 0.8
	state := &State{}

	outputs := []string{
		"I will fix the failing test by adjusting the assertion",
		"I will fix the failing test by adjusting the assertion now",
		"I will fix the failing test by adjusting the assertion again",
	}

	var result Result
	for _, output := range outputs {
		result = Check(state, cfg, output, "+unrelated filler line one two three")
	}
	require.True(t, result.ShouldAbort)
	assert.Equal(t, types.SpindleRepetition, result.Reason)
}

func TestCheckStuckPhrasesAbortAfterThreeOccurrences(t *testing.T) {
	cfg := DefaultConfig()
	state := &State{}

	outputs := []string{
		"Let me try a different approach to the failing build",
		"That didn't work, let me try something else entirely",
		"I apologize, let me try once more with a new strategy",
	}

	var result Result
	for _, output := range outputs {
		result = Check(state, cfg, output, "+distinct substantive diff content each round")
	}
	require.True(t, result.ShouldAbort)
	assert.Equal(t, types.SpindleRepetition, result.Reason)
}

func TestDiagnosticsAlwaysPresent(t *testing.T) {
	cfg := DefaultConfig()
	state := &State{}
	result := Check(state, cfg, "normal output", "+a genuine change")
	require.NotNil(t, result.Diagnostics)
	assert.Contains(t, result.Diagnostics, "estimated_tokens")
	assert.Contains(t, result.Diagnostics, "iterations_since_change")
}

func TestJaccardSimilarityIdenticalIsOne(t *testing.T) {
	assert.Equal(t, 1.0, jaccardSimilarity("same words here", "same words here"))
}

func TestJaccardSimilarityDisjointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, jaccardSimilarity("alpha beta gamma", "delta epsilon zeta"))
}
