// Package spindle detects doomed agent loops between ticket worker turns
// (§4.F): token-budget exhaustion, stalling, oscillating edits, and repeated
// output. It is pure and stateless beyond the State it is handed — callers
// own persistence of that state across turns.
package spindle

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// Config tunes the detector's thresholds. A zero Config with Enabled=false
// never aborts, regardless of how pathological the turn history looks.
type Config struct {
	Enabled             bool
	TokenBudgetAbort    int     // estimated_tokens above this aborts
	TokenBudgetWarning  int     // estimated_tokens above this (but under abort) warns
	MaxStallIterations  int     // consecutive empty-diff turns before abort; default 3
	SimilarityThreshold float64 // Jaccard word-set similarity considered "repeated"; default 0.85
	MaxSimilarOutputs   int     // consecutive similar outputs before abort; default 3
}

// DefaultConfig returns the thresholds named in §4.F when the caller hasn't
// overridden them.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		TokenBudgetAbort:    32000,
		TokenBudgetWarning:  24000,
		MaxStallIterations:  3,
		SimilarityThreshold: 0.85,
		MaxSimilarOutputs:   3,
	}
}

const historyLimit = 10

// State is the ring buffer of recent turns for one ticket worker. The zero
// value is ready to use.
type State struct {
	outputs               []string
	diffs                 []string
	totalChars            int
	iterationsSinceChange int
}

// Result is the detector's verdict for one turn.
type Result struct {
	ShouldAbort bool
	Reason      types.SpindleAbortReason // zero value when ShouldAbort is false
	Confidence  float64
	Warnings    []string
	Diagnostics map[string]any
}

// Check records one agent turn (output, diff) into state and evaluates the
// four §4.F signals in order: token budget, stalling, oscillation,
// repetition. The first tripped signal wins.
func Check(state *State, cfg Config, output, diff string) Result {
	result := check(state, cfg, output, diff)
	if result.ShouldAbort {
		slog.Warn("spindle abort", "reason", result.Reason, "confidence", result.Confidence)
	}
	return result
}

func check(state *State, cfg Config, output, diff string) Result {
	state.record(output, diff)

	if !cfg.Enabled {
		return Result{Diagnostics: state.diagnostics()}
	}

	estimatedTokens := state.totalChars / 4
	if cfg.TokenBudgetAbort > 0 && estimatedTokens > cfg.TokenBudgetAbort {
		return Result{
			ShouldAbort: true,
			Reason:      types.SpindleTokenBudget,
			Confidence:  1.0,
			Diagnostics: state.diagnostics(),
		}
	}

	maxStall := cfg.MaxStallIterations
	if maxStall <= 0 {
		maxStall = 3
	}
	if state.iterationsSinceChange >= maxStall {
		return Result{
			ShouldAbort: true,
			Reason:      types.SpindleStalling,
			Confidence:  1.0,
			Diagnostics: state.diagnostics(),
		}
	}

	if conf, ok := detectOscillation(state.diffs); ok {
		return Result{
			ShouldAbort: true,
			Reason:      types.SpindleOscillation,
			Confidence:  conf,
			Diagnostics: state.diagnostics(),
		}
	}

	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.85
	}
	maxSimilar := cfg.MaxSimilarOutputs
	if maxSimilar <= 0 {
		maxSimilar = 3
	}
	if detectRepetition(state.outputs, threshold, maxSimilar) {
		return Result{
			ShouldAbort: true,
			Reason:      types.SpindleRepetition,
			Confidence:  0.9,
			Diagnostics: state.diagnostics(),
		}
	}
	if countStuckPhrases(state.outputs) >= 3 {
		return Result{
			ShouldAbort: true,
			Reason:      types.SpindleRepetition,
			Confidence:  0.8,
			Diagnostics: state.diagnostics(),
		}
	}

	result := Result{Diagnostics: state.diagnostics()}
	if cfg.TokenBudgetWarning > 0 && estimatedTokens > cfg.TokenBudgetWarning {
		result.Warnings = append(result.Warnings, "tokenBudgetWarning")
	}
	return result
}

func (s *State) record(output, diff string) {
	s.outputs = appendBounded(s.outputs, output, historyLimit)
	s.diffs = appendBounded(s.diffs, diff, historyLimit)
	s.totalChars += len(output) + len(diff)

	if strings.TrimSpace(diff) == "" {
		s.iterationsSinceChange++
	} else {
		s.iterationsSinceChange = 0
	}
}

func appendBounded(history []string, item string, limit int) []string {
	history = append(history, item)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func (s *State) diagnostics() map[string]any {
	return map[string]any{
		"estimated_tokens":        s.totalChars / 4,
		"iterations_since_change": s.iterationsSinceChange,
		"history_length":          len(s.outputs),
	}
}

var trivialLine = regexp.MustCompile(`^[\s{}();,]*$`)

// diffLines splits a unified-style diff into added and removed content
// lines, discarding trivial punctuation-only lines from both sets.
func diffLines(diff string) (added, removed []string) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			content := strings.TrimPrefix(line, "+")
			if !trivialLine.MatchString(content) {
				added = append(added, strings.TrimSpace(content))
			}
		case strings.HasPrefix(line, "-"):
			content := strings.TrimPrefix(line, "-")
			if !trivialLine.MatchString(content) {
				removed = append(removed, strings.TrimSpace(content))
			}
		}
	}
	return added, removed
}

// dominantDirection reports whether a diff primarily adds or primarily
// removes content. Empty when neither side dominates (mixed edit).
func dominantDirection(diff string) string {
	added, removed := diffLines(diff)
	switch {
	case len(added) > 0 && len(removed) == 0:
		return "add"
	case len(removed) > 0 && len(added) == 0:
		return "remove"
	default:
		return ""
	}
}

// detectOscillation looks at the tail of the diff history for an
// add-then-remove (or remove-then-add) pair, or a three-diff
// add-remove-add/remove-add-remove pattern (§4.F).
func detectOscillation(diffs []string) (confidence float64, found bool) {
	n := len(diffs)
	if n < 2 {
		return 0, false
	}

	prev, last := dominantDirection(diffs[n-2]), dominantDirection(diffs[n-1])
	pairOscillates := prev != "" && last != "" && prev != last

	if n >= 3 {
		a, b, c := dominantDirection(diffs[n-3]), prev, last
		if a != "" && b != "" && c != "" && a == c && a != b {
			return 0.9, true
		}
	}
	if pairOscillates {
		return 0.8, true
	}
	return 0, false
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func wordSet(s string) map[string]struct{} {
	words := wordSplit.Split(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccardSimilarity(a, b string) float64 {
	setA, setB := wordSet(a), wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// detectRepetition reports whether the most recent maxSimilar outputs are
// all pairwise similar to each other above threshold.
func detectRepetition(outputs []string, threshold float64, maxSimilar int) bool {
	if len(outputs) < maxSimilar {
		return false
	}
	tail := outputs[len(outputs)-maxSimilar:]
	for i := 1; i < len(tail); i++ {
		if jaccardSimilarity(tail[i-1], tail[i]) < threshold {
			return false
		}
	}
	return true
}

var stuckPhrases = []string{"let me try", "i apologize", "that didn't work"}

func countStuckPhrases(outputs []string) int {
	count := 0
	for _, output := range outputs {
		lower := strings.ToLower(output)
		for _, phrase := range stuckPhrases {
			count += strings.Count(lower, phrase)
		}
	}
	return count
}
