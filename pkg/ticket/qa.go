package ticket

import (
	"regexp"
	"strings"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// QACommandResult is one QA command's outcome.
type QACommandResult struct {
	Command string
	Passed  bool
	Output  string
}

var environmentMarkers = []string{"permission denied", "enoent", "missing env", "econnrefused"}
var timeoutMarkers = []string{"timed out", "etimedout", "sigterm", "sigkill"}

// ClassifyQAError maps a failing command's combined output to a retry
// class (§4.E):
//   - environment (permission denied, ENOENT, missing env var, ECONNREFUSED)
//   - timeout (timed out, ETIMEDOUT, SIGTERM/SIGKILL)
//   - code (syntax/type/assertion failures — the default for anything
//     recognizable as a QA tool's own failure report)
//   - unknown (anything else)
func ClassifyQAError(output string) types.QaErrorClass {
	lower := strings.ToLower(output)
	for _, marker := range environmentMarkers {
		if strings.Contains(lower, marker) {
			return types.QaErrorEnvironment
		}
	}
	for _, marker := range timeoutMarkers {
		if strings.Contains(lower, marker) {
			return types.QaErrorTimeout
		}
	}
	if errorSignaturePattern.MatchString(output) {
		return types.QaErrorCode
	}
	return types.QaErrorUnknown
}

var errorSignaturePattern = regexp.MustCompile(
	`(?i)TypeError|AssertionError|FAIL\b|error\[E\d+\]|panic:|Exception\b`,
)

// ExtractErrorSignature pulls the first recognizable error marker out of a
// command's output, for use as a learnings key (§4.E).
func ExtractErrorSignature(output string) (string, bool) {
	match := errorSignaturePattern.FindString(output)
	if match == "" {
		return "", false
	}
	return match, true
}

var fastVerifierNames = map[string]bool{
	"eslint": true, "biome": true, "tsc": true, "mypy": true, "pyright": true,
	"ruff": true, "clippy": true, "golangci-lint": true, "rubocop": true, "credo": true,
	"lint": true, "typecheck": true, "check": true,
}

// IsFastVerifier reports whether a QA command should run during VERIFY
// (linters/type-checkers), matched by known tool name or generic command
// name (§4.E).
func IsFastVerifier(command string) bool {
	lower := strings.ToLower(command)
	for name := range fastVerifierNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// BaselineFailure records a command that was already failing before the
// ticket's changes (§3 qa-baseline.json).
type BaselineFailure struct {
	Command string
	Detail  string
}

// IsPreExisting reports whether cmd is a known baseline failure.
func IsPreExisting(cmd string, baseline []BaselineFailure) bool {
	for _, b := range baseline {
		if b.Command == cmd {
			return true
		}
	}
	return false
}

const truncateFixPromptChars = 1500

// TruncateForFixPrompt bounds a failing command's output to the first 1500
// chars, the amount embedded in a VERIFY/QA fix-retry prompt (§4.E).
func TruncateForFixPrompt(output string) string {
	if len(output) <= truncateFixPromptChars {
		return output
	}
	return output[:truncateFixPromptChars]
}
