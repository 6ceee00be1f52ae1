package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

func TestClassifyQAErrorEnvironment(t *testing.T) {
	assert.Equal(t, types.QaErrorEnvironment, ClassifyQAError("bash: permission denied"))
}

func TestClassifyQAErrorTimeout(t *testing.T) {
	assert.Equal(t, types.QaErrorTimeout, ClassifyQAError("process timed out after 60s"))
}

func TestClassifyQAErrorCode(t *testing.T) {
	assert.Equal(t, types.QaErrorCode, ClassifyQAError("main_test.go:10: AssertionError: expected 1 got 2"))
}

func TestClassifyQAErrorUnknown(t *testing.T) {
	assert.Equal(t, types.QaErrorUnknown, ClassifyQAError("something vague happened"))
}

func TestExtractErrorSignatureFindsPanic(t *testing.T) {
	sig, ok := ExtractErrorSignature("goroutine 1 [running]:\npanic: runtime error: index out of range")
	assert.True(t, ok)
	assert.Equal(t, "panic:", sig)
}

func TestExtractErrorSignatureNoneFound(t *testing.T) {
	_, ok := ExtractErrorSignature("everything is fine")
	assert.False(t, ok)
}

func TestIsFastVerifierMatchesKnownTools(t *testing.T) {
	assert.True(t, IsFastVerifier("npx eslint ."))
	assert.True(t, IsFastVerifier("golangci-lint run"))
	assert.False(t, IsFastVerifier("go test ./..."))
}

func TestIsPreExistingMatchesBaselineCommand(t *testing.T) {
	baseline := []BaselineFailure{{Command: "go vet ./..."}}
	assert.True(t, IsPreExisting("go vet ./...", baseline))
	assert.False(t, IsPreExisting("go test ./...", baseline))
}

func TestTruncateForFixPromptBoundsLength(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	got := TruncateForFixPrompt(string(long))
	assert.Len(t, got, truncateFixPromptChars)
}
