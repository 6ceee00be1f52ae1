package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright-dev/wheelwright/pkg/spindle"
	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

func TestValidateExecuteResultFlagsSurpriseFiles(t *testing.T) {
	plan := Plan{FilesToTouch: []FileTouch{{Path: "pkg/auth/x.go"}}}
	result := ExecuteResult{ChangedFiles: []string{"pkg/auth/x.go", "pkg/auth/y.go"}}
	err := ValidateExecuteResult(result, plan, 1000)
	require.Error(t, err)
	var surprise *ErrSurpriseFiles
	assert.ErrorAs(t, err, &surprise)
	assert.Equal(t, []string{"pkg/auth/y.go"}, surprise.Files)
}

func TestValidateExecuteResultFlagsLineBudget(t *testing.T) {
	plan := Plan{FilesToTouch: []FileTouch{{Path: "pkg/auth/x.go"}}}
	result := ExecuteResult{ChangedFiles: []string{"pkg/auth/x.go"}, LinesAdded: 400, LinesRemoved: 50}
	err := ValidateExecuteResult(result, plan, 300)
	require.Error(t, err)
	var budget *ErrLineBudgetExceeded
	assert.ErrorAs(t, err, &budget)
}

func TestValidateExecuteResultPasses(t *testing.T) {
	plan := Plan{FilesToTouch: []FileTouch{{Path: "pkg/auth/x.go"}}}
	result := ExecuteResult{ChangedFiles: []string{"pkg/auth/x.go"}, LinesAdded: 10, LinesRemoved: 5}
	assert.NoError(t, ValidateExecuteResult(result, plan, 300))
}

func TestPathsOverlapWildcardForEmptyAllowedPaths(t *testing.T) {
	assert.True(t, PathsOverlap(nil, []string{"pkg/a"}))
}

func TestPathsOverlapSharedPrefix(t *testing.T) {
	assert.True(t, PathsOverlap([]string{"pkg/auth"}, []string{"pkg/auth/session.go"}))
	assert.False(t, PathsOverlap([]string{"pkg/auth"}, []string{"pkg/billing"}))
}

func TestDispatchBatchSkipsOverlappingTickets(t *testing.T) {
	pool := []PendingTicket{
		{Ticket: types.Ticket{ID: "a"}, Priority: 9},
		{Ticket: types.Ticket{ID: "b"}, Priority: 5},
	}
	allowedPaths := map[string][]string{
		"a": {"pkg/auth"},
		"b": {"pkg/auth/session.go"},
	}
	accepted, deconflicted := DispatchBatch(pool, allowedPaths, 5)
	require.Len(t, accepted, 1)
	assert.Equal(t, "a", accepted[0].ID)
	require.Len(t, deconflicted, 1)
	assert.Equal(t, "b", deconflicted[0].ID)
}

func TestDispatchBatchCapsAtParallelLimit(t *testing.T) {
	pool := []PendingTicket{
		{Ticket: types.Ticket{ID: "a"}, Priority: 9},
		{Ticket: types.Ticket{ID: "b"}, Priority: 8},
		{Ticket: types.Ticket{ID: "c"}, Priority: 7},
	}
	allowedPaths := map[string][]string{
		"a": {"pkg/a"}, "b": {"pkg/b"}, "c": {"pkg/c"},
	}
	accepted, deconflicted := DispatchBatch(pool, allowedPaths, 2)
	assert.Len(t, accepted, 2)
	assert.Len(t, deconflicted, 1)
}

func TestNewWorkerDocsTicketSkipsPlan(t *testing.T) {
	w := NewWorker(types.Ticket{Category: types.CategoryDocs}, types.ScopePolicy{}, "", spindle.DefaultConfig())
	assert.Equal(t, PhaseExecute, w.Phase)
}

func TestNewWorkerNonDocsStartsAtPlan(t *testing.T) {
	w := NewWorker(types.Ticket{Category: types.CategoryFix}, types.ScopePolicy{}, "", spindle.DefaultConfig())
	assert.Equal(t, PhasePlan, w.Phase)
}
