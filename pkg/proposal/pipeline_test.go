package proposal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

func TestDedupRejectsExistingTitleCaseAndPunctuationInsensitively(t *testing.T) {
	batch := []types.Proposal{
		{Title: "Fix the Null Pointer!", Files: []string{"a.go"}},
	}
	existing := Existing{ReadyOrInProgressTitles: []string{"fix the null pointer"}}

	got := Dedup(batch, existing)
	assert.Empty(t, got)
}

func TestDedupRejectsSecondOfOverlappingFileSetPair(t *testing.T) {
	batch := []types.Proposal{
		{Title: "One", Files: []string{"a.go", "b.go", "c.go"}},
		{Title: "Two", Files: []string{"a.go", "b.go", "c.go", "d.go"}},
	}
	got := Dedup(batch, Existing{})
	require.Len(t, got, 1)
	assert.Equal(t, "One", got[0].Title)
}

func TestDedupKeepsDistinctProposals(t *testing.T) {
	batch := []types.Proposal{
		{Title: "One", Files: []string{"a.go"}},
		{Title: "Two", Files: []string{"z.go"}},
	}
	got := Dedup(batch, Existing{})
	assert.Len(t, got, 2)
}

func TestScopeFilterDropsBelowMinConfidence(t *testing.T) {
	batch := []types.Proposal{{Title: "x", Confidence: 10}}
	got := ScopeFilter(batch, FilterParams{MinConfidence: 50})
	assert.Empty(t, got)
}

func TestScopeFilterDropsOutOfScopePaths(t *testing.T) {
	batch := []types.Proposal{
		{Title: "x", Confidence: 90, AllowedPaths: []string{"pkg/other/foo.go"}},
	}
	got := ScopeFilter(batch, FilterParams{SectorOrStepScope: "pkg/auth/**", MinConfidence: 0})
	assert.Empty(t, got)
}

func TestScopeFilterDropsDeniedPaths(t *testing.T) {
	batch := []types.Proposal{
		{Title: "x", Confidence: 90, AllowedPaths: []string{".env"}},
	}
	got := ScopeFilter(batch, FilterParams{DeniedPaths: types.DefaultDeniedPaths})
	assert.Empty(t, got)
}

func TestGroupClustersOverlappingFileSets(t *testing.T) {
	batch := []types.Proposal{
		{Title: "a", Files: []string{"pkg/auth/login.go", "pkg/auth/session.go", "pkg/auth/token.go"}, Category: types.CategoryFix},
		{Title: "b", Files: []string{"pkg/auth/login.go", "pkg/auth/session.go", "pkg/auth/token.go", "pkg/auth/extra.go"}, Category: types.CategoryFix},
		{Title: "c", Files: []string{"pkg/unrelated/thing.go"}, Category: types.CategoryDocs},
	}
	groups := Group(batch)
	require.Len(t, groups, 2)

	var authGroup *Group
	for i := range groups {
		if len(groups[i].Proposals) == 2 {
			authGroup = &groups[i]
		}
	}
	require.NotNil(t, authGroup)
	assert.Equal(t, "pkg/auth/**", authGroup.CommonScope)
	assert.True(t, authGroup.Mergeable)
}

func TestDetectConflictsFlagsSameFileDifferentCategory(t *testing.T) {
	batch := []types.Proposal{
		{Files: []string{"a.go"}, Category: types.CategoryFix, ImpactScore: 9, Confidence: 90},
		{Files: []string{"a.go"}, Category: types.CategoryRefactor, ImpactScore: 1, Confidence: 50},
	}
	conflicts := DetectConflicts(batch)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ResolutionKeepHigherImpact, conflicts[0].Resolution)
	assert.Equal(t, 0, conflicts[0].Winner)
}

func TestDetectConflictsSequencesWhenImpactClose(t *testing.T) {
	batch := []types.Proposal{
		{Files: []string{"a.go"}, Category: types.CategoryFix, ImpactScore: 5, Confidence: 80},
		{Files: []string{"a.go"}, Category: types.CategoryRefactor, ImpactScore: 5, Confidence: 79},
	}
	conflicts := DetectConflicts(batch)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ResolutionSequence, conflicts[0].Resolution)
}

func TestIdentifyEnablersMarksImportedModuleFirst(t *testing.T) {
	batch := []types.Proposal{
		{Files: []string{"pkg/core/types.go"}},
		{Files: []string{"pkg/api/handler.go"}},
	}
	importedBy := map[string][]string{
		"pkg/core/types.go": {"pkg/api/handler.go"},
	}
	enablers := IdentifyEnablers(batch, importedBy)
	require.Len(t, enablers, 1)
	assert.Equal(t, 0, enablers[0].Before)
	assert.Equal(t, 1, enablers[0].After)
}
