package sector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

func TestSelectCandidatePrefersUnscannedPrimary(t *testing.T) {
	sectors := []types.Sector{
		{Path: "pkg/a", Purpose: types.PurposeProduction, FileCount: 3, LastScannedAt: 100, LastScannedCycle: 0},
		{Path: "pkg/b", Purpose: types.PurposeProduction, FileCount: 2, LastScannedAt: 0},
	}
	target, ok := SelectCandidate(sectors, 5)
	require.True(t, ok)
	assert.Equal(t, "pkg/b", target.Sector.Path)
}

func TestSelectCandidateFallsBackToStalePrimary(t *testing.T) {
	sectors := []types.Sector{
		{Path: "pkg/a", Purpose: types.PurposeProduction, FileCount: 3, LastScannedAt: 100, LastScannedCycle: 1},
		{Path: "pkg/b", Purpose: types.PurposeProduction, FileCount: 3, LastScannedAt: 100, LastScannedCycle: 4},
	}
	target, ok := SelectCandidate(sectors, 6)
	require.True(t, ok)
	assert.Equal(t, "pkg/a", target.Sector.Path, "staleness floor of 2 makes pkg/a (cycle 1) eligible before pkg/b (cycle 4)")
}

func TestSelectCandidateFallsBackToTestsAndConfig(t *testing.T) {
	sectors := []types.Sector{
		{Path: "test", Purpose: types.PurposeTests, FileCount: 5, LastScannedAt: 100, LastScannedCycle: 10},
	}
	target, ok := SelectCandidate(sectors, 11)
	require.True(t, ok)
	assert.Equal(t, "test", target.Sector.Path)
}

func TestSelectCandidateReturnsFalseWhenNothingQualifies(t *testing.T) {
	sectors := []types.Sector{{Path: "empty", FileCount: 0}}
	_, ok := SelectCandidate(sectors, 1)
	assert.False(t, ok)
}

func TestScopeGlobRootVsSubpath(t *testing.T) {
	assert.Equal(t, "./{*,.*}", ScopeGlob("."))
	assert.Equal(t, "./{*,.*}", ScopeGlob(""))
	assert.Equal(t, "pkg/auth/**", ScopeGlob("pkg/auth"))
}

func TestRecordScanResultUpdatesEMAYield(t *testing.T) {
	s := types.Sector{ProposalYield: 10}
	RecordScanResult(&s, 3, 0, 12345)
	assert.Equal(t, 7.0, s.ProposalYield)
	assert.Equal(t, int64(12345), s.LastScannedAt)
	assert.Equal(t, 1, s.ScanCount)
}

func TestRotationAdvanceSkipsFullyCoveredLenses(t *testing.T) {
	r := NewRotation([]string{"security", "cleanup"})
	r.MarkScanned("security", "pkg/a", 3)
	r.MarkScanned("security", "pkg/b", 0)

	lens, _ := r.CurrentLens()
	assert.Equal(t, "security", lens)

	r.Advance([]string{"pkg/a", "pkg/b"})
	lens, _ = r.CurrentLens()
	assert.Equal(t, "cleanup", lens, "security has covered all sectors, rotation should move on")
}

func TestRotationSuppressedDuringWarmup(t *testing.T) {
	r := NewRotation([]string{"security", "cleanup"})
	r.SetWarmup(true)
	r.MarkScanned("security", "pkg/a", 3)
	r.Advance([]string{"pkg/a"})

	lens, _ := r.CurrentLens()
	assert.Equal(t, "security", lens)
}

func TestDiscoverSectorsFindsTopLevelDirsAndRoot(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, root, "README.md")
	mustMkdir(t, root, "pkg/widgets")
	mustWriteFile(t, root, "pkg/widgets/widget.go")
	mustMkdir(t, root, "node_modules/left-pad")
	mustWriteFile(t, root, "node_modules/left-pad/index.js")

	sectors, err := DiscoverSectors(root)
	require.NoError(t, err)

	byPath := make(map[string]types.Sector, len(sectors))
	for _, s := range sectors {
		byPath[s.Path] = s
	}

	root0, ok := byPath["."]
	require.True(t, ok)
	assert.Equal(t, 1, root0.FileCount, "root sector counts only its direct file, not pkg/widgets'")

	pkg, ok := byPath["pkg"]
	require.True(t, ok)
	assert.Equal(t, 1, pkg.FileCount)

	_, hasNodeModules := byPath["node_modules"]
	assert.False(t, hasNodeModules, "node_modules is never a scannable sector")
}

func mustMkdir(t *testing.T, root, rel string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, rel), 0o755))
}

func mustWriteFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}
