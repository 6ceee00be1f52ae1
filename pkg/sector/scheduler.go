// Package sector implements the sector scheduler (§4.B): candidate
// selection with a staleness floor, scan-result recording with an EMA
// yield, and the lens×sector rotation matrix.
package sector

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

const staleCycleFloor = 2

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true,
}

// DiscoverSectors walks repoRoot's top-level directories plus the root
// itself, producing the initial []types.Sector a fresh session starts
// with. Purpose is guessed from the directory name; RecordScanResult and
// persisted state take over from here on subsequent cycles.
func DiscoverSectors(repoRoot string) ([]types.Sector, error) {
	entries, err := os.ReadDir(repoRoot)
	if err != nil {
		return nil, err
	}

	sectors := []types.Sector{{Path: ".", Purpose: guessPurpose("."), FileCount: countFiles(repoRoot, 1)}}
	for _, e := range entries {
		if !e.IsDir() || skippedDirs[e.Name()] || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := e.Name()
		count := countFiles(filepath.Join(repoRoot, path), -1)
		if count == 0 {
			continue
		}
		sectors = append(sectors, types.Sector{Path: path, Purpose: guessPurpose(path), FileCount: count})
	}
	return sectors, nil
}

func guessPurpose(path string) types.SectorPurpose {
	switch {
	case strings.Contains(path, "test"):
		return types.PurposeTests
	case strings.Contains(path, "config") || strings.Contains(path, "deploy"):
		return types.PurposeConfig
	default:
		return types.PurposeProduction
	}
}

// countFiles counts regular files under dir. maxDepth<0 means unbounded;
// maxDepth==1 counts only dir's direct children (used for the root
// sector, which excludes files already attributed to a subdirectory
// sector).
func countFiles(dir string, maxDepth int) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			if maxDepth == 1 || skippedDirs[e.Name()] || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			nextDepth := maxDepth
			if maxDepth > 0 {
				nextDepth--
			}
			count += countFiles(filepath.Join(dir, e.Name()), nextDepth)
			continue
		}
		count++
	}
	return count
}

// Target is a chosen (sector, scope glob) pair, or the zero value when no
// sector was selected.
type Target struct {
	Sector types.Sector
	Scope  string
}

// SelectCandidate implements the §4.B selection ladder: unscanned primary
// sectors, then stale primary sectors, then (as a fallback) every sector
// with files, deterministically tie-broken by path.
func SelectCandidate(sectors []types.Sector, currentCycle int) (Target, bool) {
	primary := filterPrimary(sectors)

	unscanned := filterFunc(primary, func(s types.Sector) bool { return s.LastScannedAt == 0 })
	if len(unscanned) > 0 {
		return pick(unscanned, currentCycle), true
	}

	stale := filterFunc(primary, func(s types.Sector) bool {
		return currentCycle-s.LastScannedCycle >= staleCycleFloor
	})
	if len(stale) > 0 {
		return pick(stale, currentCycle), true
	}

	fallback := filterFunc(sectors, func(s types.Sector) bool { return s.FileCount > 0 })
	if len(fallback) > 0 {
		return pick(fallback, currentCycle), true
	}

	return Target{}, false
}

func filterPrimary(sectors []types.Sector) []types.Sector {
	return filterFunc(sectors, func(s types.Sector) bool {
		return s.Purpose != types.PurposeTests && s.Purpose != types.PurposeConfig && s.FileCount > 0
	})
}

func filterFunc(sectors []types.Sector, pred func(types.Sector) bool) []types.Sector {
	var out []types.Sector
	for _, s := range sectors {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// pick sorts the candidate group by (unscanned first, lastScannedCycle asc,
// path asc) and returns the winning (sector, scope) pair.
func pick(candidates []types.Sector, currentCycle int) Target {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aUnscanned, bUnscanned := a.LastScannedAt == 0, b.LastScannedAt == 0
		if aUnscanned != bUnscanned {
			return aUnscanned
		}
		if a.LastScannedCycle != b.LastScannedCycle {
			return a.LastScannedCycle < b.LastScannedCycle
		}
		return a.Path < b.Path
	})
	winner := candidates[0]
	return Target{Sector: winner, Scope: ScopeGlob(winner.Path)}
}

// ScopeGlob converts a sector path into its scan-scope glob (§4.B): the
// repo root scans "./{*,.*}"; any other path P scans "P/**".
func ScopeGlob(sectorPath string) string {
	normalized := strings.ReplaceAll(sectorPath, "\\", "/")
	if normalized == "" || normalized == "." {
		return "./{*,.*}"
	}
	return normalized + "/**"
}

// RecordScanResult updates a sector's scan bookkeeping after a scout pass:
// last-scanned timestamp/cycle, scan count, and the EMA proposal yield
// (0.7*prev + 0.3*count).
func RecordScanResult(s *types.Sector, cycle int, proposalCount int, nowMs int64) {
	s.LastScannedAt = nowMs
	s.LastScannedCycle = cycle
	s.ScanCount++
	s.ProposalYield = 0.7*s.ProposalYield + 0.3*float64(proposalCount)
}

// Rotation tracks which lenses have scanned which sectors and which
// lens/sector pairs yielded zero proposals, driving lens advancement
// across the rotation (§4.B).
type Rotation struct {
	lenses      []string
	scanned     map[string]map[string]bool // lens -> sector path -> scanned
	zeroYield   map[string]map[string]bool // lens -> sector path -> zero-yield
	currentIdx  int
	warmupPhase bool
}

// NewRotation builds a rotation over the given lens names, in order.
func NewRotation(lensNames []string) *Rotation {
	return &Rotation{
		lenses:    append([]string(nil), lensNames...),
		scanned:   make(map[string]map[string]bool),
		zeroYield: make(map[string]map[string]bool),
	}
}

// SetWarmup suppresses lens advancement while true: the rotation always
// returns the current (single) lens during warmup.
func (r *Rotation) SetWarmup(warmup bool) {
	r.warmupPhase = warmup
}

// MarkScanned records that lens scanned sector, and whether it yielded any
// proposals.
func (r *Rotation) MarkScanned(lens, sectorPath string, proposalCount int) {
	if r.scanned[lens] == nil {
		r.scanned[lens] = make(map[string]bool)
	}
	r.scanned[lens][sectorPath] = true
	if proposalCount == 0 {
		if r.zeroYield[lens] == nil {
			r.zeroYield[lens] = make(map[string]bool)
		}
		r.zeroYield[lens][sectorPath] = true
	}
}

// CurrentLens returns the lens at the rotation cursor.
func (r *Rotation) CurrentLens() (string, bool) {
	if len(r.lenses) == 0 {
		return "", false
	}
	return r.lenses[r.currentIdx%len(r.lenses)], true
}

// Advance moves the rotation cursor to the next lens that has not covered
// every sector (scanned or zero-yield), wrapping modulo the rotation
// length. A no-op during warmup.
func (r *Rotation) Advance(allSectorPaths []string) {
	if r.warmupPhase || len(r.lenses) == 0 {
		return
	}
	prevIdx := r.currentIdx
	for i := 0; i < len(r.lenses); i++ {
		r.currentIdx = (r.currentIdx + 1) % len(r.lenses)
		lens := r.lenses[r.currentIdx]
		if !coversAllSectors(r.scanned[lens], r.zeroYield[lens], allSectorPaths) {
			if r.currentIdx != prevIdx {
				slog.Info("lens rotation advanced", "from", r.lenses[prevIdx], "to", lens)
			}
			return
		}
	}
}

func coversAllSectors(scanned, zeroYield map[string]bool, allSectorPaths []string) bool {
	for _, path := range allSectorPaths {
		if scanned[path] || zeroYield[path] {
			continue
		}
		return false
	}
	return true
}
