// Package proposal implements the scout-output pipeline (§4.D): dedup,
// scope filtering, Jaccard-overlap grouping, conflict detection, enabler
// ordering, and blueprint formation for the next scout prompt.
package proposal

import (
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// Existing is the dedup context: the ticket titles already in flight or
// recently completed, plus the persisted dedup-memory titles.
type Existing struct {
	ReadyOrInProgressTitles []string
	RecentlyDoneTitles      []string // done within the last 24h
	DedupMemoryTitles       []string
}

var punctuation = regexp.MustCompile(`[^a-z0-9\s]+`)

func normalizeTitle(title string) string {
	lower := strings.ToLower(title)
	stripped := punctuation.ReplaceAllString(lower, "")
	return strings.Join(strings.Fields(stripped), " ")
}

// Dedup drops proposals whose normalized title matches an existing ticket
// or dedup-memory entry, then drops the second of any in-batch pair sharing
// three or more identical files.
func Dedup(batch []types.Proposal, existing Existing) []types.Proposal {
	seen := make(map[string]struct{})
	for _, title := range existing.ReadyOrInProgressTitles {
		seen[normalizeTitle(title)] = struct{}{}
	}
	for _, title := range existing.RecentlyDoneTitles {
		seen[normalizeTitle(title)] = struct{}{}
	}
	for _, title := range existing.DedupMemoryTitles {
		seen[normalizeTitle(title)] = struct{}{}
	}

	var survivors []types.Proposal
	var fileSets []map[string]struct{}

	for _, p := range batch {
		key := normalizeTitle(p.Title)
		if _, dup := seen[key]; dup {
			continue
		}

		fileSet := toSet(p.Files)
		overlapsEarlier := false
		for _, earlier := range fileSets {
			if sharedCount(fileSet, earlier) >= 3 {
				overlapsEarlier = true
				break
			}
		}
		if overlapsEarlier {
			continue
		}

		seen[key] = struct{}{}
		survivors = append(survivors, p)
		fileSets = append(fileSets, fileSet)
	}
	if dropped := len(batch) - len(survivors); dropped > 0 {
		slog.Info("proposals deduped", "batch", len(batch), "dropped", dropped, "survivors", len(survivors))
	}
	return survivors
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func sharedCount(a, b map[string]struct{}) int {
	count := 0
	for item := range a {
		if _, ok := b[item]; ok {
			count++
		}
	}
	return count
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := sharedCount(a, b)
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// FilterParams bounds the scope filter step.
type FilterParams struct {
	SectorOrStepScope string // glob prefix proposals' allowed_paths must fall under
	DeniedPaths       []string
	MinConfidence     int
	CategoryWhitelist []types.Category // empty means no restriction
}

// ScopeFilter drops proposals whose allowed_paths escape the current
// sector/step scope or touch a denied path, then applies the confidence
// floor and category whitelist.
func ScopeFilter(batch []types.Proposal, p FilterParams) []types.Proposal {
	whitelist := toSet(categoryStrings(p.CategoryWhitelist))

	var kept []types.Proposal
	for _, prop := range batch {
		if prop.Confidence < p.MinConfidence {
			continue
		}
		if len(whitelist) > 0 {
			if _, ok := whitelist[string(prop.Category)]; !ok {
				continue
			}
		}
		if !withinScope(prop.AllowedPaths, p.SectorOrStepScope) {
			continue
		}
		if touchesDenied(prop.AllowedPaths, p.DeniedPaths) {
			continue
		}
		kept = append(kept, prop)
	}
	if dropped := len(batch) - len(kept); dropped > 0 {
		slog.Info("proposals scope-filtered", "batch", len(batch), "dropped", dropped, "kept", len(kept))
	}
	return kept
}

func categoryStrings(cats []types.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

func withinScope(allowedPaths []string, scope string) bool {
	if scope == "" || len(allowedPaths) == 0 {
		return true
	}
	prefix := strings.TrimSuffix(strings.TrimSuffix(scope, "**"), "/")
	for _, p := range allowedPaths {
		if prefix == "" || prefix == "." || strings.HasPrefix(p, prefix) {
			continue
		}
		return false
	}
	return true
}

func touchesDenied(allowedPaths, deniedPaths []string) bool {
	for _, ap := range allowedPaths {
		for _, dp := range deniedPaths {
			dp = strings.TrimSuffix(dp, "/**")
			if ok, _ := path.Match(dp, ap); ok {
				return true
			}
			if strings.HasPrefix(ap, dp+"/") || ap == dp {
				return true
			}
		}
	}
	return false
}

// Group is a cluster of proposals whose file sets overlap above the
// grouping threshold (§4.D).
type Group struct {
	Proposals   []types.Proposal
	CommonScope string
	Categories  []types.Category
	Mergeable   bool // true when any pair in the group has overlap >= 0.7 and identical category
}

const (
	groupingThreshold = 0.5
	mergeableOverlap  = 0.7
)

// Group clusters proposals via union-find on Jaccard file-set overlap.
func Group(batch []types.Proposal) []Group {
	n := len(batch)
	if n == 0 {
		return nil
	}
	fileSets := make([]map[string]struct{}, n)
	for i, p := range batch {
		fileSets[i] = toSet(p.Files)
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	mergeablePairs := make(map[[2]int]bool)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			overlap := jaccard(fileSets[i], fileSets[j])
			if overlap >= groupingThreshold {
				union(i, j)
			}
			if overlap >= mergeableOverlap && batch[i].Category == batch[j].Category {
				mergeablePairs[[2]int{i, j}] = true
			}
		}
	}

	clusters := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		clusters[root] = append(clusters[root], i)
	}

	rootKeys := make([]int, 0, len(clusters))
	for root := range clusters {
		rootKeys = append(rootKeys, root)
	}
	sort.Ints(rootKeys)

	groups := make([]Group, 0, len(clusters))
	for _, root := range rootKeys {
		members := clusters[root]
		group := Group{}
		var allFiles []string
		catSet := make(map[types.Category]struct{})
		for _, idx := range members {
			group.Proposals = append(group.Proposals, batch[idx])
			allFiles = append(allFiles, batch[idx].Files...)
			catSet[batch[idx].Category] = struct{}{}
		}
		group.CommonScope = commonDirPrefix(allFiles)
		for cat := range catSet {
			group.Categories = append(group.Categories, cat)
		}
		sort.Slice(group.Categories, func(i, j int) bool { return group.Categories[i] < group.Categories[j] })

		for pair := range mergeablePairs {
			if contains(members, pair[0]) && contains(members, pair[1]) {
				group.Mergeable = true
				break
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func commonDirPrefix(files []string) string {
	if len(files) == 0 {
		return ""
	}
	segments := strings.Split(path.Dir(files[0]), "/")
	for _, f := range files[1:] {
		other := strings.Split(path.Dir(f), "/")
		segments = commonPrefixSlice(segments, other)
		if len(segments) == 0 {
			return "**"
		}
	}
	return strings.Join(segments, "/") + "/**"
}

func commonPrefixSlice(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// ConflictResolution is the strategy chosen for a detected conflict (§4.D).
type ConflictResolution string

const (
	ResolutionKeepHigherImpact ConflictResolution = "keep_higher_impact"
	ResolutionSequence         ConflictResolution = "sequence"
)

// Conflict is a pair of proposals touching the same file under different
// categories.
type Conflict struct {
	File       string
	A, B       int // indices into the batch
	Resolution ConflictResolution
	Winner     int // index of the proposal to keep first; meaningful for both resolutions
}

const conflictMargin = 2.5

// DetectConflicts finds every file touched by two proposals of differing
// category and assigns a resolution strategy.
func DetectConflicts(batch []types.Proposal) []Conflict {
	byFile := make(map[string][]int)
	for i, p := range batch {
		for _, f := range p.Files {
			byFile[f] = append(byFile[f], i)
		}
	}

	var conflicts []Conflict
	for file, indices := range byFile {
		for i := 0; i < len(indices); i++ {
			for j := i + 1; j < len(indices); j++ {
				a, b := indices[i], indices[j]
				if batch[a].Category == batch[b].Category {
					continue
				}
				scoreA, scoreB := batch[a].WeightedScore(), batch[b].WeightedScore()
				diff := scoreA - scoreB
				if diff < 0 {
					diff = -diff
				}
				conflict := Conflict{File: file, A: a, B: b}
				if diff >= conflictMargin {
					conflict.Resolution = ResolutionKeepHigherImpact
					if scoreA >= scoreB {
						conflict.Winner = a
					} else {
						conflict.Winner = b
					}
				} else {
					conflict.Resolution = ResolutionSequence
					conflict.Winner = a // earlier proposal lands first; b sequences after
				}
				conflicts = append(conflicts, conflict)
			}
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].File < conflicts[j].File })
	return conflicts
}

// Enabler marks proposal Before as needing to land ahead of After because a
// module it touches is imported by a module After touches.
type Enabler struct {
	Before, After int
}

// IdentifyEnablers marks a proposal as an enabler of another when the first
// proposal's files are imported (per the dependency-edge map) by a module
// the second proposal's files belong to.
func IdentifyEnablers(batch []types.Proposal, importedBy map[string][]string) []Enabler {
	var enablers []Enabler
	for i, before := range batch {
		for j, after := range batch {
			if i == j {
				continue
			}
			if anyImports(importedBy, before.Files, after.Files) {
				enablers = append(enablers, Enabler{Before: i, After: j})
			}
		}
	}
	return enablers
}

// anyImports reports whether any file in candidateModules is imported by any
// file in importingModules, per the importedBy edge map (module -> modules
// that import it).
func anyImports(importedBy map[string][]string, candidateModules, importingModules []string) bool {
	importingSet := toSet(importingModules)
	for _, candidate := range candidateModules {
		for _, importer := range importedBy[candidate] {
			if _, ok := importingSet[importer]; ok {
				return true
			}
		}
	}
	return false
}

// Blueprint is the serialized plan handed to the next scout prompt (§4.D).
type Blueprint struct {
	Groups      []Group
	Enablers    []Enabler
	Conflicts   []Conflict
	GeneratedAt time.Time
}

// BuildBlueprint assembles the final blueprint from a processed batch.
func BuildBlueprint(batch []types.Proposal, importedBy map[string][]string, now time.Time) Blueprint {
	return Blueprint{
		Groups:      Group(batch),
		Enablers:    IdentifyEnablers(batch, importedBy),
		Conflicts:   DetectConflicts(batch),
		GeneratedAt: now,
	}
}
