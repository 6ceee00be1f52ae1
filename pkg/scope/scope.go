// Package scope derives and enforces the ScopePolicy a ticket worker must
// respect: which paths it may touch, which patterns it may never write, and
// the file/line budget for a single ticket (§3, §4.E).
package scope

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// ErrOutsideWorktree is returned when an allowed path escapes the
// configured worktree root, including via a symlink.
var ErrOutsideWorktree = errors.New("scope: path escapes worktree root")

// ErrDenied is returned when a candidate path matches a denied glob.
var ErrDenied = errors.New("scope: path is denied")

// Params are the inputs to Derive (§3: "ScopePolicy. Derived per-ticket
// from {allowedPaths, category, maxLinesPerTicket, learnings[],
// worktreeRoot?}").
type Params struct {
	AllowedPaths      []string
	Category          types.Category
	MaxLinesPerTicket int
	Risk              types.RiskLevel // output of adaptive trust scoring (§4.G); empty if not assessed
	WorktreeRoot      string
}

const baseMaxFiles = 10

// Derive builds a ScopePolicy for one ticket, applying the category-based
// extension restriction (invariant a) and the elevated/high risk
// plan-required override (invariant c). Invariant b (worktree containment)
// is enforced per-path by Enforce, not baked into the returned policy.
func Derive(p Params) types.ScopePolicy {
	policy := types.ScopePolicy{
		AllowedPaths:   append([]string(nil), p.AllowedPaths...),
		DeniedPaths:    append([]string(nil), types.DefaultDeniedPaths...),
		DeniedPatterns: append([]string(nil), types.DefaultDeniedPatterns...),
		MaxFiles:       baseMaxFiles,
		MaxLines:       p.MaxLinesPerTicket,
		PlanRequired:   planRequiredByDefault(p.Category),
		RiskAssessment: p.Risk,
		WorktreeRoot:   p.WorktreeRoot,
	}

	switch p.Category {
	case types.CategoryDocs:
		policy.AutoApprovePatterns = []string{"*.md", "*.mdx", "*.txt", "*.rst"}
	case types.CategoryTest:
		policy.AutoApprovePatterns = []string{"*.test.*", "*.spec.*", "__tests__/**"}
	}

	switch p.Risk {
	case types.RiskElevated, types.RiskHigh:
		policy.PlanRequired = true
	}

	return policy
}

func planRequiredByDefault(c types.Category) bool {
	switch c {
	case types.CategorySecurity, types.CategoryRefactor:
		return true
	default:
		return false
	}
}

// MatchesCategory enforces invariant (a): docs/test categories restrict by
// file extension/naming convention regardless of what's in AllowedPaths.
func MatchesCategory(category types.Category, file string) bool {
	switch category {
	case types.CategoryDocs:
		ext := strings.ToLower(filepath.Ext(file))
		return ext == ".md" || ext == ".mdx" || ext == ".txt" || ext == ".rst"
	case types.CategoryTest:
		base := filepath.Base(file)
		return strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") ||
			strings.Contains(file, "__tests__/")
	default:
		return true
	}
}

// Enforce checks one candidate file path against the policy: category
// restriction, denied globs/patterns, and worktree containment (invariant
// b — symlink escapes rejected via filepath.EvalSymlinks on the caller's
// resolved absolute path, not here; Enforce works on the logical repo-
// relative path and the declared worktree root).
func Enforce(policy types.ScopePolicy, category types.Category, resolvedAbsPath, repoRelPath string) error {
	if !MatchesCategory(category, repoRelPath) {
		return fmt.Errorf("%w: %q not permitted for category %q", ErrDenied, repoRelPath, category)
	}

	for _, denied := range policy.DeniedPaths {
		if matchGlob(denied, repoRelPath) {
			return fmt.Errorf("%w: %q matches denied path %q", ErrDenied, repoRelPath, denied)
		}
	}

	if policy.WorktreeRoot != "" {
		root := filepath.Clean(policy.WorktreeRoot)
		rel, err := filepath.Rel(root, filepath.Clean(resolvedAbsPath))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: %q resolves outside %q", ErrOutsideWorktree, resolvedAbsPath, root)
		}
	}

	return nil
}

// matchGlob supports the "**" directory-wildcard convention used in
// DefaultDeniedPaths in addition to filepath.Match's single-segment "*".
func matchGlob(pattern, candidate string) bool {
	pattern = filepath.ToSlash(pattern)
	candidate = filepath.ToSlash(candidate)

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return candidate == prefix || strings.HasPrefix(candidate, prefix+"/")
	}
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, filepath.Base(candidate))
		if ok {
			return true
		}
		ok, _ = path.Match(pattern, candidate)
		return ok
	}
	ok, _ := path.Match(pattern, candidate)
	return ok
}

// ScanForCredentials reports the first denied-pattern match found in
// content, if any, for use before a diff is written to disk.
func ScanForCredentials(policy types.ScopePolicy, content string) (pattern string, found bool) {
	for _, src := range policy.DeniedPatterns {
		re, err := regexp.Compile(src)
		if err != nil {
			continue
		}
		if re.MatchString(content) {
			return src, true
		}
	}
	return "", false
}
