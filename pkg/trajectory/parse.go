// Package trajectory implements the trajectory engine (§4.C): a hand-rolled
// YAML loader for LLM-authored trajectory files, DAG validation via Kahn's
// algorithm, dependency-ready step selection, and per-cycle advancement.
//
// The loader is intentionally not a general YAML parser (the generating
// agent only ever emits the fixed two-space-indent shape documented here);
// a hand-rolled reader is what the spec calls for, matching the load-bearing
// session config elsewhere in this module, which does use a real YAML
// library.
package trajectory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// Measure is the optional numeric acceptance target for a step.
type Measure struct {
	Cmd       string
	Target    float64
	Direction types.Direction
}

// RawStep is a step as read off disk, before validation.
type RawStep struct {
	ID                   string
	Title                string
	Description          string
	Scope                string
	Categories           []string
	AcceptanceCriteria   []string
	VerificationCommands []string
	DependsOn            []string
	Priority             int
	MaxRetries           int
	Measure              *Measure
}

// RawTrajectory is a trajectory file as read off disk, before validation.
type RawTrajectory struct {
	Name        string
	Description string
	Steps       []RawStep
}

// Parse reads the hand-rolled two-space-indent trajectory format: a flat
// top-level `name:`/`description:` pair followed by a `steps:` list, each
// step a `- ` block indented one level further, its fields another level
// past that. Unquoted strings have surrounding quotes stripped;
// parseSimpleList accepts both `[a, b, c]` inline and a following indented
// comma/dash list.
func Parse(data []byte) (RawTrajectory, error) {
	lines := splitLines(string(data))

	var traj RawTrajectory
	var steps []RawStep
	var current *RawStep
	var currentMeasure *Measure
	var currentListField *[]string
	stepIndent := -1

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		indent := leadingSpaces(line)
		trimmed := strings.TrimSpace(line)

		switch {
		case indent == 0 && strings.HasPrefix(trimmed, "name:"):
			traj.Name = unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "name:")))
		case indent == 0 && strings.HasPrefix(trimmed, "description:"):
			traj.Description = unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "description:")))
		case indent == 0 && trimmed == "steps:":
			continue
		case strings.HasPrefix(trimmed, "- "):
			if stepIndent == -1 {
				stepIndent = indent
			}
			if indent == stepIndent {
				if current != nil {
					steps = append(steps, *current)
				}
				current = &RawStep{Priority: 5}
				currentMeasure = nil
				currentListField = nil
				rest := strings.TrimPrefix(trimmed, "- ")
				if rest != "" {
					applyStepField(current, &currentMeasure, rest)
				}
			} else if current != nil && currentListField != nil {
				item := unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "- ")))
				if item != "" {
					*currentListField = append(*currentListField, item)
				}
			}
		case current != nil:
			key, val, ok := splitField(trimmed)
			if !ok {
				continue
			}
			if val == "" {
				if field := listFieldPointer(current, key); field != nil {
					currentListField = field
					continue
				}
			}
			currentListField = nil
			applyStepField(current, &currentMeasure, key+": "+val)
		}
	}
	if current != nil {
		steps = append(steps, *current)
	}
	traj.Steps = steps
	return traj, nil
}

// listFieldPointer returns the step field to accumulate into when a
// block-style (nested "- item" lines) list is encountered, or nil when key
// isn't a recognized list field.
func listFieldPointer(step *RawStep, key string) *[]string {
	switch key {
	case "categories":
		return &step.Categories
	case "acceptance_criteria":
		return &step.AcceptanceCriteria
	case "verification_commands":
		return &step.VerificationCommands
	case "depends_on":
		return &step.DependsOn
	default:
		return nil
	}
}

func applyStepField(step *RawStep, measure **Measure, field string) {
	key, val, ok := splitField(field)
	if !ok {
		return
	}
	val = unquote(strings.TrimSpace(val))

	switch key {
	case "id":
		step.ID = val
	case "title":
		step.Title = val
	case "description":
		step.Description = val
	case "scope":
		step.Scope = val
	case "categories":
		step.Categories = parseSimpleList(val)
	case "acceptance_criteria":
		step.AcceptanceCriteria = parseSimpleList(val)
	case "verification_commands":
		step.VerificationCommands = parseSimpleList(val)
	case "depends_on":
		step.DependsOn = parseSimpleList(val)
	case "priority":
		if n, err := strconv.Atoi(val); err == nil {
			step.Priority = n
		}
	case "max_retries":
		if n, err := strconv.Atoi(val); err == nil {
			step.MaxRetries = n
		}
	case "measure":
		*measure = &Measure{}
		step.Measure = *measure
	case "cmd":
		if *measure != nil {
			(*measure).Cmd = val
		}
	case "target":
		if *measure != nil {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				(*measure).Target = f
			}
		}
	case "direction":
		if *measure != nil {
			(*measure).Direction = types.Direction(val)
		}
	}
}

// parseSimpleList accepts `[a, b, c]` inline lists and plain
// comma-separated values; empty entries are dropped.
func parseSimpleList(val string) []string {
	val = strings.TrimSpace(val)
	val = strings.TrimPrefix(val, "[")
	val = strings.TrimSuffix(val, "]")
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	var out []string
	for _, p := range parts {
		p = unquote(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitField(line string) (key, val string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func leadingSpaces(s string) int {
	n := 0
	for _, r := range s {
		if r == ' ' {
			n++
		} else {
			break
		}
	}
	return n
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// StepValidationError is returned by ValidateAndBuild for a structurally
// unusable trajectory file.
type StepValidationError struct {
	Reason string
}

func (e *StepValidationError) Error() string {
	return fmt.Sprintf("trajectory validation: %s", e.Reason)
}

var broadScopes = map[string]struct{}{
	"**": {}, "*": {}, ".": {}, "./**": {},
}

var lineAnchoredSuffix = func(cmd string) bool {
	trimmed := strings.TrimRight(cmd, " \t")
	i := len(trimmed)
	for i > 0 && trimmed[i-1] >= '0' && trimmed[i-1] <= '9' {
		i--
	}
	return i < len(trimmed) && i > 0 && trimmed[i-1] == ':'
}

// sanitizeVerificationCommands drops empty, pure-punctuation, bare
// true/false, line-pinned (ending `:<digits>`), and `--line <digits>`
// commands (§4.C).
func sanitizeVerificationCommands(cmds []string) []string {
	var out []string
	for _, c := range cmds {
		trimmed := strings.TrimSpace(c)
		if trimmed == "" {
			continue
		}
		if isPurePunctuation(trimmed) {
			continue
		}
		if trimmed == "true" || trimmed == "false" {
			continue
		}
		if lineAnchoredSuffix(trimmed) {
			continue
		}
		if strings.Contains(trimmed, "--line ") {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func isPurePunctuation(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// TrajectoryStep is a validated step, ready to drive the engine.
type TrajectoryStep struct {
	ID                   string
	Title                string
	Description          string
	Scope                string
	Categories           []types.Category
	AcceptanceCriteria   []string
	VerificationCommands []string
	DependsOn            []string
	Priority             int
	MaxRetries           int
	Measure              *Measure
}

// Trajectory is a validated, acyclic trajectory ready to be persisted and
// executed.
type Trajectory struct {
	Name        string
	Description string
	Steps       []TrajectoryStep
}

const defaultMaxRetries = 3

// ValidateAndBuild rejects an empty step array, missing IDs/titles,
// duplicate IDs, unknown depends_on references, and circular dependencies
// (Kahn's algorithm); overly broad scopes are silently cleared rather than
// rejected (§4.C).
func ValidateAndBuild(raw RawTrajectory) (Trajectory, error) {
	if len(raw.Steps) == 0 {
		return Trajectory{}, &StepValidationError{Reason: "empty step array"}
	}

	seen := make(map[string]struct{}, len(raw.Steps))
	steps := make([]TrajectoryStep, 0, len(raw.Steps))

	for _, rs := range raw.Steps {
		if rs.ID == "" {
			return Trajectory{}, &StepValidationError{Reason: "missing step id"}
		}
		if rs.Title == "" {
			return Trajectory{}, &StepValidationError{Reason: fmt.Sprintf("step %q missing title", rs.ID)}
		}
		if _, dup := seen[rs.ID]; dup {
			return Trajectory{}, &StepValidationError{Reason: fmt.Sprintf("duplicate step id %q", rs.ID)}
		}
		seen[rs.ID] = struct{}{}

		scope := rs.Scope
		if _, broad := broadScopes[scope]; broad {
			scope = ""
		}

		priority := rs.Priority
		if priority == 0 {
			priority = 5
		}
		maxRetries := rs.MaxRetries
		if maxRetries == 0 {
			maxRetries = defaultMaxRetries
		}

		steps = append(steps, TrajectoryStep{
			ID:                   rs.ID,
			Title:                rs.Title,
			Description:          rs.Description,
			Scope:                scope,
			Categories:           toCategoryList(rs.Categories),
			AcceptanceCriteria:   rs.AcceptanceCriteria,
			VerificationCommands: sanitizeVerificationCommands(rs.VerificationCommands),
			DependsOn:            rs.DependsOn,
			Priority:             priority,
			MaxRetries:           maxRetries,
			Measure:              rs.Measure,
		})
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				return Trajectory{}, &StepValidationError{Reason: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep)}
			}
		}
	}

	if _, err := kahnSort(steps); err != nil {
		return Trajectory{}, err
	}

	return Trajectory{Name: raw.Name, Description: raw.Description, Steps: steps}, nil
}

func toCategoryList(raw []string) []types.Category {
	out := make([]types.Category, len(raw))
	for i, r := range raw {
		out[i] = types.Category(r)
	}
	return out
}

// kahnSort performs a topological sort over the step dependency graph,
// returning an error if the graph is cyclic (every node must be sortable).
func kahnSort(steps []TrajectoryStep) ([]string, error) {
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		if _, ok := inDegree[s.ID]; !ok {
			inDegree[s.ID] = 0
		}
		for _, dep := range s.DependsOn {
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, &StepValidationError{Reason: "circular dependency detected"}
	}
	return order, nil
}
