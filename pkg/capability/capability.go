// Package capability defines the external contracts the core orchestrator
// consumes but does not implement: the AI agent backend, version control,
// the ticket SQL store, and the codebase index builder (spec §1's "Out of
// scope" collaborators). Concrete implementations live in pkg/execbackend
// and pkg/database; the core only ever depends on these interfaces.
package capability

import (
	"context"
	"time"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// ExecRequest is one agent turn.
type ExecRequest struct {
	Prompt    string
	WorkDir   string
	TimeoutMs int
}

// ExecResult is what the agent returned for one turn.
type ExecResult struct {
	Output       string
	Diff         string
	ChangedFiles []string
	Stdout       string
	ExitCode     int
}

// ExecBackend invokes the AI agent with a prompt and returns its turn
// result. Implementations may be a local CLI subprocess, a gRPC transport,
// or an MCP tool call (§1).
type ExecBackend interface {
	Run(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// Git is the version-control capability a ticket worker drives: fetch,
// rebase, branch, push, open PR, worktree add/remove (§1).
type Git interface {
	Fetch(ctx context.Context) error
	RebaseOntoBase(ctx context.Context, worktree string) error
	CreateBranch(ctx context.Context, name, fromRef string) error
	Push(ctx context.Context, worktree, branch string) error
	OpenPR(ctx context.Context, branch, title, body string) (prURL string, err error)
	WorktreeAdd(ctx context.Context, path, branch string) error
	WorktreeRemove(ctx context.Context, path string) error
	DeleteBranch(ctx context.Context, name string) error
	BaseBranchDiverged(ctx context.Context) (bool, error)
	PollOpenPRs(ctx context.Context) ([]PRStatus, error)
}

// PRStatus is one open-or-recently-closed pull request's state.
type PRStatus struct {
	Branch    string
	URL       string
	Merged    bool
	Closed    bool
	CheckedAt time.Time
}

// TicketRepo is the embedded SQL store's CRUD surface for tickets, runs,
// and events (§1). Implemented against pgx in pkg/database.
type TicketRepo interface {
	CreateTicket(ctx context.Context, t types.Ticket) error
	UpdateTicketStatus(ctx context.Context, id string, status types.TicketStatus) error
	GetTicket(ctx context.Context, id string) (types.Ticket, error)
	ListTickets(ctx context.Context, status types.TicketStatus) ([]types.Ticket, error)
	RecordRun(ctx context.Context, runID, ticketID string, startedAt time.Time) error
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, outcome string) error
	AppendEvent(ctx context.Context, ev types.Event) error
}

// IndexFinding is one AST-level observation surfaced by the codebase index.
type IndexFinding struct {
	File    string
	Line    int
	Message string
	Rule    string
}

// Index is the codebase index builder: module map, dependency edges, AST
// findings (§1).
type Index struct {
	BuiltAt      time.Time
	ModulePath   string
	Dependencies map[string][]string // package path -> imported package paths
	Findings     []IndexFinding
}

// IndexBuilder constructs an Index for a repository root.
type IndexBuilder interface {
	Build(ctx context.Context, repoRoot string) (Index, error)
}
