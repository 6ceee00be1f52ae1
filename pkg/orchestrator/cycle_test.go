package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright-dev/wheelwright/pkg/capability"
	"github.com/wheelwright-dev/wheelwright/pkg/config"
	"github.com/wheelwright-dev/wheelwright/pkg/store"
	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// scriptedExecBackend returns canned outputs in call order, keyed loosely by
// how many times Run has been invoked -- good enough to drive scout, plan,
// execute, and QA turns through distinct responses.
type scriptedExecBackend struct {
	mu      sync.Mutex
	outputs []string
	calls   int
}

func (b *scriptedExecBackend) Run(ctx context.Context, req capability.ExecRequest) (capability.ExecResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.calls
	b.calls++
	if idx >= len(b.outputs) {
		return capability.ExecResult{Output: "ok", Diff: ""}, nil
	}
	return capability.ExecResult{Output: b.outputs[idx], Diff: "diff --git a/x b/x\n"}, nil
}

// resultExecBackend returns a specific capability.ExecResult per call in
// order, for tests that need to control fields scriptedExecBackend doesn't
// (ChangedFiles, ExitCode).
type resultExecBackend struct {
	mu      sync.Mutex
	results []capability.ExecResult
	calls   int
}

func (b *resultExecBackend) Run(ctx context.Context, req capability.ExecRequest) (capability.ExecResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.calls
	b.calls++
	if idx >= len(b.results) {
		return capability.ExecResult{Output: "ok"}, nil
	}
	return b.results[idx], nil
}

// fakeTicketRepo is an in-memory capability.TicketRepo for exercising
// RunCycle without a database.
type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]types.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]types.Ticket)}
}

func (r *fakeTicketRepo) CreateTicket(ctx context.Context, t types.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[t.ID] = t
	return nil
}

func (r *fakeTicketRepo) UpdateTicketStatus(ctx context.Context, id string, status types.TicketStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tickets[id]
	t.Status = status
	r.tickets[id] = t
	return nil
}

func (r *fakeTicketRepo) GetTicket(ctx context.Context, id string) (types.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickets[id], nil
}

func (r *fakeTicketRepo) ListTickets(ctx context.Context, status types.TicketStatus) ([]types.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Ticket
	for _, t := range r.tickets {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTicketRepo) RecordRun(ctx context.Context, runID, ticketID string, startedAt time.Time) error {
	return nil
}

func (r *fakeTicketRepo) CompleteRun(ctx context.Context, runID string, finishedAt time.Time, outcome string) error {
	return nil
}

func (r *fakeTicketRepo) AppendEvent(ctx context.Context, ev types.Event) error { return nil }

func testSectors() []types.Sector {
	return []types.Sector{{Path: "pkg/widgets", FileCount: 3}}
}

func testConfig() config.SessionConfig {
	cfg := config.SessionConfig{}
	cfg.Budget.Direct = true
	cfg.Budget.Parallel = 2
	cfg.Budget.TicketStepBudget = 10
	cfg.Budget.MinConfidence = 0
	cfg.QA.Commands = []string{"go test ./..."}
	return cfg
}

func proposalsJSON(t *testing.T, ps []types.Proposal) string {
	t.Helper()
	b, err := json.Marshal(ps)
	require.NoError(t, err)
	return string(b)
}

func newTestDeps(t *testing.T, exec capability.ExecBackend, repo capability.TicketRepo) Deps {
	t.Helper()
	dir := t.TempDir()
	log, err := store.OpenEventLog(dir, "run-1")
	require.NoError(t, err)
	return Deps{
		Exec:    exec,
		Repo:    repo,
		Events:  log,
		Sectors: testSectors(),
		RepoDir: dir,
	}
}

func TestRunCycleReturnsEmptyOutcomeWhenNoSectorCandidate(t *testing.T) {
	deps := newTestDeps(t, &scriptedExecBackend{}, newFakeTicketRepo())
	deps.Sectors = nil

	outcome, err := RunCycle(context.Background(), deps, testConfig(), 1)
	require.NoError(t, err)
	assert.Empty(t, outcome.Succeeded)
	assert.Empty(t, outcome.Failed)
	assert.Empty(t, outcome.NoChanges)
}

func TestRunCycleMergesTicketOnPassingQA(t *testing.T) {
	proposal := types.Proposal{
		Title:                "tidy up widget factory",
		Description:          "remove dead branch",
		Category:             types.CategoryFix,
		AllowedPaths:         []string{"pkg/widgets/**"},
		VerificationCommands: []string{"go test ./..."},
		Confidence:           90,
		ImpactScore:          5,
	}
	scout := proposalsJSON(t, []types.Proposal{proposal})
	plan := `{"FilesToTouch":[{"Path":"pkg/widgets/factory.go","Action":"modify","Reason":"remove dead branch"}],` +
		`"ExpectedTests":["go test ./..."],"RiskLevel":"low","EstimatedLines":5}`

	exec := &scriptedExecBackend{outputs: []string{scout, plan, "executed"}}
	repo := newFakeTicketRepo()
	deps := newTestDeps(t, exec, repo)

	outcome, err := RunCycle(context.Background(), deps, testConfig(), 1)
	require.NoError(t, err)

	require.Len(t, outcome.Succeeded, 1)
	assert.Empty(t, outcome.Failed)

	stored, err := repo.GetTicket(context.Background(), outcome.Succeeded[0])
	require.NoError(t, err)
	assert.Equal(t, types.TicketDone, stored.Status)
}

func TestRunCycleRetriesExecuteOnSurpriseFiles(t *testing.T) {
	p := types.Proposal{
		Title:                "tidy up widget factory",
		Description:          "remove dead branch",
		Category:             types.CategoryFix,
		AllowedPaths:         []string{"pkg/widgets/**"},
		VerificationCommands: []string{"go test ./..."},
		Confidence:           90,
		ImpactScore:          5,
	}
	scout := proposalsJSON(t, []types.Proposal{p})
	plan := `{"FilesToTouch":[{"Path":"pkg/widgets/factory.go","Action":"modify","Reason":"remove dead branch"}],` +
		`"ExpectedTests":["go test ./..."],"RiskLevel":"low","EstimatedLines":5}`

	exec := &resultExecBackend{results: []capability.ExecResult{
		{Output: scout},                                                      // scout
		{Output: plan},                                                       // plan submit
		{Output: "executed", ChangedFiles: []string{"pkg/widgets/extra.go"}}, // execute: surprise file
		{Output: "executed", ChangedFiles: []string{"pkg/widgets/factory.go"}}, // revert-and-resubmit retry: back in scope
		{Output: "ok"},                                                       // QA
	}}
	repo := newFakeTicketRepo()
	deps := newTestDeps(t, exec, repo)

	outcome, err := RunCycle(context.Background(), deps, testConfig(), 1)
	require.NoError(t, err)
	require.Len(t, outcome.Succeeded, 1, "the ticket should recover and merge after the scope-blocked retry")

	events, err := deps.Events.ReadAll()
	require.NoError(t, err)
	var sawScopeBlocked bool
	for _, ev := range events {
		if ev.Type == types.EventScopeBlocked {
			sawScopeBlocked = true
		}
	}
	assert.True(t, sawScopeBlocked, "expected a SCOPE_BLOCKED event on the surprise-file path")
}

func TestRunCycleFailsTicketWhenScoutYieldsNoProposals(t *testing.T) {
	exec := &scriptedExecBackend{outputs: []string{"not json"}}
	repo := newFakeTicketRepo()
	deps := newTestDeps(t, exec, repo)

	outcome, err := RunCycle(context.Background(), deps, testConfig(), 1)
	require.NoError(t, err)
	assert.Empty(t, outcome.Succeeded)
	assert.Empty(t, outcome.Failed)
	assert.Empty(t, outcome.NoChanges)
}

func TestRunCycleRecordsScanResultOnSelectedSector(t *testing.T) {
	exec := &scriptedExecBackend{outputs: []string{"[]"}}
	repo := newFakeTicketRepo()
	deps := newTestDeps(t, exec, repo)

	_, err := RunCycle(context.Background(), deps, testConfig(), 3)
	require.NoError(t, err)

	assert.Equal(t, 1, deps.Sectors[0].ScanCount)
	assert.Equal(t, 3, deps.Sectors[0].LastScannedCycle)
}
