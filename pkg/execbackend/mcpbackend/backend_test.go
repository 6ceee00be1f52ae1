package mcpbackend

import (
	"context"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright-dev/wheelwright/pkg/capability"
)

type stubExecBackend struct {
	result capability.ExecResult
	err    error
}

func (s stubExecBackend) Run(ctx context.Context, req capability.ExecRequest) (capability.ExecResult, error) {
	return s.result, s.err
}

func connect(t *testing.T, srv *mcp.Server) *mcp.ClientSession {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(runCtx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
	})
	return session
}

func TestMCPBackendRoundTripsSuccessfulTurn(t *testing.T) {
	srv := NewStubServer("test-agent", stubExecBackend{result: capability.ExecResult{
		Output: "patched", Diff: "+x", ChangedFiles: []string{"a.go"}, ExitCode: 0,
	}})
	session := connect(t, srv)
	backend := NewBackend(session)

	result, err := backend.Run(context.Background(), capability.ExecRequest{Prompt: "fix it"})
	require.NoError(t, err)
	assert.Equal(t, "patched", result.Output)
	assert.Equal(t, []string{"a.go"}, result.ChangedFiles)
}

func TestMCPBackendSurfacesToolError(t *testing.T) {
	srv := NewStubServer("test-agent", stubExecBackend{err: fmt.Errorf("agent crashed")})
	session := connect(t, srv)
	backend := NewBackend(session)

	_, err := backend.Run(context.Background(), capability.ExecRequest{Prompt: "fix it"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent crashed")
}
