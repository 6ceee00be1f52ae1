package grpcbackend

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/wheelwright-dev/wheelwright/pkg/capability"
)

type stubExecBackend struct {
	result capability.ExecResult
	err    error
}

func (s stubExecBackend) Run(ctx context.Context, req capability.ExecRequest) (capability.ExecResult, error) {
	return s.result, s.err
}

func startTestServer(t *testing.T, backend capability.ExecBackend) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	RegisterAgentTurnServer(srv, NewServer(backend))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func TestGRPCBackendRoundTripsSuccessfulTurn(t *testing.T) {
	addr := startTestServer(t, stubExecBackend{result: capability.ExecResult{
		Output: "did the thing", Diff: "+line", ChangedFiles: []string{"a.go"}, ExitCode: 0,
	}})

	client, err := Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	result, err := client.Run(context.Background(), capability.ExecRequest{Prompt: "do it"})
	require.NoError(t, err)
	assert.Equal(t, "did the thing", result.Output)
	assert.Equal(t, []string{"a.go"}, result.ChangedFiles)
}

func TestGRPCBackendSurfacesAgentError(t *testing.T) {
	addr := startTestServer(t, stubExecBackend{err: fmt.Errorf("agent crashed")})

	client, err := Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	_, err = client.Run(context.Background(), capability.ExecRequest{Prompt: "do it"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent crashed")
}
