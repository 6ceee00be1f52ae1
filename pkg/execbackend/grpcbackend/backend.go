// Package grpcbackend is a gRPC transport for capability.ExecBackend,
// generalizing the teacher's llm_grpc.go (LLM-over-gRPC) pattern to full
// agent turns: the external coding agent runs as a separate process and is
// invoked over a unary RPC carrying prompt/workdir in, diff/output out.
package grpcbackend

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wheelwright-dev/wheelwright/pkg/capability"
)

// Backend implements capability.ExecBackend by calling an agent sidecar
// over gRPC. Plaintext transport matches the teacher's GRPCLLMClient: the
// agent sidecar is expected to run alongside the orchestrator, not across a
// network boundary.
type Backend struct {
	conn   *grpc.ClientConn
	client AgentTurnClient
}

// Dial connects to the agent sidecar at addr.
func Dial(addr string) (*Backend, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial agent sidecar at %s: %w", addr, err)
	}
	return &Backend{conn: conn, client: NewAgentTurnClient(conn)}, nil
}

// Close releases the underlying connection.
func (b *Backend) Close() error { return b.conn.Close() }

// Run implements capability.ExecBackend.
func (b *Backend) Run(ctx context.Context, req capability.ExecRequest) (capability.ExecResult, error) {
	resp, err := b.client.RunTurn(ctx, &TurnRequest{
		Prompt:    req.Prompt,
		WorkDir:   req.WorkDir,
		TimeoutMs: req.TimeoutMs,
	})
	if err != nil {
		return capability.ExecResult{}, fmt.Errorf("agent turn failed: %w", err)
	}
	if resp.Error != "" {
		return capability.ExecResult{}, fmt.Errorf("agent turn error: %s", resp.Error)
	}
	return capability.ExecResult{
		Output:       resp.Output,
		Diff:         resp.Diff,
		ChangedFiles: resp.ChangedFiles,
		Stdout:       resp.Stdout,
		ExitCode:     resp.ExitCode,
	}, nil
}

var _ capability.ExecBackend = (*Backend)(nil)

// Server adapts a capability.ExecBackend to the AgentTurnServer contract so
// the same orchestrator code can run either side of the RPC boundary (useful
// for the deterministic-failure-cycle test harness, §"Deterministic
// failure-cycle testing").
type Server struct {
	backend capability.ExecBackend
}

// NewServer wraps backend for RegisterAgentTurnServer.
func NewServer(backend capability.ExecBackend) *Server {
	return &Server{backend: backend}
}

func (s *Server) RunTurn(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	result, err := s.backend.Run(ctx, capability.ExecRequest{
		Prompt: req.Prompt, WorkDir: req.WorkDir, TimeoutMs: req.TimeoutMs,
	})
	if err != nil {
		return &TurnResponse{Error: err.Error()}, nil
	}
	return &TurnResponse{
		Output: result.Output, Diff: result.Diff, ChangedFiles: result.ChangedFiles,
		Stdout: result.Stdout, ExitCode: result.ExitCode,
	}, nil
}

var _ AgentTurnServer = (*Server)(nil)
