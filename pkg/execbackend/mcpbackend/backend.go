// Package mcpbackend is an MCP-based transport for capability.ExecBackend:
// the external coding agent is exposed as an MCP server with a "run_turn"
// tool, invoked here as an alternative to the gRPC transport in
// pkg/execbackend/grpcbackend.
package mcpbackend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wheelwright-dev/wheelwright/pkg/capability"
)

// Backend implements capability.ExecBackend over an established MCP client
// session.
type Backend struct {
	session *mcp.ClientSession
}

// NewBackend wraps an already-connected client session.
func NewBackend(session *mcp.ClientSession) *Backend {
	return &Backend{session: session}
}

// Run implements capability.ExecBackend by calling the agent's run_turn tool.
func (b *Backend) Run(ctx context.Context, req capability.ExecRequest) (capability.ExecResult, error) {
	result, err := b.session.CallTool(ctx, &mcp.CallToolParams{
		Name: runTurnTool,
		Arguments: runTurnInput{
			Prompt:    req.Prompt,
			WorkDir:   req.WorkDir,
			TimeoutMs: req.TimeoutMs,
		},
	})
	if err != nil {
		return capability.ExecResult{}, fmt.Errorf("call %s: %w", runTurnTool, err)
	}
	text := textContent(result)
	if result.IsError {
		return capability.ExecResult{}, fmt.Errorf("agent turn reported an error: %s", text)
	}

	var out runTurnOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return capability.ExecResult{}, fmt.Errorf("decode run_turn result: %w", err)
	}
	return capability.ExecResult{
		Output:       out.Output,
		Diff:         out.Diff,
		ChangedFiles: out.ChangedFiles,
		Stdout:       out.Stdout,
		ExitCode:     out.ExitCode,
	}, nil
}

func textContent(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return "unknown error"
}

var _ capability.ExecBackend = (*Backend)(nil)
