package mcpbackend

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wheelwright-dev/wheelwright/pkg/capability"
)

// NewStubServer exposes a capability.ExecBackend as an MCP server with a
// single run_turn tool, grounding the scripted-agent-stub pattern used by
// the deterministic failure-cycle tests.
func NewStubServer(name string, backend capability.ExecBackend) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: name, Version: "stub"}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        runTurnTool,
		Description: "Run one coding-agent turn and return its diff and changed files",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in runTurnInput) (*mcp.CallToolResult, any, error) {
		result, err := backend.Run(ctx, capability.ExecRequest{
			Prompt: in.Prompt, WorkDir: in.WorkDir, TimeoutMs: in.TimeoutMs,
		})
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil, nil
		}
		data, err := json.Marshal(runTurnOutput{
			Output: result.Output, Diff: result.Diff, ChangedFiles: result.ChangedFiles,
			Stdout: result.Stdout, ExitCode: result.ExitCode,
		})
		if err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
	})
	return srv
}
