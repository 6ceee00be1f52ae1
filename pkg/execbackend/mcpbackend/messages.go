package mcpbackend

// runTurnTool is the name the external agent process is expected to expose
// an MCP tool under.
const runTurnTool = "run_turn"

// runTurnInput is the MCP tool call argument shape for one agent turn.
type runTurnInput struct {
	Prompt    string `json:"prompt" jsonschema:"the scout/ticket prompt for this turn"`
	WorkDir   string `json:"work_dir" jsonschema:"worktree the agent should operate in"`
	TimeoutMs int    `json:"timeout_ms,omitempty" jsonschema:"turn timeout in milliseconds"`
}

// runTurnOutput is the structured content the tool call returns.
type runTurnOutput struct {
	Output       string   `json:"output"`
	Diff         string   `json:"diff"`
	ChangedFiles []string `json:"changed_files"`
	Stdout       string   `json:"stdout"`
	ExitCode     int      `json:"exit_code"`
}
