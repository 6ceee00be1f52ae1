package grpcbackend

// TurnRequest is the wire shape of one agent turn sent to the external
// coding-agent service, generalizing the teacher's GenerateRequest
// (LLM-over-gRPC) to an agent-turn-over-gRPC call.
type TurnRequest struct {
	Prompt    string `json:"prompt"`
	WorkDir   string `json:"work_dir"`
	TimeoutMs int    `json:"timeout_ms"`
}

// TurnResponse is the wire shape of the agent's reply.
type TurnResponse struct {
	Output       string   `json:"output"`
	Diff         string   `json:"diff"`
	ChangedFiles []string `json:"changed_files"`
	Stdout       string   `json:"stdout"`
	ExitCode     int      `json:"exit_code"`
	Error        string   `json:"error,omitempty"`
}
