package grpcbackend

import (
	"context"

	"google.golang.org/grpc"
)

// AgentTurnService_RunTurn_FullMethodName is the RPC's wire path, matching
// protoc-gen-go-grpc's naming convention for a hand-maintained ServiceDesc.
const AgentTurnService_RunTurn_FullMethodName = "/wheelwright.execbackend.v1.AgentTurnService/RunTurn"

// AgentTurnServer is implemented by the process driving the external coding
// agent (typically a sidecar wrapping the same agent CLI the teacher's
// llm_grpc.go wraps for LLM calls, generalized to full agent turns).
type AgentTurnServer interface {
	RunTurn(ctx context.Context, req *TurnRequest) (*TurnResponse, error)
}

// AgentTurnClient is the orchestrator-side stub.
type AgentTurnClient interface {
	RunTurn(ctx context.Context, req *TurnRequest, opts ...grpc.CallOption) (*TurnResponse, error)
}

type agentTurnClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentTurnClient wraps a ClientConn (dialed with the "json" codec
// content-subtype) as an AgentTurnClient.
func NewAgentTurnClient(cc grpc.ClientConnInterface) AgentTurnClient {
	return &agentTurnClient{cc: cc}
}

func (c *agentTurnClient) RunTurn(ctx context.Context, req *TurnRequest, opts ...grpc.CallOption) (*TurnResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	out := new(TurnResponse)
	if err := c.cc.Invoke(ctx, AgentTurnService_RunTurn_FullMethodName, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterAgentTurnServer registers an implementation on a gRPC server.
func RegisterAgentTurnServer(s grpc.ServiceRegistrar, srv AgentTurnServer) {
	s.RegisterService(&agentTurnServiceDesc, srv)
}

func runTurnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TurnRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentTurnServer).RunTurn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentTurnService_RunTurn_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentTurnServer).RunTurn(ctx, req.(*TurnRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var agentTurnServiceDesc = grpc.ServiceDesc{
	ServiceName: "wheelwright.execbackend.v1.AgentTurnService",
	HandlerType: (*AgentTurnServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunTurn", Handler: runTurnHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "execbackend.proto",
}
