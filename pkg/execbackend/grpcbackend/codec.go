package grpcbackend

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc-go's encoding package and selected via
// the "json" content-subtype, the way the teacher's llm_grpc.go relies on
// protoc-generated marshaling — this package swaps that generated codec for
// one backed by encoding/json so the wire messages can be plain Go structs
// instead of requiring a protoc/buf code-generation step this task cannot run.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
