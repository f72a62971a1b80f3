package metastore

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// The metastore speaks plain JSON over gRPC; this service carries no
// buf-generated stubs, so the wire types are declared next to the client.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }
