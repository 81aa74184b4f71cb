// Package protojson implements codec.Codec for the application/grpc+json
// content-type, using google.golang.org/protobuf/encoding/protojson the
// same way the teacher's Encoder.EncodeJSON did (codec/encoder.go), so
// `application/grpc+json` is a real, wired codec rather than the
// unimplemented stub an earlier draft of this module left it as.
package protojson

import (
	protobuf "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/encoding/protojson"
)

// PB constrains M so that *M implements proto.Message.
type PB[M any] interface {
	*M
	protobuf.Message
}

// Codec serializes/deserializes protobuf messages of type M as JSON.
type Codec[M any, PM PB[M]] struct {
	marshal protojson.MarshalOptions
}

// New creates a Codec for message type M with the teacher's
// EncodeJSON options: emit unpopulated fields, use proto field names
// rather than the camelCase JSON names.
func New[M any, PM PB[M]]() *Codec[M, PM] {
	return &Codec[M, PM]{
		marshal: protojson.MarshalOptions{EmitUnpopulated: true, UseProtoNames: true},
	}
}

// Name is the content-type suffix this codec answers to.
func (*Codec[M, PM]) Name() string { return "json" }

// Serialize marshals msg to its protobuf-JSON encoding.
func (c *Codec[M, PM]) Serialize(msg *M) ([]byte, error) {
	return c.marshal.Marshal(PM(msg))
}

// Deserialize unmarshals data into out.
func (*Codec[M, PM]) Deserialize(data []byte, out *M) error {
	PM(out).Reset()
	return protojson.Unmarshal(data, PM(out))
}
