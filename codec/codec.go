// Package codec defines the Serializer/Deserializer contract the Call
// Orchestrator and Transport Manager consume (spec.md §6:
// "User-supplied interfaces the core consumes: Serializer<M>,
// Deserializer<M>"), and ContentType, which renders the content-type for a
// codec's suffix (`+proto`, `+json`). The package keeps no registry of
// codecs; the subpackages protobuf and protojson implement Codec. It
// replaces the teacher's
// reflection/hyperpb-based Codec (codec/codec.go originally): this module
// is a from-scratch core runtime, not a dynamic-message framework, so
// encoding is generic over a concrete Go message type rather than driven
// by a runtime protoreflect.MessageDescriptor.
package codec

import "fmt"

// Serializer turns one application message into bytes for framing
// (frame.Framer.Frame takes its output directly).
type Serializer[M any] interface {
	Serialize(msg *M) ([]byte, error)
}

// Deserializer is the inverse of Serializer.
type Deserializer[M any] interface {
	Deserialize(data []byte, out *M) error
}

// Codec bundles a Serializer and Deserializer for one wire format, plus
// the content-type suffix that selects it (spec.md §6: "content-type =
// application/grpc[+proto|+json|+{custom}]").
type Codec[M any] interface {
	Serializer[M]
	Deserializer[M]
	// Name is the content-type suffix this codec implements ("proto",
	// "json", or a custom name), without the leading '+'.
	Name() string
}

// ContentType renders the full content-type header value for a codec name,
// matching spec.md §6's request/response header grammar.
func ContentType(name string) string {
	if name == "" {
		return "application/grpc"
	}
	return fmt.Sprintf("application/grpc+%s", name)
}

// ErrUnknownCodec names the failure of a content-type whose codec suffix
// has no matching Codec. Nothing in this module returns it: there is no
// codec registry and no content-type dispatch here.
var ErrUnknownCodec = fmt.Errorf("codec: no serializer registered for this content-type")
