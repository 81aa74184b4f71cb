// Package protobuf implements codec.Codec for generated protobuf message
// types, using google.golang.org/protobuf/proto the same way the
// teacher's Encoder.Encode did (codec/encoder.go) before this package
// replaced the hyperpb-backed dynamic-message path with a generic,
// statically-typed one.
package protobuf

import (
	"sync"

	protobuf "google.golang.org/protobuf/proto"
)

// PB constrains M so that *M implements proto.Message, letting Codec work
// for any generated message type without reflection.
type PB[M any] interface {
	*M
	protobuf.Message
}

// Codec serializes/deserializes protobuf messages of type M, pooling
// scratch instances the way pool.MessagePool (codec/pool.go) pooled
// hyperpb messages, generalized to any generated Go struct via generics.
type Codec[M any, PM PB[M]] struct {
	pool sync.Pool
}

// New creates a Codec for message type M.
func New[M any, PM PB[M]]() *Codec[M, PM] {
	return &Codec[M, PM]{}
}

// Name is the content-type suffix this codec answers to.
func (*Codec[M, PM]) Name() string { return "proto" }

// Serialize marshals msg to its protobuf wire encoding.
func (*Codec[M, PM]) Serialize(msg *M) ([]byte, error) {
	return protobuf.Marshal(PM(msg))
}

// Deserialize unmarshals data into out, resetting out first so repeated
// calls on a pooled message never merge with stale fields.
func (*Codec[M, PM]) Deserialize(data []byte, out *M) error {
	PM(out).Reset()
	return protobuf.Unmarshal(data, PM(out))
}

// Get returns a pooled, reset *M, allocating one if the pool is empty.
func (c *Codec[M, PM]) Get() *M {
	if v := c.pool.Get(); v != nil {
		m := v.(*M)
		PM(m).Reset()
		return m
	}
	return new(M)
}

// Put returns msg to the pool for reuse.
func (c *Codec[M, PM]) Put(msg *M) {
	c.pool.Put(msg)
}
