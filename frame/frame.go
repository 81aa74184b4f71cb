// Package frame implements the length-prefixed message framer and deframer
// shared by gRPC clients and servers (spec.md §4.1):
//
//	+---+----------------+---------------------------+
//	| C | L (4 bytes BE) | payload (L bytes)          |
//	+---+----------------+---------------------------+
//
// A Framer turns one application message into a prefixed, optionally
// compressed byte frame. A Deframer is the inverse: it accumulates
// arbitrarily fragmented bytes and yields complete frames as they become
// available. Both are pure with respect to their buffer state and are
// restartable on a fresh stream; neither type is safe across streams.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coreflux/grpcrt/encoding"
)

const (
	prefixSize = 5

	flagUncompressed byte = 0x00
	flagCompressed   byte = 0x01
)

// ErrMessageTooLarge is returned when a payload would exceed the configured
// maximum size, either before sending (outbound) or while decoding
// (inbound). Spec.md §4.1: "resourceExhausted".
var ErrMessageTooLarge = errors.New("frame: message exceeds configured maximum size")

// ErrUnexpectedEOF is returned by the Deframer when the stream ends with a
// partial frame buffered. Spec.md §4.1: "internalError".
var ErrUnexpectedEOF = errors.New("frame: unexpected end of stream mid-frame")

// ErrBadCompressionFlag is returned when the 1-byte flag is neither 0x00 nor
// 0x01. Spec.md §4.1: "internalError".
var ErrBadCompressionFlag = errors.New("frame: invalid compression flag byte")

// Framer serializes messages into the wire frame format for one stream
// direction, applying the stream's negotiated compression algorithm.
type Framer struct {
	// Compression is the algorithm to apply, or encoding.Identity for none.
	Compression string
	// MaxSize bounds the serialized (pre-compression) payload size. Zero
	// means unbounded.
	MaxSize int
	// AlwaysCompress, when true, keeps the compressed form even if it is
	// not smaller than the original (useful for deterministic tests).
	AlwaysCompress bool
}

// Frame encodes a single already-serialized message into the wire format:
// 1-byte flag + 4-byte big-endian length + payload. It returns
// ErrMessageTooLarge if the uncompressed payload exceeds f.MaxSize.
func (f *Framer) Frame(serialized []byte) ([]byte, error) {
	if f.MaxSize > 0 && len(serialized) > f.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(serialized), f.MaxSize)
	}

	payload := serialized
	flag := flagUncompressed

	if f.Compression != encoding.Identity {
		c, ok := encoding.Lookup(f.Compression)
		if !ok {
			return nil, fmt.Errorf("frame: no compressor registered for %q", f.Compression)
		}
		compressed, err := c.Compress(serialized)
		if err != nil {
			return nil, fmt.Errorf("frame: compress: %w", err)
		}
		if f.AlwaysCompress || len(compressed) < len(serialized) {
			payload = compressed
			flag = flagCompressed
		}
	}

	out := make([]byte, prefixSize+len(payload))
	out[0] = flag
	binary.BigEndian.PutUint32(out[1:prefixSize], uint32(len(payload)))
	copy(out[prefixSize:], payload)
	return out, nil
}

// Deframer accumulates inbound bytes and yields decoded, decompressed
// message payloads as complete frames arrive. It is restartable on a fresh
// stream but must not be shared across streams.
type Deframer struct {
	// Compression is the algorithm advertised for this stream's inbound
	// messages (from grpc-encoding), or encoding.Identity.
	Compression string
	// MaxSize bounds the payload length declared in the frame prefix, as
	// carried on the wire (before any decompression). Zero means unbounded.
	MaxSize int

	buf []byte
}

// Write appends newly-arrived bytes to the deframer's buffer.
func (d *Deframer) Write(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next attempts to decode one complete frame from the buffer. It returns
// (payload, true, nil) when a full frame was available and consumed,
// (nil, false, nil) when more bytes are needed, and a non-nil error for a
// malformed frame or oversize payload.
func (d *Deframer) Next() ([]byte, bool, error) {
	if len(d.buf) < prefixSize {
		return nil, false, nil
	}

	flag := d.buf[0]
	if flag != flagUncompressed && flag != flagCompressed {
		return nil, false, ErrBadCompressionFlag
	}
	length := binary.BigEndian.Uint32(d.buf[1:prefixSize])

	if d.MaxSize > 0 && int(length) > d.MaxSize {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, d.MaxSize)
	}

	total := prefixSize + int(length)
	if len(d.buf) < total {
		return nil, false, nil
	}

	payload := make([]byte, length)
	copy(payload, d.buf[prefixSize:total])
	d.buf = d.buf[total:]

	if flag == flagCompressed {
		algorithm := d.Compression
		if algorithm == encoding.Identity {
			return nil, false, fmt.Errorf("frame: compressed frame received but no compression negotiated")
		}
		c, ok := encoding.Lookup(algorithm)
		if !ok {
			return nil, false, fmt.Errorf("frame: no compressor registered for %q", algorithm)
		}
		decompressed, err := c.Decompress(payload)
		if err != nil {
			return nil, false, fmt.Errorf("frame: decompress: %w", err)
		}
		payload = decompressed
	}

	return payload, true, nil
}

// Close signals that no more bytes will arrive. It returns ErrUnexpectedEOF
// if a partial frame (fewer than 5, or fewer than 5+L bytes) remains
// buffered; it is a no-op if the buffer is empty.
func (d *Deframer) Close() error {
	if len(d.buf) == 0 {
		return nil
	}
	return ErrUnexpectedEOF
}

// Pending reports the number of unconsumed bytes currently buffered.
func (d *Deframer) Pending() int {
	return len(d.buf)
}
