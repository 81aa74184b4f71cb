// Package metadata implements the ordered key/value pairs carried in gRPC
// HEADERS and trailing HEADERS frames (spec.md §3 "Metadata").
package metadata

import (
	"fmt"
	"strings"
)

// reservedKeys are pseudo-headers and gRPC control keys the core injects
// and strips; user code may never set them directly.
var reservedKeys = map[string]bool{
	":method":              true,
	":scheme":              true,
	":path":                true,
	":authority":           true,
	":status":              true,
	"grpc-status":          true,
	"grpc-message":         true,
	"grpc-encoding":        true,
	"grpc-accept-encoding": true,
	"grpc-timeout":         true,
	"content-type":         true,
	"te":                   true,
	"user-agent":           true,
}

// Pair is a single metadata entry as it appears on the wire, in order.
type Pair struct {
	Key   string
	Value string // ASCII value; empty if Key is binary
	Bin   []byte // set instead of Value when Key has the -bin suffix
}

// MD is an ordered multimap of metadata pairs. Order is preserved on
// insertion, lookup, and emission; duplicate keys are permitted.
type MD struct {
	pairs []Pair
}

// New creates an empty MD.
func New() *MD {
	return &MD{}
}

// IsBinary reports whether key carries opaque bytes rather than ASCII text.
func IsBinary(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), "-bin")
}

// IsReserved reports whether key is a pseudo-header or gRPC control key that
// user code may not set.
func IsReserved(key string) bool {
	return reservedKeys[strings.ToLower(key)]
}

// Append adds an ASCII-valued pair, preserving key case and insertion order.
// It returns an error if key is reserved or (for non -bin keys) value is not
// valid ASCII, or if key is a -bin key (use AppendBinary instead).
func (md *MD) Append(key, value string) error {
	if IsReserved(key) {
		return fmt.Errorf("metadata: key %q is reserved", key)
	}
	if IsBinary(key) {
		return fmt.Errorf("metadata: key %q requires AppendBinary", key)
	}
	if !isASCII(value) {
		return fmt.Errorf("metadata: value for key %q is not valid ASCII", key)
	}
	md.pairs = append(md.pairs, Pair{Key: key, Value: value})
	return nil
}

// AppendBinary adds an opaque-bytes pair under a -bin key.
func (md *MD) AppendBinary(key string, value []byte) error {
	if IsReserved(key) {
		return fmt.Errorf("metadata: key %q is reserved", key)
	}
	if !IsBinary(key) {
		return fmt.Errorf("metadata: key %q must end in -bin for binary values", key)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	md.pairs = append(md.pairs, Pair{Key: key, Bin: cp})
	return nil
}

// AppendReserved is the escape hatch used by other grpcrt packages that
// legitimately need to set a reserved or control key (the core itself,
// never user code).
func (md *MD) AppendReserved(key, value string) {
	md.pairs = append(md.pairs, Pair{Key: key, Value: value})
}

// Get returns all values for key (case-insensitively), in insertion order.
// Binary values are returned through the Bin field of each Pair.
func (md *MD) Get(key string) []Pair {
	key = strings.ToLower(key)
	var out []Pair
	for _, p := range md.pairs {
		if strings.ToLower(p.Key) == key {
			out = append(out, p)
		}
	}
	return out
}

// Pairs returns the full ordered list of pairs.
func (md *MD) Pairs() []Pair {
	return md.pairs
}

// Len returns the number of pairs.
func (md *MD) Len() int {
	return len(md.pairs)
}

// Clone returns a deep copy preserving order.
func (md *MD) Clone() *MD {
	out := &MD{pairs: make([]Pair, len(md.pairs))}
	copy(out.pairs, md.pairs)
	for i, p := range out.pairs {
		if p.Bin != nil {
			cp := make([]byte, len(p.Bin))
			copy(cp, p.Bin)
			out.pairs[i].Bin = cp
		}
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
