// Package encoding implements the per-message compression algorithms gRPC
// negotiates through grpc-encoding/grpc-accept-encoding (spec.md §4.1).
package encoding

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Algorithm names as they appear in grpc-encoding / grpc-accept-encoding.
const (
	Identity = ""
	Gzip     = "gzip"
	Deflate  = "deflate"
)

// Compressor compresses and decompresses message payloads for one
// algorithm. Implementations must be safe for concurrent use.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var registry = struct {
	sync.RWMutex
	m map[string]Compressor
}{m: make(map[string]Compressor)}

// Register adds c to the global registry under c.Name(). Re-registering a
// name replaces the previous compressor.
func Register(c Compressor) {
	registry.Lock()
	defer registry.Unlock()
	registry.m[c.Name()] = c
}

// Lookup returns the compressor registered for name, or (nil, false) if
// none is registered (including for Identity, which never has one).
func Lookup(name string) (Compressor, bool) {
	if name == Identity {
		return nil, false
	}
	registry.RLock()
	defer registry.RUnlock()
	c, ok := registry.m[name]
	return c, ok
}

func init() {
	Register(&gzipCompressor{})
	Register(&deflateCompressor{})
}

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// gzipCompressor implements gzip compression (windowBits=31 in zlib terms).
type gzipCompressor struct {
	writers sync.Pool
	readers sync.Pool
}

func (g *gzipCompressor) Name() string { return Gzip }

func (g *gzipCompressor) Compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	wv := g.writers.Get()
	var w *gzip.Writer
	if wv == nil {
		w = gzip.NewWriter(buf)
	} else {
		w = wv.(*gzip.Writer)
		w.Reset(buf)
	}
	defer g.writers.Put(w)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("encoding: gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encoding: gzip compress close: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (g *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	rv := g.readers.Get()
	var r *gzip.Reader
	var err error
	if rv == nil {
		r, err = gzip.NewReader(bytes.NewReader(data))
	} else {
		r = rv.(*gzip.Reader)
		err = r.Reset(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("encoding: gzip decompress reset: %w", err)
	}
	defer g.readers.Put(r)

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("encoding: gzip decompress: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// deflateCompressor implements raw DEFLATE (RFC 1951) as
// flate.NewWriter/NewReader produce and read it, with no zlib header or
// trailer.
type deflateCompressor struct {
	writers sync.Pool
}

func (d *deflateCompressor) Name() string { return Deflate }

func (d *deflateCompressor) Compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	wv := d.writers.Get()
	var w *flate.Writer
	if wv == nil {
		var err error
		w, err = flate.NewWriter(buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("encoding: deflate compress: %w", err)
		}
	} else {
		w = wv.(*flate.Writer)
		w.Reset(buf)
	}
	defer d.writers.Put(w)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("encoding: deflate compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encoding: deflate compress close: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (d *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("encoding: deflate decompress: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// ParseAcceptEncoding splits a comma-separated grpc-accept-encoding header
// value into its component algorithm names, trimming whitespace.
func ParseAcceptEncoding(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Negotiate downgrades a preferred algorithm to Identity when the peer's
// advertised accept-set (from grpc-accept-encoding) does not include it,
// per spec.md §4.1.
func Negotiate(preferred string, peerAccepts []string) string {
	if preferred == Identity {
		return Identity
	}
	for _, a := range peerAccepts {
		if a == preferred {
			return preferred
		}
	}
	return Identity
}
