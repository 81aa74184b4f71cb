// Package grpctest is a small in-memory transport test double: it shuttles
// messages between a calls.ClientCall and a calls.ServerCall of matching
// types through the real frame.Framer/Deframer and a codec.Codec, without
// opening a socket or an HTTP/2 session. It lets the calls package's
// handles be exercised end to end (request framing, response framing,
// trailer-status propagation) the way a real ClientTransport/
// ServerTransport round trip would, while keeping a test's setup to two
// function calls.
package grpctest

import (
	"io"

	"github.com/coreflux/grpcrt/calls"
	"github.com/coreflux/grpcrt/codec"
	"github.com/coreflux/grpcrt/frame"
)

// Options configures the frames Pipe builds. The zero value frames
// uncompressed, unbounded messages.
type Options struct {
	Compression string
	// MaxRequestSize/MaxResponseSize bound the serialized payload each
	// direction may carry, mirroring frame.Framer.MaxSize (spec.md §4.1):
	// an oversize message is rejected locally and never reaches the peer.
	MaxRequestSize  int
	MaxResponseSize int
}

// Pipe wires client and server together: it starts two goroutines, one
// relaying request messages client->server and one relaying response
// messages server->client, each round-tripping through Frame/Deframe with
// reqCodec/resCodec. The caller is still responsible for the initial
// metadata handshake (SendInitialMetadata/RecvInitialMetadata on both
// machines) before any message can legally flow, matching stream.Machine's
// invariant that initial metadata precedes messages.
func Pipe[Req, Res any](client *calls.ClientCall[Req, Res], server *calls.ServerCall[Req, Res], reqCodec codec.Codec[Req], resCodec codec.Codec[Res], opts Options) {
	go relayRequests(client, server, reqCodec, opts)
	go relayResponses(server, client, resCodec, opts)
}

func relayRequests[Req, Res any](client *calls.ClientCall[Req, Res], server *calls.ServerCall[Req, Res], c codec.Codec[Req], opts Options) {
	framer := &frame.Framer{Compression: opts.Compression, MaxSize: opts.MaxRequestSize}
	deframer := &frame.Deframer{Compression: opts.Compression, MaxSize: opts.MaxRequestSize}
	ctx := server.Context()

	for {
		msg, err := client.NextRequest(ctx)
		if err != nil {
			server.Machine().RecvEndOfStream()
			return
		}

		payload, err := roundTripFrame(framer, deframer, c, msg)
		if err != nil {
			client.Machine().Abort(frameErrorStatus(err))
			server.Machine().Abort(frameErrorStatus(err))
			return
		}

		out := new(Req)
		if err := c.Deserialize(payload, out); err != nil {
			server.Machine().Abort(internalStatus(err))
			return
		}
		if err := server.DeliverRequest(out); err != nil {
			return
		}
	}
}

func relayResponses[Req, Res any](server *calls.ServerCall[Req, Res], client *calls.ClientCall[Req, Res], c codec.Codec[Res], opts Options) {
	framer := &frame.Framer{Compression: opts.Compression, MaxSize: opts.MaxResponseSize}
	deframer := &frame.Deframer{Compression: opts.Compression, MaxSize: opts.MaxResponseSize}
	ctx := client.Context()

	for {
		msg, err := server.NextResponse(ctx)
		if err != nil {
			if st, ok := server.Machine().FinalStatus(); ok {
				client.Machine().RecvTrailers(st)
			} else if ctx.Err() != nil {
				// The client gave up (deadline or cancel): reset the server's
				// stream the way a RST_STREAM CANCEL would.
				server.Machine().Cancel()
			}
			return
		}

		payload, err := roundTripFrame(framer, deframer, c, msg)
		if err != nil {
			client.Machine().Abort(frameErrorStatus(err))
			server.Machine().Abort(frameErrorStatus(err))
			return
		}

		out := new(Res)
		if err := c.Deserialize(payload, out); err != nil {
			client.Machine().Abort(internalStatus(err))
			return
		}
		if err := client.DeliverResponse(out); err != nil {
			return
		}
	}
}

// roundTripFrame serializes msg, frames it, and immediately deframes it
// again, returning the decoded payload bytes. Looping the message through
// both halves of package frame (rather than handing bytes across
// unmodified) is what makes this a transport double instead of a bare
// in-memory queue: it exercises the same wire format a real connection
// would produce.
func roundTripFrame[M any](framer *frame.Framer, deframer *frame.Deframer, c codec.Codec[M], msg *M) ([]byte, error) {
	data, err := c.Serialize(msg)
	if err != nil {
		return nil, err
	}
	framed, err := framer.Frame(data)
	if err != nil {
		return nil, err
	}
	deframer.Write(framed)
	payload, ok, err := deframer.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return payload, nil
}
