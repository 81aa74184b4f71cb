package calls

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/coreflux/grpcrt/status"
)

// Sender is the outbound "push" interface spec.md §4.3 requires: write a
// message, optionally finish the send direction. Back-pressure is supplied
// by the transport's flow-control credit, not by this interface.
type Sender[T any] interface {
	Send(msg *T) error
	CloseSend() error
}

// Receiver is the inbound "lazy, finite sequence" spec.md §4.3 requires:
// each Recv blocks for the next message and returns io.EOF once the stream
// ends cleanly, or the terminal Status as an error otherwise.
type Receiver[T any] interface {
	Recv() (*T, error)
}

// pipe is the channel-based queue one direction of a stream is built on,
// generalizing rpc.streamImpl (rpc/streaming.go) to a generic payload type
// and tying termination to the shared Call rather than a private done flag.
type pipe[T any] struct {
	call *Call

	mu     sync.Mutex
	queue  []*T
	notify chan struct{}

	closed    bool
	closeOnce sync.Once
}

func newPipe[T any](call *Call) *pipe[T] {
	return &pipe[T]{call: call, notify: make(chan struct{}, 1)}
}

// push enqueues a message for a future recv. It never blocks: the
// transport is expected to honor flow control before handing bytes here.
func (p *pipe[T]) push(msg *T) {
	p.mu.Lock()
	p.queue = append(p.queue, msg)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// closeWith marks the pipe closed; subsequent recv calls drain any queued
// messages before returning io.EOF or the final error.
func (p *pipe[T]) closeWith() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		select {
		case p.notify <- struct{}{}:
		default:
		}
	})
}

func (p *pipe[T]) recv(ctx context.Context) (*T, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			msg := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return msg, nil
		}
		closed := p.closed
		p.mu.Unlock()

		// A terminal stream ends the sequence even if this pipe was never
		// closed explicitly.
		s, terminal := p.call.machine.FinalStatus()
		if closed || terminal {
			if terminal && s.Code() != status.OK {
				return nil, s.Err()
			}
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.notify:
		}
	}
}

// ClientCall is the client-side handle for any RPC kind: an outbound pipe
// for request messages and an inbound pipe for response messages, mediated
// by the shared stream.Machine's legality checks.
type ClientCall[Req, Res any] struct {
	*Call
	outbound *pipe[Req]
	inbound  *pipe[Res]
}

// NewClientCall creates a client handle bound to call. The transport is
// responsible for draining Outbound() (serializing and framing each
// message) and feeding Inbound() as response messages are decoded.
func NewClientCall[Req, Res any](call *Call) *ClientCall[Req, Res] {
	return &ClientCall[Req, Res]{
		Call:     call,
		outbound: newPipe[Req](call),
		inbound:  newPipe[Res](call),
	}
}

// Send queues a request message. It is illegal once CloseSend has been
// called or the stream has half-closed locally.
func (c *ClientCall[Req, Res]) Send(msg *Req) error {
	if err := c.machine.SendMessage(); err != nil {
		return err
	}
	c.outbound.push(msg)
	return nil
}

// CloseSend signals that no more request messages will be sent.
func (c *ClientCall[Req, Res]) CloseSend() error {
	if err := c.machine.SendEndOfStream(); err != nil {
		return err
	}
	c.outbound.closeWith()
	return nil
}

// Recv returns the next response message, io.EOF after the last one, or
// the terminal Status as an error.
func (c *ClientCall[Req, Res]) Recv() (*Res, error) {
	return c.inbound.recv(c.ctx)
}

// DeliverResponse is called by the transport as each response message is
// decoded off the wire; it applies the state machine's legality check
// before making the message visible to Recv.
func (c *ClientCall[Req, Res]) DeliverResponse(msg *Res) error {
	if err := c.machine.RecvMessage(); err != nil {
		return err
	}
	c.inbound.push(msg)
	return nil
}

// NextRequest is called by the transport to drain queued request messages
// for serialization and framing onto the wire; it blocks until one is
// available, CloseSend has been called, or ctx is done.
func (c *ClientCall[Req, Res]) NextRequest(ctx context.Context) (*Req, error) {
	return c.outbound.recv(ctx)
}

// ServerCall is the server-side handle: an inbound pipe for request
// messages and an outbound pipe for response messages, mirroring
// ClientCall with the roles reversed.
type ServerCall[Req, Res any] struct {
	*Call
	inbound  *pipe[Req]
	outbound *pipe[Res]
}

// NewServerCall creates a server handle bound to call.
func NewServerCall[Req, Res any](call *Call) *ServerCall[Req, Res] {
	return &ServerCall[Req, Res]{
		Call:     call,
		inbound:  newPipe[Req](call),
		outbound: newPipe[Res](call),
	}
}

// Recv returns the next request message, io.EOF once the client has
// finished sending.
func (s *ServerCall[Req, Res]) Recv() (*Req, error) {
	return s.inbound.recv(s.ctx)
}

// Send queues a response message.
func (s *ServerCall[Req, Res]) Send(msg *Res) error {
	if err := s.machine.SendMessage(); err != nil {
		return err
	}
	s.outbound.push(msg)
	return nil
}

// CloseSend lets a ServerCall serve as the Sender of a server-streaming
// handler. A server's send direction ends with the trailers Finish writes,
// so CloseSend records no transition of its own and always returns nil.
func (s *ServerCall[Req, Res]) CloseSend() error {
	return nil
}

// Finish sends trailers carrying the final Status, closing the stream.
func (s *ServerCall[Req, Res]) Finish(st *status.Status) error {
	if err := s.machine.SendTrailers(st); err != nil {
		return err
	}
	s.outbound.closeWith()
	return nil
}

// DeliverRequest is called by the transport as each request message is
// decoded off the wire.
func (s *ServerCall[Req, Res]) DeliverRequest(msg *Req) error {
	if err := s.machine.RecvMessage(); err != nil {
		return err
	}
	s.inbound.push(msg)
	return nil
}

// NextResponse is called by the transport to drain queued response
// messages for serialization and framing onto the wire.
func (s *ServerCall[Req, Res]) NextResponse(ctx context.Context) (*Res, error) {
	return s.outbound.recv(ctx)
}

// UnaryHandler is a unary method implementation: exactly one request in,
// one response or error out (spec.md §4.3 table).
type UnaryHandler[Req, Res any] func(ctx context.Context, req *Req) (*Res, error)

// ClientStreamHandler receives a lazy sequence of requests and produces one
// response.
type ClientStreamHandler[Req, Res any] func(ctx context.Context, stream Receiver[Req]) (*Res, error)

// ServerStreamHandler receives one request and produces a lazy sequence of
// responses.
type ServerStreamHandler[Req, Res any] func(ctx context.Context, req *Req, stream Sender[Res]) error

// BidiStreamHandler exchanges lazy sequences in both directions.
type BidiStreamHandler[Req, Res any] func(ctx context.Context, stream *ServerCall[Req, Res]) error

// errUnexpectedKind is returned when a handler is invoked against a Call
// whose MethodDescriptor.Kind doesn't match, which would indicate a wiring
// bug in the transport's dispatch table rather than a client error.
var errUnexpectedKind = fmt.Errorf("calls: handler kind does not match method descriptor")
