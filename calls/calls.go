// Package calls implements the Call Orchestrator (spec.md §4.3): the glue
// between a stream's state machine (package stream) and the handles a stub
// exposes to application code. It wraps message sending/receiving in
// deadline timers and cooperative cancellation, and re-issues an RPC under
// a retry policy when the server has not yet committed to a response.
package calls

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/coreflux/grpcrt/metadata"
	"github.com/coreflux/grpcrt/status"
	"github.com/coreflux/grpcrt/stream"
)

// globalValidator is reused across calls the way the teacher's
// rpc.globalValidator is (rpc/service.go): validator.New() builds and
// caches struct-tag reflection once, so every call shares one instance
// instead of paying that cost per RPC.
var globalValidator = validator.New()

// Kind identifies which of the four RPC shapes a method is (spec.md §4.3
// table). It governs how many messages each side may send.
type Kind int

const (
	Unary Kind = iota
	ClientStreaming
	ServerStreaming
	BidiStreaming
)

func (k Kind) String() string {
	switch k {
	case Unary:
		return "unary"
	case ClientStreaming:
		return "client_streaming"
	case ServerStreaming:
		return "server_streaming"
	case BidiStreaming:
		return "bidi_streaming"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MethodDescriptor identifies a single RPC method and its shape. FullName
// is "/{service}/{method}", matching the :path pseudo-header (spec.md §6).
type MethodDescriptor struct {
	FullName string `validate:"required,startswith=/"`
	Kind     Kind   `validate:"min=0,max=3"`
}

// Validate rejects a malformed descriptor before it reaches NewCall, the
// way the teacher validates a decoded request struct before handing it to
// a handler (rpc/handler.go's ctx.validator.Struct call).
func (m MethodDescriptor) Validate() error {
	return globalValidator.Struct(m)
}

// CallOptions configures a single call. Every field has a zero value that
// means "use the connection/method default".
type CallOptions struct {
	// Deadline is the absolute time this call must complete by. Zero means
	// no deadline.
	Deadline time.Time
	// Metadata is additional user metadata sent with initial headers.
	Metadata *metadata.MD
	// Compression requests a specific grpc-encoding for outbound messages.
	Compression string
	// MaxReceiveSize bounds inbound message size; zero means unbounded.
	MaxReceiveSize int `validate:"min=0"`
	// MaxSendSize bounds outbound message size; zero means unbounded.
	MaxSendSize int `validate:"min=0"`
	// Retry is the retry policy to apply, or nil for none.
	Retry *RetryPolicy
}

// Validate rejects options with a negative size bound, the kind of
// caller mistake the teacher catches with a `validate:"min=0"` struct tag
// rather than a hand-rolled range check.
func (o CallOptions) Validate() error {
	return globalValidator.Struct(o)
}

// deadlineContext returns ctx bound to opts.Deadline, and a cancel func the
// caller must invoke once the call completes. Mirrors
// rpc.TimeoutInterceptor's use of context.WithTimeout, generalized to an
// absolute deadline since grpc-timeout on the wire is relative but the
// orchestrator tracks the absolute instant once decoded.
func deadlineContext(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

// Call is the shared bookkeeping every handle kind embeds: the stream state
// machine, the bound context, and the mapping from context expiry/explicit
// Cancel to the machine's Abort/Cancel transitions (spec.md §4.3: "the
// orchestrator sets up a deadline timer; its expiry triggers cancellation").
type Call struct {
	Method MethodDescriptor
	opts   CallOptions

	ctx    context.Context
	cancel context.CancelFunc

	machine *stream.Machine
}

// NewCall creates the shared orchestrator state for one RPC attempt. side
// distinguishes whether this Call instance represents the client's or the
// server's view of the stream, matching stream.Side. A method descriptor
// or options that fail validation still produce a Call, but one already
// aborted with invalidArgument — callers observe the failure the same way
// they would observe any other terminal Status, through Machine().
func NewCall(ctx context.Context, method MethodDescriptor, side stream.Side, opts CallOptions) *Call {
	callCtx, cancel := deadlineContext(ctx, opts.Deadline)
	c := &Call{
		Method:  method,
		opts:    opts,
		ctx:     callCtx,
		cancel:  cancel,
		machine: stream.New(side),
	}

	if err := method.Validate(); err != nil {
		c.machine.Abort(status.New(status.InvalidArgument, err.Error()))
	} else if err := opts.Validate(); err != nil {
		c.machine.Abort(status.New(status.InvalidArgument, err.Error()))
	}

	go c.watchDeadline()
	return c
}

// watchDeadline aborts the stream machine the moment the call's context is
// done: with deadlineExceeded when the deadline fired, otherwise with
// canceled. After an explicit Cancel the machine is already terminal, so
// the abort is a no-op.
// Spec.md §5: "firing is idempotent; it converts to cancellation with
// Status deadlineExceeded".
func (c *Call) watchDeadline() {
	<-c.ctx.Done()
	if c.ctx.Err() == context.DeadlineExceeded {
		c.machine.Abort(status.New(status.DeadlineExceeded, "deadline exceeded"))
	} else {
		c.machine.Abort(status.New(status.Canceled, "call canceled"))
	}
}

// Context returns the call-scoped context; it is done when the deadline
// fires or Cancel is called.
func (c *Call) Context() context.Context {
	return c.ctx
}

// Machine exposes the underlying state machine for the handle types in
// this package to drive.
func (c *Call) Machine() *stream.Machine {
	return c.machine
}

// Cancel is the user-facing cancellation entry point (spec.md §4.2
// invariant 5): it is terminal and idempotent, and the caller is expected
// to also emit a best-effort RST_STREAM through the transport.
func (c *Call) Cancel() {
	c.machine.Cancel()
	c.cancel()
}

// Done reports whether the call has reached a terminal state.
func (c *Call) Done() bool {
	_, done := c.machine.FinalStatus()
	return done
}
