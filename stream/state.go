// Package stream implements the per-RPC state machine (spec.md §4.2): it
// tracks which headers, messages, and trailers have been sent or received
// in each direction and rejects illegal transitions. It is deliberately a
// straight-line set of explicit transitions rather than a channel-handler
// pipeline (spec.md §9 Design Notes).
package stream

import (
	"fmt"
	"sync"

	"github.com/coreflux/grpcrt/status"
)

// State is one of the states a stream can be in, from the local endpoint's
// point of view.
type State int

const (
	Idle State = iota
	Open
	HalfClosedLocal
	HalfClosedRemote
	Closed
	Reset
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Open:
		return "open"
	case HalfClosedLocal:
		return "half_closed_local"
	case HalfClosedRemote:
		return "half_closed_remote"
	case Closed:
		return "closed"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Side distinguishes which endpoint a Machine represents; server and client
// have mirrored transition tables for who may send trailers.
type Side int

const (
	Client Side = iota
	Server
)

// Machine is the per-RPC state machine described in spec.md §4.2. One
// Machine is owned exclusively by the call that created it. All methods
// are safe for concurrent use: sends and receives happen concurrently in
// the orchestrator, and the machine is the single point of truth for
// whether a transition is legal.
type Machine struct {
	mu    sync.Mutex
	side  Side
	state State

	sentInitialMetadata bool
	recvInitialMetadata bool
	sentTrailers        bool
	recvTrailers        bool

	finalStatus *status.Status
}

// New creates a Machine in the idle state for the given side.
func New(side Side) *Machine {
	return &Machine{side: side, state: Idle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FinalStatus returns the terminal Status once the machine has reached
// Closed or Reset, or (nil, false) before that.
func (m *Machine) FinalStatus() (*status.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalStatus == nil {
		return nil, false
	}
	return m.finalStatus, true
}

// illegal builds the internalError the spec requires for rule violations.
func illegal(format string, args ...any) error {
	return status.Newf(status.Internal, format, args...).Err()
}

// terminal reports whether the machine can no longer accept any event.
func (m *Machine) terminal() bool {
	return m.state == Closed || m.state == Reset
}

// SendInitialMetadata records that this endpoint sent its initial metadata
// (HEADERS, client request or server response headers). Invariant 1 and 3
// of spec.md §4.2: at most once, and nothing may precede it.
func (m *Machine) SendInitialMetadata() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal() {
		return nil // late/no-op per spec.md §4.2 closed/reset row
	}
	if m.sentInitialMetadata {
		return illegal("initial metadata already sent on this stream")
	}
	if m.state != Idle && m.state != Open && m.state != HalfClosedRemote {
		return illegal("cannot send initial metadata from state %s", m.state)
	}

	m.sentInitialMetadata = true
	m.toOpenIfIdle()
	return nil
}

// RecvInitialMetadata records that initial metadata arrived from the peer.
func (m *Machine) RecvInitialMetadata() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal() {
		return nil
	}
	if m.recvInitialMetadata {
		return illegal("initial metadata already received on this stream")
	}

	m.recvInitialMetadata = true
	m.toOpenIfIdle()
	return nil
}

func (m *Machine) toOpenIfIdle() {
	if m.state == Idle {
		m.state = Open
	}
}

// SendMessage validates that a message may be sent now: initial metadata
// for this direction must already have gone out, and the direction must
// not already be half-closed-local. Invariant 3.
func (m *Machine) SendMessage() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal() {
		return illegal("stream is %s, cannot send message", m.state)
	}
	if !m.sentInitialMetadata {
		return illegal("message sent before initial metadata")
	}
	if m.state == HalfClosedLocal {
		return illegal("cannot send message after sending end-of-stream")
	}
	return nil
}

// RecvMessage validates that an inbound message is legal right now.
func (m *Machine) RecvMessage() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal() {
		return nil // closed/reset: late frames ignored, spec.md §4.2
	}
	if !m.recvInitialMetadata {
		return illegal("message received before initial metadata")
	}
	if m.state == HalfClosedRemote {
		return illegal("message received after peer end-of-stream")
	}
	return nil
}

// SendEndOfStream marks that this endpoint has finished sending messages
// (client CloseSend, or a server about to send trailers will call
// SendTrailers instead). Transitions Open -> HalfClosedLocal.
func (m *Machine) SendEndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal() {
		return nil
	}
	if !m.sentInitialMetadata {
		return illegal("end-of-stream sent before initial metadata")
	}

	switch m.state {
	case Open:
		m.state = HalfClosedLocal
	case HalfClosedRemote:
		m.state = Closed
		m.finalStatus = status.New(status.OK, "")
	case HalfClosedLocal:
		// already half-closed-local; idempotent
	default:
		return illegal("cannot send end-of-stream from state %s", m.state)
	}
	return nil
}

// SendTrailers is the server-only terminal send: trailers always carry
// grpc-status (invariant 2) and transition the stream straight to Closed
// regardless of prior state, short of idle (trailers imply end-of-stream).
func (m *Machine) SendTrailers(s *status.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.side != Server {
		return illegal("only the server side may send trailers")
	}
	if m.terminal() {
		return nil
	}
	if !m.sentInitialMetadata {
		return illegal("trailers sent before initial metadata")
	}
	if m.sentTrailers {
		return illegal("trailers already sent")
	}

	m.sentTrailers = true
	m.state = Closed
	m.finalStatus = s
	return nil
}

// RecvEndOfStream marks that the peer has finished sending messages without
// (yet) sending trailers — meaningful chiefly on the client side, where
// end-of-stream alone (no trailers) is unusual but legal mid-flight.
func (m *Machine) RecvEndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal() {
		return nil
	}
	if !m.recvInitialMetadata {
		return illegal("end-of-stream received before initial metadata")
	}

	switch m.state {
	case Open:
		m.state = HalfClosedRemote
	case HalfClosedLocal:
		m.state = Closed
		m.finalStatus = status.New(status.Unknown, "trailers never arrived")
	case HalfClosedRemote:
		// idempotent
	default:
		return illegal("cannot receive end-of-stream from state %s", m.state)
	}
	return nil
}

// RecvTrailers is the client-only terminal receive. Invariant 4: if
// trailers arrive without a grpc-status, the caller passes a Status built
// with status.Unknown (stream/headers.go does this decoding); the machine
// itself just enforces "exactly once".
func (m *Machine) RecvTrailers(s *status.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.side != Client {
		return illegal("only the client side may receive trailers")
	}
	if m.terminal() {
		return nil
	}
	if !m.recvInitialMetadata {
		return illegal("trailers received before initial metadata")
	}
	if m.recvTrailers {
		return illegal("trailers already received")
	}

	m.recvTrailers = true
	m.state = Closed
	m.finalStatus = s
	return nil
}

// Cancel is the terminal, idempotent transition of invariant 5: it moves
// the machine directly to Reset and records a cancelled final Status. The
// caller (the orchestrator) is responsible for best-effort emitting
// RST_STREAM; the machine does not wait for peer acknowledgement.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal() {
		return // idempotent: cancelling an already-terminal stream is a no-op
	}
	m.state = Reset
	m.finalStatus = status.New(status.Canceled, "call canceled")
}

// Abort transitions directly to Reset with an arbitrary final Status, used
// when the transport observes something other than a local cancel (a peer
// RST_STREAM, a dead connection, a fired deadline). Idempotent like Cancel.
func (m *Machine) Abort(s *status.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal() {
		return
	}
	m.state = Reset
	m.finalStatus = s
}
