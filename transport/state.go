// Package transport implements the Transport Manager (spec.md §4.4): HTTP/2
// session ownership for both client and server roles, stream-ID routing,
// flow-control credit accounting, keepalive, reconnect backoff, and
// graceful shutdown. It is built on golang.org/x/net/http2 and h2c, the
// same pairing the teacher's gateway package uses for its own HTTP/2
// server wrapper.
package transport

import (
	"fmt"
	"sync"
)

// ConnectivityState is the client connection's lifecycle state, exactly
// the machine spec.md §4.4 draws:
//
//	idle → connecting → ready
//	  ↑         ↓          ↓
//	  └── transientFailure ←┘
//	                     ↓
//	                  shutdown (terminal)
type ConnectivityState int

const (
	Idle ConnectivityState = iota
	Connecting
	Ready
	TransientFailure
	Shutdown
)

func (s ConnectivityState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case TransientFailure:
		return "transient_failure"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// legalTransitions enumerates spec.md §4.4's edges. idle -> connecting is
// implicit (the first RPC or an explicit WaitForReady call triggers
// dialing).
var legalTransitions = map[ConnectivityState]map[ConnectivityState]bool{
	Idle:             {Connecting: true, Shutdown: true},
	Connecting:       {Ready: true, TransientFailure: true, Shutdown: true},
	Ready:            {Idle: true, TransientFailure: true, Shutdown: true},
	TransientFailure: {Connecting: true, Shutdown: true},
	Shutdown:         {},
}

// StateMachine is a mutex-guarded ConnectivityState with waiters that block
// until a target state (or Shutdown) is reached, the mechanism
// waitForReady (spec.md §5d) is built on.
type StateMachine struct {
	mu      sync.Mutex
	state   ConnectivityState
	waiters []chan struct{}
}

// NewStateMachine creates a machine starting in Idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: Idle}
}

// Current returns the current state.
func (m *StateMachine) Current() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next if the edge is legal, waking any waiters.
// Transitioning into Shutdown is always legal from any state, matching
// "any state -> shutdown on explicit shutdown request".
func (m *StateMachine) Transition(next ConnectivityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Shutdown {
		return nil // terminal; further transitions are no-ops
	}
	if next != Shutdown && !legalTransitions[m.state][next] {
		return fmt.Errorf("transport: illegal connectivity transition %s -> %s", m.state, next)
	}

	m.state = next
	for _, w := range m.waiters {
		close(w)
	}
	m.waiters = nil
	return nil
}

// WaitFor blocks until the state becomes target or Shutdown, or until done
// is closed (typically a context's Done channel). It returns the state
// observed when it stopped waiting.
func (m *StateMachine) WaitFor(target ConnectivityState, done <-chan struct{}) ConnectivityState {
	for {
		m.mu.Lock()
		if m.state == target || m.state == Shutdown {
			s := m.state
			m.mu.Unlock()
			return s
		}
		w := make(chan struct{})
		m.waiters = append(m.waiters, w)
		m.mu.Unlock()

		select {
		case <-w:
		case <-done:
			return m.Current()
		}
	}
}
