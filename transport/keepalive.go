package transport

import (
	"sync"
	"time"
)

// KeepaliveParameters configures client-side keepalive PING behavior,
// generalizing gateway.KeepaliveParameters (gateway/keepalive.go) unchanged
// in shape — it is the same configuration the teacher exposes, just owned
// by this package instead of the HTTP-handler-wrapping gateway.
type KeepaliveParameters struct {
	// Time is the interval between keepalive pings.
	Time time.Duration
	// Timeout for keepalive ping acknowledgement before the connection is
	// closed with unavailable.
	Timeout time.Duration
	// PermitWithoutStream allows pings even with no active streams.
	PermitWithoutStream bool
}

// DefaultKeepaliveParams matches the teacher's defaults: 2h ping interval,
// 20s ack timeout.
func DefaultKeepaliveParams() KeepaliveParameters {
	return KeepaliveParameters{
		Time:                2 * time.Hour,
		Timeout:             20 * time.Second,
		PermitWithoutStream: false,
	}
}

// KeepaliveEnforcementPolicy configures server-side tolerance for client
// pings, generalizing gateway.KeepaliveEnforcementPolicy.
type KeepaliveEnforcementPolicy struct {
	// MinTime is the minimum interval between client pings without data.
	MinTime time.Duration
	// PermitWithoutStream allows client pings with no active streams.
	PermitWithoutStream bool
	// MaxPingStrikes is the number of too-frequent pings tolerated before
	// ObservePing reports errTooManyPings. Zero means unlimited.
	MaxPingStrikes int
}

// DefaultKeepaliveEnforcementPolicy matches the teacher's defaults.
func DefaultKeepaliveEnforcementPolicy() KeepaliveEnforcementPolicy {
	return KeepaliveEnforcementPolicy{
		MinTime:             5 * time.Minute,
		PermitWithoutStream: false,
		MaxPingStrikes:      2,
	}
}

// pingEnforcer tracks ping timing/strikes for the server side of a
// connection, the same bookkeeping gateway.HTTP2Transport.enforceKeepalive
// does inline; split out here so it can be unit tested without an HTTP/2
// server attached.
type pingEnforcer struct {
	mu           sync.Mutex
	policy       KeepaliveEnforcementPolicy
	lastPingTime time.Time
	strikes      int
}

func newPingEnforcer(policy KeepaliveEnforcementPolicy) *pingEnforcer {
	return &pingEnforcer{policy: policy, lastPingTime: time.Now()}
}

// observePing records an inbound PING and reports whether it violates the
// enforcement policy (too frequent, with no active streams, beyond the
// strike allowance).
func (e *pingEnforcer) observePing(now time.Time, hasActiveStreams bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !hasActiveStreams && !e.policy.PermitWithoutStream {
		since := now.Sub(e.lastPingTime)
		if since < e.policy.MinTime {
			e.strikes++
			if e.policy.MaxPingStrikes > 0 && e.strikes > e.policy.MaxPingStrikes {
				e.lastPingTime = now
				return errTooManyPings
			}
		} else {
			e.strikes = 0
		}
	}
	e.lastPingTime = now
	return nil
}

// ackTracker watches for a PING-ACK within the keepalive timeout, the
// client-side half of keepalive (spec.md §4.4: "if no PING-ACK within
// keepalive.timeout, close the connection with unavailable").
type ackTracker struct {
	mu      sync.Mutex
	pending bool
	timer   *time.Timer
}

func newAckTracker() *ackTracker {
	return &ackTracker{}
}

// sentPing arms the timeout; onTimeout is invoked if no matching ack
// arrives before timeout elapses.
func (a *ackTracker) sentPing(timeout time.Duration, onTimeout func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = true
	a.timer = time.AfterFunc(timeout, func() {
		a.mu.Lock()
		stillPending := a.pending
		a.mu.Unlock()
		if stillPending {
			onTimeout()
		}
	})
}

// receivedAck cancels the pending timeout.
func (a *ackTracker) receivedAck() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = false
	if a.timer != nil {
		a.timer.Stop()
	}
}
