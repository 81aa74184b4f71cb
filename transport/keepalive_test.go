package transport

import (
	"errors"
	"testing"
	"time"
)

func TestPingEnforcerAllowsSpacedPings(t *testing.T) {
	e := newPingEnforcer(KeepaliveEnforcementPolicy{MinTime: 10 * time.Millisecond, MaxPingStrikes: 2})
	start := time.Now()

	if err := e.observePing(start, false); err != nil {
		t.Fatalf("first ping should always be allowed, got %v", err)
	}
	if err := e.observePing(start.Add(20*time.Millisecond), false); err != nil {
		t.Fatalf("spaced ping should be allowed, got %v", err)
	}
}

func TestPingEnforcerStrikesTooFrequentPings(t *testing.T) {
	e := newPingEnforcer(KeepaliveEnforcementPolicy{MinTime: 100 * time.Millisecond, MaxPingStrikes: 2})
	start := time.Now()

	_ = e.observePing(start, false)
	_ = e.observePing(start.Add(time.Millisecond), false)
	_ = e.observePing(start.Add(2*time.Millisecond), false)
	err := e.observePing(start.Add(3*time.Millisecond), false)

	if !errors.Is(err, errTooManyPings) {
		t.Fatalf("expected errTooManyPings after exceeding strikes, got %v", err)
	}
}

func TestPingEnforcerPermitsWithoutStreamWhenAllowed(t *testing.T) {
	e := newPingEnforcer(KeepaliveEnforcementPolicy{MinTime: time.Hour, PermitWithoutStream: true})
	start := time.Now()

	for i := 0; i < 5; i++ {
		if err := e.observePing(start.Add(time.Duration(i)*time.Millisecond), false); err != nil {
			t.Fatalf("ping %d should be permitted without a stream, got %v", i, err)
		}
	}
}

func TestAckTrackerCancelsOnAck(t *testing.T) {
	a := newAckTracker()
	fired := make(chan struct{}, 1)
	a.sentPing(20*time.Millisecond, func() { fired <- struct{}{} })
	a.receivedAck()

	select {
	case <-fired:
		t.Fatal("timeout should not fire after receivedAck")
	case <-time.After(40 * time.Millisecond):
	}
}

func TestAckTrackerFiresOnTimeout(t *testing.T) {
	a := newAckTracker()
	fired := make(chan struct{}, 1)
	a.sentPing(10*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout should have fired")
	}
}
