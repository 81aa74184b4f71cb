package transport

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffConfig is the client reconnect backoff policy (spec.md §4.4):
// "wait min(max, initial × multiplier^n) ± jitter before retrying, where n
// is the consecutive-failure count". The arithmetic generalizes
// rpc.retryBackoff's exponential-with-jitter computation (rpc/retry.go)
// from a per-RPC retry delay to a per-connection reconnect delay.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig mirrors common gRPC client defaults: 1s initial,
// 120s max, 1.6x multiplier, 20% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        120 * time.Second,
		Multiplier: 1.6,
		Jitter:     0.2,
	}
}

// Backoff tracks the consecutive-failure count n and computes the next
// delay. A successful ready state resets n to zero (spec.md §4.4).
type Backoff struct {
	cfg BackoffConfig
	n   int
}

// NewBackoff creates a Backoff with n=0.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg}
}

// Reset zeroes the consecutive-failure count after a successful connection.
func (b *Backoff) Reset() {
	b.n = 0
}

// Next advances the failure count and returns the delay to wait before the
// next reconnect attempt.
func (b *Backoff) Next() time.Duration {
	b.n++
	return b.peek(b.n)
}

func (b *Backoff) peek(n int) time.Duration {
	initial := b.cfg.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := b.cfg.Max
	if maxDelay <= 0 {
		maxDelay = 120 * time.Second
	}
	multiplier := b.cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 1.6
	}

	d := float64(initial) * math.Pow(multiplier, float64(n-1))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}

	jitter := b.cfg.Jitter
	if jitter <= 0 {
		return time.Duration(d)
	}
	jitterRange := d * jitter
	maxJitter := int64(2 * jitterRange)
	if maxJitter <= 0 {
		return time.Duration(d)
	}
	r, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return time.Duration(d)
	}
	return time.Duration(d + float64(r.Int64()) - jitterRange)
}
