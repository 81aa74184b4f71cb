package calls

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/coreflux/grpcrt/status"
)

// RetryPolicy is the per-method retry configuration, generalizing
// rpc.RetryPolicy (rpc/retry.go) from its JSON service-config shape to a
// directly constructible Go value, and from string status-code names to
// status.Code values.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the original.
	// Must be greater than 1.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier scales the delay on each subsequent retry.
	BackoffMultiplier float64
	// RetryableCodes lists the status codes that make a failed attempt
	// eligible for retry. Spec.md §4.3: a retry also requires that the
	// server had not yet sent initial metadata for the failed attempt.
	RetryableCodes []status.Code
}

// DefaultRetryPolicy mirrors rpc.DefaultRetryPolicy's choice of codes and
// backoff constants.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableCodes:    []status.Code{status.Unavailable, status.DeadlineExceeded},
	}
}

func (p *RetryPolicy) retryable(code status.Code) bool {
	for _, c := range p.RetryableCodes {
		if c == code {
			return true
		}
	}
	return false
}

// backoff computes the delay before the given retry attempt (1-indexed: the
// delay before the *first* retry, i.e. the second attempt overall),
// generalizing rpc.retryBackoff's exponential-with-jitter arithmetic
// (rpc/retry.go) to a time.Duration-typed policy.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}

	jitterRange := d * 0.2
	maxJitter := int64(2 * jitterRange)
	if maxJitter <= 0 {
		return time.Duration(d)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return time.Duration(d)
	}
	jitter := float64(n.Int64()) - jitterRange
	return time.Duration(d + jitter)
}

// AttemptResult is what one retry attempt reports back to Retry: whether
// the server committed to a response by sending initial metadata, which
// gates eligibility per spec.md §4.3.
type AttemptResult struct {
	SentInitialMetadata bool
	Status              *status.Status
}

// Retry drives attempt repeatedly per policy until it succeeds, exhausts
// MaxAttempts, the error is non-retryable, or the server had already sent
// initial metadata (at which point the whole RPC must not be re-issued,
// since the application may already be observing a partial response).
func Retry(ctx context.Context, policy *RetryPolicy, attempt func(context.Context) AttemptResult) *status.Status {
	if policy == nil {
		return attempt(ctx).Status
	}

	var last *status.Status
	for n := 1; n <= policy.MaxAttempts; n++ {
		select {
		case <-ctx.Done():
			return status.New(status.Canceled, "call canceled")
		default:
		}

		result := attempt(ctx)
		if result.Status == nil || result.Status.Code() == status.OK {
			return result.Status
		}
		last = result.Status

		if result.SentInitialMetadata {
			return last // spec.md §4.3: committed responses are never retried
		}
		if !policy.retryable(last.Code()) {
			return last
		}
		if n >= policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return status.New(status.Canceled, "call canceled")
		case <-time.After(policy.backoff(n)):
		}
	}
	return last
}
