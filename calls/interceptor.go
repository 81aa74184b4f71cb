package calls

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Handler is the terminal function an interceptor chain wraps: given a
// context and a request, produce a response or an error.
type Handler func(ctx context.Context, req any) (any, error)

// Interceptor wraps a Handler with cross-cutting behavior (logging,
// timeouts, panic recovery, metrics), the same shape as rpc.Interceptor in
// rpc/interceptors.go generalized to this package's Handler type.
type Interceptor interface {
	Intercept(ctx context.Context, method string, req any, next Handler) (any, error)
}

// LoggingInterceptor logs each call's method, duration, and outcome,
// matching rpc.LoggingInterceptor (rpc/interceptors.go): a nil Logger means
// logging is silently skipped rather than panicking.
type LoggingInterceptor struct {
	Logger *log.Logger
}

func (l *LoggingInterceptor) Intercept(ctx context.Context, method string, req any, next Handler) (any, error) {
	start := time.Now()
	if l.Logger != nil {
		l.Logger.Printf("rpc start: %s", method)
	}
	resp, err := next(ctx, req)
	if l.Logger != nil {
		l.Logger.Printf("rpc done: %s (duration=%v err=%v)", method, time.Since(start), err)
	}
	return resp, err
}

// RecoveryInterceptor converts a panic inside the handler into a returned
// plain error (which status.FromError reports as Unknown) rather than
// crashing the owning event loop (spec.md §5: a single
// cooperative loop per connection must survive one misbehaving handler).
type RecoveryInterceptor struct{}

func (RecoveryInterceptor) Intercept(ctx context.Context, method string, req any, next Handler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("calls: panic in handler for %s: %v", method, r)
		}
	}()
	return next(ctx, req)
}

// ChainInterceptors composes interceptors into a single Interceptor,
// applied in the order given (the first interceptor is outermost), exactly
// as rpc.ChainInterceptors (rpc/interceptors.go) composes rpc.Interceptor.
func ChainInterceptors(interceptors ...Interceptor) Interceptor {
	return chainedInterceptor{interceptors: interceptors}
}

type chainedInterceptor struct {
	interceptors []Interceptor
}

func (c chainedInterceptor) Intercept(ctx context.Context, method string, req any, next Handler) (any, error) {
	final := next
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		downstream := final
		final = func(ctx context.Context, req any) (any, error) {
			return interceptor.Intercept(ctx, method, req, downstream)
		}
	}
	return final(ctx, req)
}
