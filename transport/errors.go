package transport

import "errors"

// errTooManyPings is returned by pingEnforcer when a client has exceeded
// its keepalive ping strike allowance (spec.md §4.4 server enforcement).
var errTooManyPings = errors.New("transport: too many pings")

// ErrConnectionShutdown is returned to any RPC attempted after graceful
// shutdown has begun (spec.md §4.4: "stop accepting new RPCs; fail with
// unavailable").
var ErrConnectionShutdown = errors.New("transport: connection is shutting down")

// ErrMaxIdleClosed describes a connection closed after exceeding
// idle.maxTime with no open stream (spec.md §4.4). Nothing in this package
// returns it: CheckMaxIdle moves the transport to Idle and the next RPC
// redials.
var ErrMaxIdleClosed = errors.New("transport: connection closed after max idle time")
