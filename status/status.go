// Package status defines the terminal outcome of an RPC: a status code
// drawn from the fixed gRPC enumeration plus an optional human message.
package status

import (
	"fmt"
	"net/http"
)

// Code is one of the fixed gRPC outcome codes.
type Code uint32

// The 17 gRPC status codes.
const (
	OK Code = iota
	Canceled
	Unknown
	InvalidArgument
	DeadlineExceeded
	NotFound
	AlreadyExists
	PermissionDenied
	ResourceExhausted
	FailedPrecondition
	Aborted
	OutOfRange
	Unimplemented
	Internal
	Unavailable
	DataLoss
	Unauthenticated
)

var codeNames = map[Code]string{
	OK:                 "ok",
	Canceled:           "canceled",
	Unknown:            "unknown",
	InvalidArgument:    "invalid_argument",
	DeadlineExceeded:   "deadline_exceeded",
	NotFound:           "not_found",
	AlreadyExists:      "already_exists",
	PermissionDenied:   "permission_denied",
	ResourceExhausted:  "resource_exhausted",
	FailedPrecondition: "failed_precondition",
	Aborted:            "aborted",
	OutOfRange:         "out_of_range",
	Unimplemented:      "unimplemented",
	Internal:           "internal",
	Unavailable:        "unavailable",
	DataLoss:           "data_loss",
	Unauthenticated:    "unauthenticated",
}

// String returns the lower_snake_case name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Status is the terminal outcome of an RPC: exactly one is produced per call.
type Status struct {
	code    Code
	message string
}

// New builds a Status from a code and message.
func New(code Code, message string) *Status {
	return &Status{code: code, message: message}
}

// Newf builds a Status with a formatted message.
func Newf(code Code, format string, args ...any) *Status {
	return New(code, fmt.Sprintf(format, args...))
}

// Code returns the status code.
func (s *Status) Code() Code {
	if s == nil {
		return OK
	}
	return s.code
}

// Message returns the human-readable message, if any.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.message
}

// Err returns nil for an OK status, or an error wrapping the Status otherwise.
func (s *Status) Err() error {
	if s == nil || s.code == OK {
		return nil
	}
	return &statusError{s}
}

// Error implements the error interface directly on Status for convenience.
func (s *Status) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.Code(), s.Message())
}

// statusError adapts a *Status to the error interface without colliding with
// Status's own Error() method signature expectations elsewhere in the package.
type statusError struct {
	s *Status
}

func (e *statusError) Error() string { return e.s.Error() }

// Unwrap exposes the wrapped *Status to errors.Is and errors.As.
func (e *statusError) Unwrap() error { return e.s }

// FromError extracts a *Status from an error produced by Err, or returns
// (Unknown status, false) if err does not carry one.
func FromError(err error) (*Status, bool) {
	if err == nil {
		return New(OK, ""), true
	}
	if se, ok := err.(*statusError); ok {
		return se.s, true
	}
	if s, ok := err.(*Status); ok {
		return s, true
	}
	return New(Unknown, err.Error()), false
}

// Is reports whether err carries the given code, for use with errors.Is.
func (s *Status) Is(target error) bool {
	other, ok := FromError(target)
	if !ok {
		return false
	}
	return s.Code() == other.Code()
}

// FromHTTP maps a non-200 HTTP response status to a gRPC Status, per the
// table in spec.md §7. Only used when the server never reached the point of
// writing a grpc-status trailer (e.g. a proxy or the transport rejected the
// request before it became a gRPC response).
func FromHTTP(httpStatus int) *Status {
	switch httpStatus {
	case http.StatusBadRequest, http.StatusRequestHeaderFieldsTooLarge:
		return New(Internal, fmt.Sprintf("unexpected HTTP status %d", httpStatus))
	case http.StatusUnauthorized:
		return New(Unauthenticated, "unauthenticated")
	case http.StatusForbidden:
		return New(PermissionDenied, "permission denied")
	case http.StatusNotFound:
		return New(Unimplemented, "unimplemented")
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return New(Unavailable, "unavailable")
	default:
		return New(Unknown, fmt.Sprintf("unexpected HTTP status %d", httpStatus))
	}
}

// RSTCode is the HTTP/2 RST_STREAM error code observed on a reset stream.
type RSTCode uint32

// The subset of HTTP/2 error codes the core distinguishes; see RFC 7540 §7.
const (
	RSTCancel RSTCode = 0x8
)

// FromRST maps an observed RST_STREAM code to a gRPC Status per spec.md §7:
// CANCEL maps to Canceled, anything else is treated as a protocol violation.
func FromRST(code RSTCode) *Status {
	if code == RSTCancel {
		return New(Canceled, "stream reset by peer: CANCEL")
	}
	return New(Internal, fmt.Sprintf("stream reset by peer: code %d", code))
}

// FromGOAWAYUnstarted is the status a stream receives if a GOAWAY arrives
// before that stream was ever dispatched to the peer.
func FromGOAWAYUnstarted() *Status {
	return New(Unavailable, "connection going away before stream started")
}
