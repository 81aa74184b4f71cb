package grpctest

import (
	"errors"

	"github.com/coreflux/grpcrt/frame"
	"github.com/coreflux/grpcrt/status"
)

// internalStatus wraps a local plumbing error (a bad frame, a codec
// failure) the way a real transport would surface it to the stream
// machine: as an aborted stream with code internal.
func internalStatus(err error) *status.Status {
	return status.New(status.Internal, err.Error())
}

// frameErrorStatus classifies a framing error the way a real transport
// would: an oversize message maps to resourceExhausted (spec.md §4.1),
// anything else is an internal plumbing failure.
func frameErrorStatus(err error) *status.Status {
	if errors.Is(err, frame.ErrMessageTooLarge) {
		return status.New(status.ResourceExhausted, err.Error())
	}
	return internalStatus(err)
}
