package client

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Common error types
var (
	ErrNoServer  = errors.New("no server connection")
	ErrNotExist  = errors.New("file does not exist")
	ErrExist     = errors.New("file exists")
	ErrBusy      = errors.New("file in use")
	ErrNoSpace   = errors.New("no space left on device")
	ErrCorrupted = errors.New("file data corrupted")
	ErrInvalid   = errors.New("invalid argument")
	ErrTimeout   = errors.New("operation timed out")
)

// Error represents a failed VLFS call
type Error struct {
	// Operation that failed
	Op string

	// gRPC status code
	Code codes.Code

	// Error message from the server
	Message string

	// Underlying error
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s (%s) - %v", e.Op, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s (%s)", e.Op, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// statusToError converts a gRPC error into an *Error. Errors without a
// status are returned unchanged.
func statusToError(op string, err error) error {
	if err == nil {
		return nil
	}
	s, ok := status.FromError(err)
	if !ok {
		return err
	}

	var cause error
	switch s.Code() {
	case codes.NotFound:
		cause = ErrNotExist
	case codes.AlreadyExists:
		cause = ErrExist
	case codes.FailedPrecondition:
		cause = ErrBusy
	case codes.ResourceExhausted:
		cause = ErrNoSpace
	case codes.DataLoss:
		cause = ErrCorrupted
	case codes.InvalidArgument:
		cause = ErrInvalid
	case codes.Unavailable:
		cause = ErrNoServer
	case codes.DeadlineExceeded:
		cause = ErrTimeout
	}
	return &Error{
		Op:      op,
		Code:    s.Code(),
		Message: s.Message(),
		Err:     cause,
	}
}
