package eventstore

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Error is a storage failure classified by a grpc code. Backends map their
// own failures onto NotFound, ResourceExhausted, Unavailable, DataLoss,
// FailedPrecondition and Internal.
type Error struct {
	code codes.Code
	Msg  string
	Err  error
}

var (
	ErrEventNotFound         = &Error{code: codes.NotFound, Msg: "event not found"}
	ErrOptimisticCheckFailed = &Error{code: codes.FailedPrecondition, Msg: "optimistic check failed"}
	ErrThrottled             = &Error{code: codes.ResourceExhausted, Msg: "throttled"}
	ErrUnavailable           = &Error{code: codes.Unavailable, Msg: "unavailable"}
	ErrWriteFailed           = &Error{code: codes.DataLoss, Msg: "write failed"}
)

// NewError returns an Error with the given code wrapping err.
func NewError(code codes.Code, msg string, err error) *Error {
	return &Error{code: code, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("eventstore: %s: %v", e.Msg, e.Err)
	}
	return "eventstore: " + e.Msg
}

func (e *Error) Unwrap() error    { return e.Err }
func (e *Error) Code() codes.Code { return e.code }

// Is matches any *Error with the same code, so errors.Is(err,
// ErrOptimisticCheckFailed) holds for every FailedPrecondition failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

// CodeOf returns the code of the first *Error in err's chain, codes.OK for
// nil and codes.Unknown otherwise.
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	return codes.Unknown
}

// IsRetryable reports whether err is transient: throttling or
// unavailability.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case codes.ResourceExhausted, codes.Unavailable:
		return true
	}
	return false
}

// CheckEtag compares expected against the event_id of a stream's most
// recent event, which is empty for an empty stream. An empty expected etag
// always passes.
func CheckEtag(id StreamID, headEventID, expected string) error {
	if expected == "" {
		return nil
	}
	if headEventID == "" {
		return NewError(codes.FailedPrecondition,
			fmt.Sprintf("expected etag %q but stream %s is empty", expected, id), nil)
	}
	if headEventID != expected {
		return NewError(codes.FailedPrecondition,
			fmt.Sprintf("expected etag %q but stream %s is at %q", expected, id, headEventID), nil)
	}
	return nil
}
