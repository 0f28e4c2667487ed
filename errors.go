package pbjx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/trickstertwo/pbjx/pbj"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrPbjxClosed                  = errors.New("pbjx: runtime is closed")
	ErrNoTransportConfigured       = errors.New("pbjx: no transport configured")
	ErrInvalidPhase                = errors.New("pbjx: lifecycle phase suffix must not be empty")
	ErrResponseAlreadySet          = errors.New("pbjx: response has already been set")
	ErrObserverPoolShutdownTimeout = errors.New("pbjx: observer pool shutdown timeout")
	ErrDefaultNotInitialized       = errors.New("pbjx: default runtime not initialized")
	ErrUnsupportedSerializer       = errors.New("pbjx: serializer not supported")
	ErrNilResponse                 = errors.New("pbjx: request handler returned a nil response")
	ErrWrongMessageKind            = errors.New("pbjx: wrong message kind")
	ErrEventMessageMismatch        = errors.New("pbjx: lifecycle event wraps a different message")
)

// ErrUnknownTransport is returned by NewTransport for an unregistered name.
type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("pbjx: unknown transport: %s", e.name) }

// ErrUnknownSerializer is returned by NewSerializer for an unregistered name.
type ErrUnknownSerializer struct{ name string }

func (e ErrUnknownSerializer) Error() string { return fmt.Sprintf("pbjx: unknown serializer: %s", e.name) }

// LogicError reports misuse of the API, such as setting a request's
// response twice. It is raised with panic.
type LogicError struct {
	Err error
}

func (e *LogicError) Error() string    { return "pbjx: logic error: " + e.Err.Error() }
func (e *LogicError) Unwrap() error    { return e.Err }
func (e *LogicError) Code() codes.Code { return codes.Internal }

// TooMuchRecursionError aborts a trigger whose nested message graph is deeper
// than the configured bound. No listener runs for the offending message.
type TooMuchRecursionError struct {
	Curie string
	Depth int
	Max   int
}

func (e *TooMuchRecursionError) Error() string {
	return fmt.Sprintf("pbjx: too much recursion triggering %s (depth %d, max %d)", e.Curie, e.Depth, e.Max)
}

func (e *TooMuchRecursionError) Code() codes.Code { return codes.Internal }

// HandlerNotFoundError is returned when no handler is registered for a curie.
type HandlerNotFoundError struct {
	Curie string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("pbjx: no handler registered for %s", e.Curie)
}

func (e *HandlerNotFoundError) Code() codes.Code { return codes.Unimplemented }

// InvalidHandlerError is returned when the handler registered for a curie
// does not implement the interface the bus needs.
type InvalidHandlerError struct {
	Curie string
	Want  string
	Got   string
}

func (e *InvalidHandlerError) Error() string {
	return fmt.Sprintf("pbjx: handler for %s is %s, expected %s", e.Curie, e.Got, e.Want)
}

func (e *InvalidHandlerError) Code() codes.Code { return codes.Internal }

// RequestHandlingFailed is returned by Pbjx.Request when the request bus
// produced a failure response. Response holds the request-failed-response.
type RequestHandlingFailed struct {
	Response *pbj.Message
}

func (e *RequestHandlingFailed) Error() string {
	if e.Response == nil {
		return "pbjx: request handling failed"
	}
	return e.Response.GetString(FieldErrorMessage)
}

// Code returns the error code carried by the failure response.
func (e *RequestHandlingFailed) Code() codes.Code {
	if e.Response == nil {
		return codes.Unknown
	}
	return codes.Code(e.Response.GetInt(FieldErrorCode))
}

// CodedError lets handler errors choose the code recorded on failure messages.
type CodedError interface {
	error
	Code() codes.Code
}

// ErrorCode extracts a code from err. Errors without one map to codes.Unknown.
func ErrorCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var ce CodedError
	if errors.As(err, &ce) {
		if c := ce.Code(); c > codes.OK {
			return c
		}
	}
	if s, ok := status.FromError(err); ok && s.Code() > codes.OK {
		return s.Code()
	}
	return codes.Unknown
}

const maxErrorMessageLen = 2048

// errorName returns the short type name of err, without package or pointer.
// fmt wrappers are looked through so the wrapped error names the failure.
func errorName(err error) string {
	t := baseType(err)
	for t.PkgPath() == "fmt" {
		inner := errors.Unwrap(err)
		if inner == nil {
			break
		}
		err, t = inner, baseType(inner)
	}
	if n := t.Name(); n != "" {
		return n
	}
	return t.String()
}

func baseType(err error) reflect.Type {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// truncateMessage cuts s to at most maxErrorMessageLen bytes on a rune boundary.
func truncateMessage(s string) string {
	if len(s) <= maxErrorMessageLen {
		return s
	}
	n := maxErrorMessageLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// stackTracer is satisfied by errors carrying their own trace, including
// the ones produced by RecoveryMiddleware.
type stackTracer interface {
	StackTrace() string
}

func stackTrace(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return ""
}

// prevErrorMessage returns the message of the error wrapped by err, if any.
func prevErrorMessage(err error) string {
	prev := errors.Unwrap(err)
	if prev == nil {
		return ""
	}
	return truncateMessage(strings.TrimSpace(prev.Error()))
}
