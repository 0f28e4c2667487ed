package pbjx

import (
	"fmt"

	"github.com/trickstertwo/pbjx/pbj"
)

// Lifecycle phase suffixes. Listeners register against "<key>.<suffix>".
const (
	PhaseBind         = "bind"
	PhaseValidate     = "validate"
	PhaseEnrich       = "enrich"
	PhaseBeforeHandle = "before_handle"
	PhaseAfterHandle  = "after_handle"
	PhaseCreated      = "created"
	PhaseUpdated      = "updated"
	PhaseDeleted      = "deleted"
)

// LifecycleEvent is what lifecycle listeners receive. It wraps the message
// being processed with the recursion bookkeeping of the trigger engine.
type LifecycleEvent interface {
	Message() *pbj.Message
	// Depth is 0 for the root message and grows by one per nested level.
	Depth() int
	// Parent is nil for the root.
	Parent() LifecycleEvent
	// SupportsRecursion reports whether the trigger engine may descend into
	// the message's children.
	SupportsRecursion() bool
}

// MessageEvent is the default LifecycleEvent.
type MessageEvent struct {
	msg    *pbj.Message
	depth  int
	parent LifecycleEvent
}

// NewMessageEvent returns a root event for msg.
func NewMessageEvent(msg *pbj.Message) *MessageEvent {
	return &MessageEvent{msg: msg}
}

func (e *MessageEvent) Message() *pbj.Message   { return e.msg }
func (e *MessageEvent) Depth() int              { return e.depth }
func (e *MessageEvent) Parent() LifecycleEvent  { return e.parent }
func (e *MessageEvent) SupportsRecursion() bool { return true }

func childEvent(child *pbj.Message, parent LifecycleEvent) *MessageEvent {
	return &MessageEvent{msg: child, depth: parent.Depth() + 1, parent: parent}
}

// GetResponseEvent is the before_handle event of Pbjx.Request. A listener
// that sets a response short-circuits the request handler.
type GetResponseEvent struct {
	MessageEvent
	response *pbj.Message
}

func NewGetResponseEvent(request *pbj.Message) *GetResponseEvent {
	return &GetResponseEvent{MessageEvent: MessageEvent{msg: request}}
}

// Request is the request being handled.
func (e *GetResponseEvent) Request() *pbj.Message { return e.msg }

// SetResponse attaches the response. A second call panics with a
// *LogicError wrapping ErrResponseAlreadySet.
func (e *GetResponseEvent) SetResponse(resp *pbj.Message) {
	if e.response != nil {
		panic(&LogicError{Err: fmt.Errorf("%w: %s", ErrResponseAlreadySet, e.msg.Schema().Curie())})
	}
	e.response = resp
}

func (e *GetResponseEvent) Response() *pbj.Message  { return e.response }
func (e *GetResponseEvent) HasResponse() bool       { return e.response != nil }
func (e *GetResponseEvent) SupportsRecursion() bool { return false }

// ResponseCreatedEvent is triggered with the "created" phase on the response
// a request produced.
type ResponseCreatedEvent struct {
	MessageEvent
	request *pbj.Message
}

func NewResponseCreatedEvent(request, response *pbj.Message) *ResponseCreatedEvent {
	return &ResponseCreatedEvent{MessageEvent: MessageEvent{msg: response}, request: request}
}

func (e *ResponseCreatedEvent) Request() *pbj.Message   { return e.request }
func (e *ResponseCreatedEvent) Response() *pbj.Message  { return e.msg }
func (e *ResponseCreatedEvent) SupportsRecursion() bool { return false }

// BusExceptionEvent carries a failure caught by one of the buses.
type BusExceptionEvent struct {
	msg *pbj.Message
	err error
}

func NewBusExceptionEvent(msg *pbj.Message, err error) *BusExceptionEvent {
	return &BusExceptionEvent{msg: msg, err: err}
}

func (e *BusExceptionEvent) Message() *pbj.Message   { return e.msg }
func (e *BusExceptionEvent) Err() error              { return e.err }
func (e *BusExceptionEvent) Depth() int              { return 0 }
func (e *BusExceptionEvent) Parent() LifecycleEvent  { return nil }
func (e *BusExceptionEvent) SupportsRecursion() bool { return false }

// TransportExceptionEvent carries a failure returned by a transport.
type TransportExceptionEvent struct {
	BusExceptionEvent
	transport string
}

func NewTransportExceptionEvent(transport string, msg *pbj.Message, err error) *TransportExceptionEvent {
	return &TransportExceptionEvent{BusExceptionEvent: BusExceptionEvent{msg: msg, err: err}, transport: transport}
}

// Transport is the name of the transport that failed.
func (e *TransportExceptionEvent) Transport() string { return e.transport }

var (
	_ LifecycleEvent = (*MessageEvent)(nil)
	_ LifecycleEvent = (*GetResponseEvent)(nil)
	_ LifecycleEvent = (*ResponseCreatedEvent)(nil)
	_ LifecycleEvent = (*BusExceptionEvent)(nil)
	_ LifecycleEvent = (*TransportExceptionEvent)(nil)
)
