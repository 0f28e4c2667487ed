package pbjx

import "github.com/trickstertwo/pbjx/pbj"

// Mixins tagging the four message kinds the buses route.
const (
	MixinCommand  = "gdbots:pbjx:mixin:command"
	MixinEvent    = "gdbots:pbjx:mixin:event"
	MixinRequest  = "gdbots:pbjx:mixin:request"
	MixinResponse = "gdbots:pbjx:mixin:response"
	// MixinIndexed marks events that should be picked up by search indexing.
	MixinIndexed = "gdbots:pbjx:mixin:indexed"
)

// Well-known field names.
const (
	FieldCommandID        = "command_id"
	FieldEventID          = "event_id"
	FieldRequestID        = "request_id"
	FieldResponseID       = "response_id"
	FieldOccurredAt       = "occurred_at"
	FieldCreatedAt        = "created_at"
	FieldCtxCausatorRef   = "ctx_causator_ref"
	FieldCtxCorrelatorRef = "ctx_correlator_ref"
	FieldCtxTenantID      = "ctx_tenant_id"
	FieldCtxUserRef       = "ctx_user_ref"
	FieldCtxApp           = "ctx_app"
	FieldCtxCloud         = "ctx_cloud"
	FieldCtxIP            = "ctx_ip"
	FieldCtxIPv6          = "ctx_ipv6"
	FieldCtxUA            = "ctx_ua"
	FieldCtxRequestRef    = "ctx_request_ref"
	FieldCtxRequest       = "ctx_request"
	FieldErrorCode        = "error_code"
	FieldErrorName        = "error_name"
	FieldErrorMessage     = "error_message"
	FieldStackTrace       = "stack_trace"
	FieldPrevErrorMessage = "prev_error_message"
	FieldEvent            = "event"
)

func contextFields() []*pbj.Field {
	return []*pbj.Field{
		pbj.NewField(FieldCtxTenantID, pbj.TypeString),
		pbj.NewField(FieldCtxCorrelatorRef, pbj.TypeMessageRef),
		pbj.NewField(FieldCtxUserRef, pbj.TypeMessageRef),
		pbj.NewField(FieldCtxApp, pbj.TypeObject),
		pbj.NewField(FieldCtxCloud, pbj.TypeObject),
		pbj.NewField(FieldCtxIP, pbj.TypeString),
		pbj.NewField(FieldCtxIPv6, pbj.TypeString),
		pbj.NewField(FieldCtxUA, pbj.TypeString),
	}
}

// CommandFields returns the fields every command schema carries.
func CommandFields() []*pbj.Field {
	return append([]*pbj.Field{
		pbj.NewField(FieldCommandID, pbj.TypeIdentifier),
		pbj.NewField(FieldOccurredAt, pbj.TypeMicrotime),
		pbj.NewField(FieldCtxCausatorRef, pbj.TypeMessageRef),
	}, contextFields()...)
}

// EventFields returns the fields every event schema carries.
func EventFields() []*pbj.Field {
	return append([]*pbj.Field{
		pbj.NewField(FieldEventID, pbj.TypeIdentifier),
		pbj.NewField(FieldOccurredAt, pbj.TypeMicrotime),
		pbj.NewField(FieldCtxCausatorRef, pbj.TypeMessageRef),
	}, contextFields()...)
}

// RequestFields returns the fields every request schema carries.
func RequestFields() []*pbj.Field {
	return append([]*pbj.Field{
		pbj.NewField(FieldRequestID, pbj.TypeIdentifier),
		pbj.NewField(FieldOccurredAt, pbj.TypeMicrotime),
		pbj.NewField(FieldCtxCausatorRef, pbj.TypeMessageRef),
	}, contextFields()...)
}

// ResponseFields returns the fields every response schema carries.
func ResponseFields() []*pbj.Field {
	return []*pbj.Field{
		pbj.NewField(FieldResponseID, pbj.TypeIdentifier),
		pbj.NewField(FieldCreatedAt, pbj.TypeMicrotime),
		pbj.NewField(FieldCtxTenantID, pbj.TypeString),
		pbj.NewField(FieldCtxCorrelatorRef, pbj.TypeMessageRef),
		pbj.NewField(FieldCtxRequestRef, pbj.TypeMessageRef),
		pbj.NewField(FieldCtxRequest, pbj.TypeMessage),
	}
}

func newKindSchema(id, mixin string, base []*pbj.Field, fields []*pbj.Field, mixins []string) *pbj.Schema {
	s := pbj.NewSchema(id, append(base, fields...), append([]string{mixin}, mixins...)...)
	pbj.Register(s)
	return s
}

// NewCommandSchema declares and registers a command schema.
func NewCommandSchema(id string, fields []*pbj.Field, mixins ...string) *pbj.Schema {
	return newKindSchema(id, MixinCommand, CommandFields(), fields, mixins)
}

// NewEventSchema declares and registers an event schema.
func NewEventSchema(id string, fields []*pbj.Field, mixins ...string) *pbj.Schema {
	return newKindSchema(id, MixinEvent, EventFields(), fields, mixins)
}

// NewRequestSchema declares and registers a request schema.
func NewRequestSchema(id string, fields []*pbj.Field, mixins ...string) *pbj.Schema {
	return newKindSchema(id, MixinRequest, RequestFields(), fields, mixins)
}

// NewResponseSchema declares and registers a response schema.
func NewResponseSchema(id string, fields []*pbj.Field, mixins ...string) *pbj.Schema {
	return newKindSchema(id, MixinResponse, ResponseFields(), fields, mixins)
}

func errorFields() []*pbj.Field {
	return []*pbj.Field{
		pbj.NewField(FieldErrorCode, pbj.TypeInt),
		pbj.NewField(FieldErrorName, pbj.TypeString),
		pbj.NewField(FieldErrorMessage, pbj.TypeString),
		pbj.NewField(FieldStackTrace, pbj.TypeString),
		pbj.NewField(FieldPrevErrorMessage, pbj.TypeString),
	}
}

var (
	// EventExecutionFailedSchema records a subscriber failure for an event.
	EventExecutionFailedSchema = NewEventSchema(
		"pbj:gdbots:pbjx:event:event-execution-failed:1-0-0",
		append([]*pbj.Field{pbj.NewField(FieldEvent, pbj.TypeMessage)}, errorFields()...),
	)

	// RequestFailedResponseSchema is returned by the request bus in place of
	// a handler response when handling fails.
	RequestFailedResponseSchema = NewResponseSchema(
		"pbj:gdbots:pbjx:request:request-failed-response:1-0-0",
		errorFields(),
	)
)

// IsCommand, IsEvent, IsRequest and IsResponse test the kind mixins.
func IsCommand(m *pbj.Message) bool  { return m.Schema().HasMixin(MixinCommand) }
func IsEvent(m *pbj.Message) bool    { return m.Schema().HasMixin(MixinEvent) }
func IsRequest(m *pbj.Message) bool  { return m.Schema().HasMixin(MixinRequest) }
func IsResponse(m *pbj.Message) bool { return m.Schema().HasMixin(MixinResponse) }
