package pbjx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trickstertwo/pbjx/pbj"
)

// CommandHandler handles one or more command types.
type CommandHandler interface {
	HandleCommand(ctx context.Context, p *Pbjx, command *pbj.Message) error
}

// RequestHandler answers one or more request types.
type RequestHandler interface {
	HandleRequest(ctx context.Context, p *Pbjx, request *pbj.Message) (*pbj.Message, error)
}

// CommandHandlerFunc is an Adapter that lets a plain function satisfy CommandHandler.
type CommandHandlerFunc func(ctx context.Context, p *Pbjx, command *pbj.Message) error

func (f CommandHandlerFunc) HandleCommand(ctx context.Context, p *Pbjx, command *pbj.Message) error {
	return f(ctx, p, command)
}

// RequestHandlerFunc is an Adapter that lets a plain function satisfy RequestHandler.
type RequestHandlerFunc func(ctx context.Context, p *Pbjx, request *pbj.Message) (*pbj.Message, error)

func (f RequestHandlerFunc) HandleRequest(ctx context.Context, p *Pbjx, request *pbj.Message) (*pbj.Message, error) {
	return f(ctx, p, request)
}

// Discoverable handlers list the curies they handle so they can be
// registered in one call.
type Discoverable interface {
	HandlesCuries() []string
}

// HandlerRegistry maps curies to handlers. It is populated at startup and
// read by the command and request buses.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]any
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]any)}
}

func (r *HandlerRegistry) RegisterCommandHandler(curie string, h CommandHandler) error {
	return r.set(curie, h)
}

func (r *HandlerRegistry) RegisterRequestHandler(curie string, h RequestHandler) error {
	return r.set(curie, h)
}

// Register adds a Discoverable handler under every curie it reports.
func (r *HandlerRegistry) Register(h Discoverable) error {
	if h == nil {
		return errors.New("pbjx: handler must not be nil")
	}
	_, isCmd := h.(CommandHandler)
	_, isReq := h.(RequestHandler)
	if !isCmd && !isReq {
		return fmt.Errorf("pbjx: %T is neither a CommandHandler nor a RequestHandler", h)
	}
	for _, curie := range h.HandlesCuries() {
		if err := r.set(curie, h); err != nil {
			return err
		}
	}
	return nil
}

func (r *HandlerRegistry) set(curie string, h any) error {
	if curie == "" {
		return errors.New("pbjx: handler curie must not be empty")
	}
	if h == nil {
		return errors.New("pbjx: handler must not be nil")
	}
	r.mu.Lock()
	r.handlers[curie] = h
	r.mu.Unlock()
	return nil
}

// Lookup returns the handler registered for curie.
func (r *HandlerRegistry) Lookup(curie string) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[curie]
	r.mu.RUnlock()
	if !ok {
		return nil, &HandlerNotFoundError{Curie: curie}
	}
	return h, nil
}

// handlerCache memoizes resolved handlers per bus. Resolution is idempotent
// so concurrent misses are harmless.
type handlerCache[H any] struct {
	registry *HandlerRegistry
	kind     string
	resolved sync.Map
}

func (c *handlerCache[H]) get(curie string) (H, error) {
	if h, ok := c.resolved.Load(curie); ok {
		return h.(H), nil
	}
	var zero H
	raw, err := c.registry.Lookup(curie)
	if err != nil {
		return zero, err
	}
	h, ok := raw.(H)
	if !ok {
		return zero, &InvalidHandlerError{Curie: curie, Want: c.kind, Got: fmt.Sprintf("%T", raw)}
	}
	c.resolved.Store(curie, h)
	return h, nil
}
