package pbjx

import (
	"context"
	"strings"

	"github.com/trickstertwo/pbjx/pbj"
)

const (
	DefaultMaxRecursion = 10
	minMaxRecursion     = 2
	maxMaxRecursion     = 10
)

func clampMaxRecursion(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxRecursion
	case n < minMaxRecursion:
		return minMaxRecursion
	case n > maxMaxRecursion:
		return maxMaxRecursion
	}
	return n
}

type triggerFrame struct {
	event    LifecycleEvent
	expanded bool
}

// Trigger runs the lifecycle phase suffix for msg. When event is nil a root
// MessageEvent is created. When recursive is true and the event allows it,
// the same phase runs first on every unfrozen nested message, depth first,
// in field declaration order and then list order. The returned event is the
// one dispatched for msg. A non-nil event must wrap msg itself, otherwise
// ErrEventMessageMismatch is returned.
//
// Listener keys, in order: "*.<suffix>", "<mixin>.<suffix>" for each mixin,
// "<curie>:v<major>.<suffix>", "<curie>.<suffix>".
func (p *Pbjx) Trigger(ctx context.Context, msg *pbj.Message, suffix string, event LifecycleEvent, recursive bool) (LifecycleEvent, error) {
	suffix = strings.Trim(suffix, ".")
	if suffix == "" {
		return nil, ErrInvalidPhase
	}
	if event == nil {
		event = NewMessageEvent(msg)
	} else if event.Message() != msg {
		return nil, ErrEventMessageMismatch
	}

	stack := []triggerFrame{{event: event}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		ev := top.event
		if !top.expanded {
			if ev.Depth() > p.maxRecursion {
				return nil, &TooMuchRecursionError{Curie: ev.Message().Schema().Curie(), Depth: ev.Depth(), Max: p.maxRecursion}
			}
			top.expanded = true
			if recursive && ev.SupportsRecursion() {
				children := ev.Message().ChildMessages()
				for i := len(children) - 1; i >= 0; i-- {
					if children[i].IsFrozen() {
						continue
					}
					stack = append(stack, triggerFrame{event: childEvent(children[i], ev)})
				}
				continue
			}
		}
		stack = stack[:len(stack)-1]
		if err := p.dispatchLifecycle(ctx, ev, suffix); err != nil {
			return nil, err
		}
	}
	return event, nil
}

func (p *Pbjx) dispatchLifecycle(ctx context.Context, ev LifecycleEvent, suffix string) error {
	s := ev.Message().Schema()
	keys := make([]string, 0, len(s.Mixins())+3)
	keys = append(keys, "*."+suffix)
	for _, mixin := range s.Mixins() {
		keys = append(keys, mixin+"."+suffix)
	}
	keys = append(keys, s.CurieMajor()+"."+suffix, s.Curie()+"."+suffix)

	for _, key := range keys {
		for _, l := range p.dispatcher.lifecycleListeners(key) {
			if err := l(ctx, p, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// TriggerLifecycle runs bind, validate and enrich on msg against one shared
// event. Frozen messages are left alone.
func (p *Pbjx) TriggerLifecycle(ctx context.Context, msg *pbj.Message, recursive bool) error {
	if msg.IsFrozen() {
		return nil
	}
	event := NewMessageEvent(msg)
	for _, phase := range []string{PhaseBind, PhaseValidate, PhaseEnrich} {
		if _, err := p.Trigger(ctx, msg, phase, event, recursive); err != nil {
			return err
		}
	}
	return nil
}

// contextFieldNames are copied by CopyContext.
var contextFieldNames = []string{
	FieldCtxApp,
	FieldCtxCloud,
	FieldCtxTenantID,
	FieldCtxCorrelatorRef,
	FieldCtxUserRef,
	FieldCtxIP,
	FieldCtxIPv6,
	FieldCtxUA,
}

// CopyContext copies tracing and tenancy fields from one message onto a
// derived one. Fields already set on to are kept, frozen targets are left
// alone, and to's causator becomes from when it has none.
func CopyContext(from, to *pbj.Message) {
	if from == nil || to == nil || to.IsFrozen() {
		return
	}
	ts := to.Schema()
	if ts.HasField(FieldCtxCausatorRef) && !to.Has(FieldCtxCausatorRef) && from.ID() != "" {
		to.Set(FieldCtxCausatorRef, from.Ref())
	}
	for _, name := range contextFieldNames {
		if !ts.HasField(name) || to.Has(name) || !from.Has(name) {
			continue
		}
		f, _ := ts.Field(name)
		ff, ok := from.Schema().Field(name)
		if !ok || ff.Type != f.Type {
			continue
		}
		to.Set(name, cloneContextValue(from.Get(name)))
	}
}

func cloneContextValue(v any) any {
	if o, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(o))
		for k, it := range o {
			out[k] = it
		}
		return out
	}
	return v
}
