package pbjx

import (
	"context"
	"sync"

	"github.com/trickstertwo/pbjx/pbj"
)

// LifecycleListener handles one lifecycle phase. Returning an error aborts
// the trigger and surfaces the error to whoever started it.
type LifecycleListener func(ctx context.Context, p *Pbjx, e LifecycleEvent) error

// EventSubscriber receives published events. Errors are isolated by the
// event bus and turned into event-execution-failed records.
type EventSubscriber func(ctx context.Context, p *Pbjx, event *pbj.Message) error

// Dispatcher holds listeners keyed by dispatch key. Listeners for a key run
// in registration order. Safe for concurrent use.
type Dispatcher struct {
	mu          sync.RWMutex
	lifecycle   map[string][]LifecycleListener
	subscribers map[string][]EventSubscriber
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		lifecycle:   make(map[string][]LifecycleListener),
		subscribers: make(map[string][]EventSubscriber),
	}
}

// On registers a lifecycle listener, e.g. On("acme:blog:command:publish-article.validate", fn)
// or On("*.enrich", fn).
func (d *Dispatcher) On(key string, l LifecycleListener) {
	if key == "" || l == nil {
		return
	}
	d.mu.Lock()
	d.lifecycle[key] = append(d.lifecycle[key], l)
	d.mu.Unlock()
}

// Subscribe registers an event subscriber against a mixin, curie major,
// curie, "vendor:package:*" or "*".
func (d *Dispatcher) Subscribe(key string, s EventSubscriber) {
	if key == "" || s == nil {
		return
	}
	d.mu.Lock()
	d.subscribers[key] = append(d.subscribers[key], s)
	d.mu.Unlock()
}

// HasListeners reports whether any lifecycle listener or subscriber is
// registered under key.
func (d *Dispatcher) HasListeners(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lifecycle[key]) > 0 || len(d.subscribers[key]) > 0
}

func (d *Dispatcher) lifecycleListeners(key string) []LifecycleListener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ls := d.lifecycle[key]
	if len(ls) == 0 {
		return nil
	}
	out := make([]LifecycleListener, len(ls))
	copy(out, ls)
	return out
}

func (d *Dispatcher) eventSubscribers(key string) []EventSubscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ss := d.subscribers[key]
	if len(ss) == 0 {
		return nil
	}
	out := make([]EventSubscriber, len(ss))
	copy(out, ss)
	return out
}
