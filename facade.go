package pbjx

import (
	"context"
	"sync"

	"github.com/trickstertwo/pbjx/pbj"
)

// The process-wide default runtime exists for code paths that cannot be
// handed a *Pbjx. It is shared mutable state: tests that call SetDefault
// must not run in parallel with each other.
var (
	defaultPbjx   *Pbjx
	defaultPbjxMu sync.RWMutex
)

// Default returns the process-wide runtime installed with SetDefault (or an
// adapter's Use). It returns ErrDefaultNotInitialized before that.
func Default() (*Pbjx, error) {
	defaultPbjxMu.RLock()
	defer defaultPbjxMu.RUnlock()
	if defaultPbjx == nil {
		return nil, ErrDefaultNotInitialized
	}
	return defaultPbjx, nil
}

// SetDefault replaces the process-wide default runtime.
func SetDefault(p *Pbjx) {
	if p == nil {
		panic("pbjx: SetDefault called with nil Pbjx")
	}
	defaultPbjxMu.Lock()
	defaultPbjx = p
	defaultPbjxMu.Unlock()
}

// ResetDefault clears the process-wide runtime. Intended for test teardown
// and process shutdown.
func ResetDefault() {
	defaultPbjxMu.Lock()
	defaultPbjx = nil
	defaultPbjxMu.Unlock()
}

// Send is the Facade using the default runtime.
func Send(ctx context.Context, command *pbj.Message) error {
	p, err := Default()
	if err != nil {
		return err
	}
	return p.Send(ctx, command)
}

// Publish is the Facade using the default runtime.
func Publish(ctx context.Context, event *pbj.Message) error {
	p, err := Default()
	if err != nil {
		return err
	}
	return p.Publish(ctx, event)
}

// Request is the Facade using the default runtime.
func Request(ctx context.Context, request *pbj.Message) (*pbj.Message, error) {
	p, err := Default()
	if err != nil {
		return nil, err
	}
	return p.Request(ctx, request)
}
