package pbjx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/trickstertwo/pbjx/pbj"
)

// Invoker runs a handler for one message. Command handlers return a nil
// response.
type Invoker func(ctx context.Context, msg *pbj.Message) (*pbj.Message, error)

// Middleware composes processing concerns around handler invocation.
type Middleware func(next Invoker) Invoker

// PanicError is produced by RecoveryMiddleware.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string      { return fmt.Sprintf("panic recovered: %v", e.Value) }
func (e *PanicError) StackTrace() string { return string(e.Stack) }

// RecoveryMiddleware converts handler panics into errors. The buses always
// install it innermost.
func RecoveryMiddleware() Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, msg *pbj.Message) (resp *pbj.Message, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					err = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			return next(ctx, msg)
		}
	}
}

// RetryConfig controls retry behavior for handler middleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt.
	Backoff func(attempt int) time.Duration
	// RetryIf returns true if the error should be retried. nil retries everything.
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff.
	Jitter time.Duration
}

// RetryMiddleware retries failed handler invocations. Handlers must be
// idempotent for this to be safe.
func RetryMiddleware(cfg RetryConfig) Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, msg *pbj.Message) (*pbj.Message, error) {
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(error) bool { return true }
			}
			var (
				resp    *pbj.Message
				lastErr error
			)
			for i := 1; i <= attempts; i++ {
				resp, lastErr = next(ctx, msg)
				if lastErr == nil {
					return resp, nil
				}
				if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, lastErr
				}
				if i == attempts || !shouldRetry(lastErr) {
					return nil, lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}

// TimeoutMiddleware bounds handler execution. The handler keeps running in
// the background after the deadline; it sees the cancelled context.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Invoker) Invoker { return next }
	}
	return func(next Invoker) Invoker {
		return func(ctx context.Context, msg *pbj.Message) (*pbj.Message, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type result struct {
				resp *pbj.Message
				err  error
			}
			ch := make(chan result, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						ch <- result{err: &PanicError{Value: r, Stack: debug.Stack()}}
					}
				}()
				resp, err := next(tctx, msg)
				ch <- result{resp: resp, err: err}
			}()

			select {
			case <-tctx.Done():
				return nil, tctx.Err()
			case r := <-ch:
				return r.resp, r.err
			}
		}
	}
}

// Chain composes middlewares around an invoker. The first middleware is outermost.
func Chain(h Invoker, mws ...Middleware) Invoker {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
