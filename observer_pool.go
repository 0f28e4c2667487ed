package pbjx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool dispatches telemetry to observers on background workers so a
// slow observer never blocks a bus. When the buffer is full, observations
// are dropped and counted.
type ObserverPool struct {
	ch        chan *Telemetry
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// NewObserverPool starts workers goroutines draining a buffer of bufferSize
// observations. Non-positive values fall back to 4 and 1000.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		ch:      make(chan *Telemetry, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}
	return op
}

// Notify queues t for observers without blocking.
func (op *ObserverPool) Notify(t Telemetry, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	t.observers = make([]Observer, len(observers))
	copy(t.observers, observers)

	select {
	case op.ch <- &t:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			// drain what is already queued
			for {
				select {
				case t := <-op.ch:
					if t != nil {
						op.dispatch(t)
						op.processed.Add(1)
					}
				default:
					return
				}
			}
		case t := <-op.ch:
			if t != nil {
				op.dispatch(t)
				op.processed.Add(1)
			}
		}
	}
}

func (op *ObserverPool) dispatch(t *Telemetry) {
	for _, obs := range t.observers {
		if obs == nil {
			continue
		}
		func() {
			// an observer panic must not kill the worker
			defer func() { _ = recover() }()
			obs.OnTelemetry(*t)
		}()
	}
}

// Close stops the workers after draining queued observations, waiting at most timeout.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}
	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.ch),
		Workers:      op.workers,
		BufferSize:   cap(op.ch),
	}
}
