package pbjx

import (
	"context"

	"github.com/trickstertwo/pbjx/pbj"
)

// CommandBus handles commands delivered by a transport. Failures never
// reach the transport; they go to the exception handler.
type CommandBus struct {
	p        *Pbjx
	handlers handlerCache[CommandHandler]
}

func newCommandBus(p *Pbjx) *CommandBus {
	return &CommandBus{p: p, handlers: handlerCache[CommandHandler]{registry: p.handlers, kind: "CommandHandler"}}
}

// Receive freezes the command, runs before_handle, the handler and
// after_handle.
func (b *CommandBus) Receive(ctx context.Context, command *pbj.Message) {
	p := b.p
	curie := command.Schema().Curie()
	start := p.clock.Now()
	p.notifyAsync(Telemetry{Kind: HandleStart, Curie: curie, MessageID: command.ID()})

	err := b.handle(ctx, command)

	duration := p.clock.Since(start)
	p.recordProcessingTime(duration.Nanoseconds())
	p.metrics.handledCount.Add(1)
	p.notifyAsync(Telemetry{Kind: HandleDone, Curie: curie, MessageID: command.ID(), Duration: duration, Err: err})
	if err != nil {
		p.metrics.handlerFailureCount.Add(1)
		p.exceptions.OnCommandBusException(ctx, p, NewBusExceptionEvent(command, err))
	}
}

func (b *CommandBus) handle(ctx context.Context, command *pbj.Message) error {
	command.Freeze()
	h, err := b.handlers.get(command.Schema().Curie())
	if err != nil {
		return err
	}
	if _, err := b.p.Trigger(ctx, command, PhaseBeforeHandle, nil, false); err != nil {
		return err
	}
	invoke := Chain(RecoveryMiddleware()(func(ctx context.Context, msg *pbj.Message) (*pbj.Message, error) {
		return nil, h.HandleCommand(ctx, b.p, msg)
	}), b.p.middlewares...)
	if _, err := invoke(ctx, command); err != nil {
		return err
	}
	_, err = b.p.Trigger(ctx, command, PhaseAfterHandle, nil, false)
	return err
}
