package pbjx

import (
	"context"

	"github.com/trickstertwo/pbjx/pbj"
)

// Transport is the Strategy that moves frozen messages from the producing
// side to the receiving side. The receiving side, possibly in another
// process, calls Pbjx.ReceiveCommand, ReceiveEvent or ReceiveRequest.
type Transport interface {
	Name() string
	SendCommand(ctx context.Context, p *Pbjx, command *pbj.Message) error
	SendEvent(ctx context.Context, p *Pbjx, event *pbj.Message) error
	// SendRequest blocks until a response is available.
	SendRequest(ctx context.Context, p *Pbjx, request *pbj.Message) (*pbj.Message, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
