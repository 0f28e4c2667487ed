package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/trickstertwo/pbjx"
	"github.com/trickstertwo/pbjx/pbj"
)

const TransportName = "memory"

func init() {
	if err := pbjx.RegisterTransport(TransportName, func(cfg map[string]any) (pbjx.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("pbjx/memory: failed to register transport: %w", err))
	}
}

var ErrTransportClosed = errors.New("pbjx/memory: transport is closed")

// Config controls memory transport behavior.
type Config struct {
	// RoundTrip passes every message through a transport envelope before
	// delivery, the way a cross-process transport would (default: false).
	RoundTrip bool
	// Serializer names the envelope serializer used by RoundTrip (default: "json").
	Serializer string
}

func ConfigFromMap(cfg map[string]any) Config {
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getStr := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	return Config{
		RoundTrip:  getBool("round_trip", false),
		Serializer: getStr("serializer", pbjx.SerializerJSON),
	}
}

// toMap converts Config to the generic map expected by the transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"round_trip": c.RoundTrip,
		"serializer": c.Serializer,
	}
}

// Transport delivers messages synchronously in the calling goroutine: Send
// returns after the command handler ran, Publish after every subscriber ran.
type Transport struct {
	cfg     Config
	closed  atomic.Bool
	metrics *transportMetrics
}

type transportMetrics struct {
	commands  atomic.Uint64
	events    atomic.Uint64
	requests  atomic.Uint64
	envelopes atomic.Uint64
}

// Stats is a snapshot of delivered message counts.
type Stats struct {
	Commands  uint64
	Events    uint64
	Requests  uint64
	Envelopes uint64
}

var _ pbjx.Transport = (*Transport)(nil)

func NewTransport(cfg Config) *Transport {
	if cfg.Serializer == "" {
		cfg.Serializer = pbjx.SerializerJSON
	}
	return &Transport{cfg: cfg, metrics: &transportMetrics{}}
}

func (t *Transport) Name() string { return TransportName }

func (t *Transport) SendCommand(ctx context.Context, p *pbjx.Pbjx, command *pbj.Message) error {
	msg, err := t.deliverable(command)
	if err != nil {
		return err
	}
	t.metrics.commands.Add(1)
	p.ReceiveCommand(ctx, msg)
	return nil
}

func (t *Transport) SendEvent(ctx context.Context, p *pbjx.Pbjx, event *pbj.Message) error {
	msg, err := t.deliverable(event)
	if err != nil {
		return err
	}
	t.metrics.events.Add(1)
	p.ReceiveEvent(ctx, msg)
	return nil
}

func (t *Transport) SendRequest(ctx context.Context, p *pbjx.Pbjx, request *pbj.Message) (*pbj.Message, error) {
	msg, err := t.deliverable(request)
	if err != nil {
		return nil, err
	}
	t.metrics.requests.Add(1)
	resp := p.ReceiveRequest(ctx, msg)
	if !t.cfg.RoundTrip {
		return resp, nil
	}
	return t.roundTrip(resp)
}

func (t *Transport) deliverable(m *pbj.Message) (*pbj.Message, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if !t.cfg.RoundTrip {
		return m, nil
	}
	return t.roundTrip(m)
}

func (t *Transport) roundTrip(m *pbj.Message) (*pbj.Message, error) {
	s, err := pbjx.NewEnvelope(m, t.cfg.Serializer).ToString()
	if err != nil {
		return nil, err
	}
	env, err := pbjx.EnvelopeFromString(s)
	if err != nil {
		return nil, err
	}
	t.metrics.envelopes.Add(1)
	return env.Message, nil
}

func (t *Transport) Stats() Stats {
	return Stats{
		Commands:  t.metrics.commands.Load(),
		Events:    t.metrics.events.Load(),
		Requests:  t.metrics.requests.Load(),
		Envelopes: t.metrics.envelopes.Load(),
	}
}

func (t *Transport) Close(ctx context.Context) error {
	t.closed.Store(true)
	return nil
}
