package redisstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/pbjx"
	"github.com/trickstertwo/xlog"
)

var errMissingEnvelope = errors.New("pbjx/redisstream: entry has no envelope field")

// delivery is one stream entry on its way to a bus.
type delivery struct {
	stream string
	id     string
	values map[string]any
}

// deliver decodes the entry and hands it to the matching bus. The entry is
// acked once the bus returns. Undecodable entries are dead-lettered when a
// dead-letter stream is configured and left pending otherwise.
func (t *Transport) deliver(ctx context.Context, p *pbjx.Pbjx, d *delivery) {
	env, err := decodeEnvelope(d.values)
	if err != nil {
		t.deadLetter(ctx, p, d, err)
		return
	}

	switch d.stream {
	case t.cfg.CommandStream:
		p.ReceiveCommand(ctx, env.Message)
	case t.cfg.EventStream:
		p.ReceiveEvent(ctx, env.Message)
	}
	t.ack(ctx, p, d)
}

func (t *Transport) ack(ctx context.Context, p *pbjx.Pbjx, d *delivery) {
	if err := t.client.XAck(ctx, d.stream, t.cfg.Group, d.id).Err(); err != nil {
		p.Logger().With(xlog.Str("stream", d.stream), xlog.Str("entry_id", d.id)).
			Warn().Err(err).Msg("pbjx/redisstream: xack failed")
		return
	}
	t.metrics.acked.Add(1)
	if t.cfg.AutoDeleteOnAck {
		_ = t.client.XDel(ctx, d.stream, d.id).Err()
	}
}

// deadLetter copies the raw entry to the dead-letter stream and acks the
// original so a poison entry is not redelivered forever.
func (t *Transport) deadLetter(ctx context.Context, p *pbjx.Pbjx, d *delivery, reason error) {
	lg := p.Logger().With(xlog.Str("stream", d.stream), xlog.Str("entry_id", d.id))
	dl := t.cfg.DeadLetter
	if dl == "" {
		lg.Error().Err(reason).Msg("pbjx/redisstream: undecodable entry left pending")
		return
	}

	values := make(map[string]any, len(d.values)+3)
	for k, v := range d.values {
		values[k] = v
	}
	values[fieldOrigStream] = d.stream
	values[fieldOrigID] = d.id
	values[fieldError] = reason.Error()

	if err := t.client.XAdd(ctx, &redis.XAddArgs{Stream: dl, ID: "*", Values: values}).Err(); err != nil {
		lg.Error().Err(err).Msg("pbjx/redisstream: dead-letter write failed")
		return
	}
	t.metrics.deadLettered.Add(1)
	lg.With(xlog.Str("dead_letter", dl)).Warn().Err(reason).Msg("pbjx/redisstream: entry dead-lettered")
	t.ack(ctx, p, d)
}

func decodeEnvelope(vals map[string]any) (*pbjx.Envelope, error) {
	raw, ok := vals[fieldEnvelope]
	if !ok {
		return nil, errMissingEnvelope
	}
	env, err := pbjx.EnvelopeFromString(asString(raw))
	if err != nil {
		return nil, fmt.Errorf("pbjx/redisstream: %w", err)
	}
	return env, nil
}

func (t *Transport) newDelivery() *delivery {
	return t.dpool.Get().(*delivery)
}

// releaseDelivery returns a delivery to the pool after clearing references.
func (t *Transport) releaseDelivery(d *delivery) {
	if d == nil {
		return
	}
	d.stream = ""
	d.id = ""
	d.values = nil
	t.dpool.Put(d)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
