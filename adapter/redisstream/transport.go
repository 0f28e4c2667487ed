package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/pbjx"
	"github.com/trickstertwo/pbjx/pbj"
)

var ErrTransportClosed = errors.New("pbjx/redisstream: transport is closed")

// Transport appends commands and events to Redis Streams. Requests are
// answered in-process.
type Transport struct {
	cfg        Config
	client     *redis.Client
	ownsClient bool

	closed atomic.Bool

	subsMu sync.Mutex
	subs   []*Subscription

	// delivery pool to reduce per-message allocations
	dpool sync.Pool

	metrics *transportMetrics
}

type transportMetrics struct {
	published     atomic.Uint64
	consumed      atomic.Uint64
	acked         atomic.Uint64
	deadLettered  atomic.Uint64
	publishErrors atomic.Uint64
	consumeErrors atomic.Uint64
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Acked         uint64
	DeadLettered  uint64
	PublishErrors uint64
	ConsumeErrors uint64
}

var _ pbjx.Transport = (*Transport)(nil)

// NewTransport dials Redis and verifies the connection with PING.
func NewTransport(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     max(10, cfg.Concurrency+2),
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	t := newTransport(cfg, client)
	t.ownsClient = true
	return t, nil
}

// NewTransportWithClient uses an existing client. The caller keeps
// ownership: Close does not close it.
func NewTransportWithClient(cfg Config, client *redis.Client) *Transport {
	if cfg.Serializer == "" {
		cfg.Serializer = pbjx.SerializerJSON
	}
	return newTransport(cfg, client)
}

func newTransport(cfg Config, client *redis.Client) *Transport {
	return &Transport{
		cfg:     cfg,
		client:  client,
		metrics: &transportMetrics{},
		dpool: sync.Pool{
			New: func() any { return new(delivery) },
		},
	}
}

func (t *Transport) Name() string { return TransportName }

func (t *Transport) SendCommand(ctx context.Context, p *pbjx.Pbjx, command *pbj.Message) error {
	return t.add(ctx, p, t.cfg.CommandStream, command)
}

func (t *Transport) SendEvent(ctx context.Context, p *pbjx.Pbjx, event *pbj.Message) error {
	return t.add(ctx, p, t.cfg.EventStream, event)
}

// SendRequest runs the request bus in the calling goroutine.
func (t *Transport) SendRequest(ctx context.Context, p *pbjx.Pbjx, request *pbj.Message) (*pbj.Message, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	return p.ReceiveRequest(ctx, request), nil
}

// add appends msg to stream as an envelope with XADD.
func (t *Transport) add(ctx context.Context, p *pbjx.Pbjx, stream string, msg *pbj.Message) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	env, err := pbjx.NewEnvelope(msg, t.cfg.Serializer).ToString()
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]any{
			fieldEnvelope:   env,
			fieldCurie:      msg.Schema().Curie(),
			fieldMessageID:  msg.ID(),
			fieldProducedAt: p.Clock().Now().UnixNano(),
		},
	}
	// Approximate trimming keeps the stream bounded.
	if t.cfg.MaxLenApprox > 0 {
		args.MaxLen = t.cfg.MaxLenApprox
		args.Approx = true
	}

	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		t.metrics.publishErrors.Add(1)
		return fmt.Errorf("pbjx/redisstream: xadd %s: %w", stream, err)
	}
	t.metrics.published.Add(1)
	return nil
}

// Subscription is a running consumer started by Consume.
type Subscription struct {
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Close stops the pollers, waits for in-flight deliveries and returns.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Consume reads the command and event streams through the configured
// consumer group and delivers every entry to p. Each entry is acked after
// the bus returns; bus failures are isolated by the buses themselves, so
// only undecodable entries are dead-lettered.
func (t *Transport) Consume(ctx context.Context, p *pbjx.Pbjx) (*Subscription, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	streams := []string{t.cfg.CommandStream, t.cfg.EventStream}
	if t.cfg.AutoCreate {
		for _, stream := range streams {
			err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.Group, groupStartID).Err()
			if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
				return nil, fmt.Errorf("pbjx/redisstream: create group %s on %s: %w", t.cfg.Group, stream, err)
			}
		}
	}

	innerCtx, cancel := context.WithCancel(ctx)
	workers := max(1, t.cfg.Concurrency)
	// buffer = 2x workers for burst absorption
	workCh := make(chan *delivery, workers*2)

	// In-flight deliveries finish and ack even after Close.
	deliverCtx := context.WithoutCancel(innerCtx)
	var workersWG sync.WaitGroup
	for i := 0; i < workers; i++ {
		workersWG.Add(1)
		go func() {
			defer workersWG.Done()
			for d := range workCh {
				t.deliver(deliverCtx, p, d)
				t.releaseDelivery(d)
			}
		}()
	}

	var producersWG sync.WaitGroup
	for _, stream := range streams {
		producersWG.Add(1)
		go func() {
			defer producersWG.Done()
			t.pollerLoop(innerCtx, p, stream, workCh)
		}()
		if t.cfg.ClaimMinIdle > 0 && t.cfg.ClaimInterval > 0 {
			producersWG.Add(1)
			go func() {
				defer producersWG.Done()
				t.claimLoop(innerCtx, p, stream, workCh)
			}()
		}
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		producersWG.Wait()
		close(workCh) // signal workers to exit
		workersWG.Wait()
		close(sub.done)
	}()

	t.subsMu.Lock()
	t.subs = append(t.subs, sub)
	t.subsMu.Unlock()
	return sub, nil
}

// pollerLoop reads new entries for stream and queues them for the workers.
func (t *Transport) pollerLoop(ctx context.Context, p *pbjx.Pbjx, stream string, workCh chan<- *delivery) {
	xArgs := &redis.XReadGroupArgs{
		Group:    t.cfg.Group,
		Consumer: t.cfg.Consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(max(1, t.cfg.BatchSize)),
		Block:    t.cfg.Block,
	}

	const minBackoff = 100 * time.Millisecond
	const maxBackoff = 5 * time.Second
	backoff := minBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := t.client.XReadGroup(ctx, xArgs).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				// block timeout
				backoff = minBackoff
				continue
			}
			t.metrics.consumeErrors.Add(1)
			p.Logger().Warn().Err(err).Msg("pbjx/redisstream: xreadgroup " + stream + " failed")
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = minBackoff

		for _, s := range res {
			if !t.enqueue(ctx, stream, s.Messages, workCh) {
				return
			}
		}
	}
}

func (t *Transport) enqueue(ctx context.Context, stream string, msgs []redis.XMessage, workCh chan<- *delivery) bool {
	for _, x := range msgs {
		d := t.newDelivery()
		d.stream = stream
		d.id = x.ID
		d.values = x.Values
		t.metrics.consumed.Add(1)

		select {
		case workCh <- d:
		case <-ctx.Done():
			t.releaseDelivery(d)
			return false
		}
	}
	return true
}

// claimLoop periodically takes over entries left pending by dead consumers
// and queues them for redelivery.
func (t *Transport) claimLoop(ctx context.Context, p *pbjx.Pbjx, stream string, workCh chan<- *delivery) {
	ticker := time.NewTicker(t.cfg.ClaimInterval)
	defer ticker.Stop()

	batch := int64(max(1, t.cfg.ClaimBatch))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  t.cfg.Group,
			Start:  "-",
			End:    "+",
			Count:  batch,
			Idle:   t.cfg.ClaimMinIdle,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		for _, pe := range pending {
			if pe.Consumer != t.cfg.Consumer {
				ids = append(ids, pe.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		claimed, err := t.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    t.cfg.Group,
			Consumer: t.cfg.Consumer,
			MinIdle:  t.cfg.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				p.Logger().Warn().Err(err).Msg("pbjx/redisstream: xclaim " + stream + " failed")
			}
			continue
		}
		if !t.enqueue(ctx, stream, claimed, workCh) {
			return
		}
	}
}

// Stats returns a snapshot of transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Published:     t.metrics.published.Load(),
		Consumed:      t.metrics.consumed.Load(),
		Acked:         t.metrics.acked.Load(),
		DeadLettered:  t.metrics.deadLettered.Load(),
		PublishErrors: t.metrics.publishErrors.Load(),
		ConsumeErrors: t.metrics.consumeErrors.Load(),
	}
}

// Close stops every consumer and, when the transport dialed it, closes the
// client.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}

	t.subsMu.Lock()
	subs := t.subs
	t.subs = nil
	t.subsMu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}

	if !t.ownsClient {
		return nil
	}
	return t.client.Close()
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
