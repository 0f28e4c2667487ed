package main

import (
	"context"
	"fmt"
	"iter"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/pbjx"
	memtransport "github.com/trickstertwo/pbjx/adapter/memory"
	"github.com/trickstertwo/pbjx/adapter/redisstream"
	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/observer/otelmetrics"
	"github.com/trickstertwo/pbjx/pbj"
	"github.com/trickstertwo/xlog"
)

var (
	replaySince     string
	replayUntil     string
	replayKeepGoing bool
)

var replayEventsCmd = &cobra.Command{
	Use:   "replay-events [stream-id]",
	Short: "Republish stored events through the configured transport",
	Long: `Pipes events out of the store and publishes each one, flagged as a
replay, on the configured transport. With a stream id only that stream is
replayed, oldest first; without one the whole store is.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseMicrotime(replaySince)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		until, err := parseMicrotime(replayUntil)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}
		ctx := cmd.Context()

		var events iter.Seq2[*pbj.Message, error]
		if len(args) == 1 {
			id, err := eventstore.ParseStreamID(args[0])
			if err != nil {
				return err
			}
			events = store.PipeEvents(ctx, id, since, until)
		} else {
			events = store.PipeAllEvents(ctx, since, until)
		}

		p, err := newReplayPbjx(cfg, logger)
		if err != nil {
			return err
		}
		defer p.Close(context.WithoutCancel(ctx))

		n, err := replay(ctx, p, events, replayKeepGoing, logger)
		m := p.GetMetrics()
		logger.With(
			xlog.Str("transport", p.Transport().Name()),
			xlog.Str("replayed", fmt.Sprint(n)),
			xlog.Str("transport_errors", fmt.Sprint(m.TransportErrors)),
		).Info().Msg("replay done")
		return err
	},
}

func init() {
	replayEventsCmd.Flags().StringVar(&replaySince, "since", "", "only events after this time")
	replayEventsCmd.Flags().StringVar(&replayUntil, "until", "", "only events before this time")
	replayEventsCmd.Flags().BoolVar(&replayKeepGoing, "keep-going", false, "log publish failures and continue")
}

// newReplayPbjx builds a Pbjx on the configured transport. Telemetry goes
// to the global otel meter provider.
func newReplayPbjx(cfg Config, logger *xlog.Logger) (*pbjx.Pbjx, error) {
	obs, err := otelmetrics.New()
	if err != nil {
		return nil, fmt.Errorf("creating metrics observer: %w", err)
	}

	b := pbjx.NewBuilder().
		WithLogger(logger).
		WithObserver(obs)
	switch cfg.Transport {
	case redisstream.TransportName:
		b.WithTransport(redisstream.TransportName, cfg.Redis)
	case memtransport.TransportName, "":
		b.WithTransport(memtransport.TransportName, nil)
	default:
		b.WithTransport(cfg.Transport, nil)
	}
	p, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("building pbjx on %q: %w", cfg.Transport, err)
	}
	return p, nil
}

// replay publishes every event of seq marked as a replay. A pipe error
// always stops; publish errors stop unless keepGoing is set.
func replay(ctx context.Context, p *pbjx.Pbjx, seq iter.Seq2[*pbj.Message, error], keepGoing bool, logger *xlog.Logger) (int, error) {
	n := 0
	for event, err := range seq {
		if err != nil {
			return n, fmt.Errorf("reading events: %w", err)
		}
		event.SetReplay(true)
		if err := p.Publish(ctx, event); err != nil {
			if !keepGoing {
				return n, fmt.Errorf("publishing %s: %w", event.ID(), err)
			}
			logger.With(
				xlog.Str("event_id", event.ID()),
				xlog.Str("curie", event.Schema().Curie()),
			).Warn().Err(err).Msg("replay publish failed")
			continue
		}
		n++
	}
	return n, nil
}
