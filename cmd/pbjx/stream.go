package main

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/eventstore/s3export"
	"github.com/trickstertwo/pbjx/pbj"
	"github.com/trickstertwo/xlog"
)

var (
	sliceSince      string
	sliceCount      int
	sliceForward    bool
	sliceConsistent bool
)

var getStreamCmd = &cobra.Command{
	Use:   "get-stream <stream-id>",
	Short: "Print one slice of a stream as NDJSON",
	Example: `  pbjx get-stream article:1234 --forward --count 50
  pbjx get-stream article:1234 --since 2024-05-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := eventstore.ParseStreamID(args[0])
		if err != nil {
			return err
		}
		since, err := parseMicrotime(sliceSince)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}

		slice, err := store.GetStreamSlice(cmd.Context(), id, eventstore.SliceOptions{
			Since:      since,
			Count:      sliceCount,
			Forward:    sliceForward,
			Consistent: sliceConsistent,
		})
		if err != nil {
			return fmt.Errorf("reading %s: %w", id, err)
		}
		if _, err := s3export.WriteNDJSON(cmd.OutOrStdout(), eventsOf(slice.Events)); err != nil {
			return err
		}
		logger.With(
			xlog.Str("stream_id", id.String()),
			xlog.Str("events", fmt.Sprint(slice.Len())),
			xlog.Str("has_more", fmt.Sprint(slice.HasMore)),
		).Debug().Msg("slice read")
		return nil
	},
}

func init() {
	getStreamCmd.Flags().StringVar(&sliceSince, "since", "", "cursor: unix microseconds or RFC 3339 (default now when reading backward)")
	getStreamCmd.Flags().IntVar(&sliceCount, "count", eventstore.DefaultSliceCount, "events per slice (max 100)")
	getStreamCmd.Flags().BoolVar(&sliceForward, "forward", false, "read oldest first")
	getStreamCmd.Flags().BoolVar(&sliceConsistent, "consistent", false, "strongly consistent read")
}

// parseMicrotime accepts unix microseconds, "seconds.micros" or RFC 3339.
// Empty means zero.
func parseMicrotime(s string) (pbj.Microtime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return pbj.NewMicrotime(t), nil
	}
	return pbj.ParseMicrotime(s)
}

func eventsOf(events []*pbj.Message) iter.Seq2[*pbj.Message, error] {
	return func(yield func(*pbj.Message, error) bool) {
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}
}
