package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/pbjx/eventstore/s3export"
	"github.com/trickstertwo/xlog"
)

var (
	exportSince  string
	exportUntil  string
	exportBucket string
	exportKey    string
)

var exportEventsCmd = &cobra.Command{
	Use:   "export-events",
	Short: "Export every event as NDJSON to stdout or S3",
	Example: `  pbjx export-events > events.ndjson
  pbjx export-events --since 2024-01-01T00:00:00Z --s3-bucket acme-exports`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseMicrotime(exportSince)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		until, err := parseMicrotime(exportUntil)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}
		ctx := cmd.Context()

		s3cfg := cfg.S3
		if exportBucket != "" {
			s3cfg.Bucket = exportBucket
		}
		if exportKey != "" {
			s3cfg.Key = exportKey
		}
		if s3cfg.Bucket == "" {
			n, err := s3export.WriteNDJSON(cmd.OutOrStdout(), store.PipeAllEvents(ctx, since, until))
			if err != nil {
				return fmt.Errorf("exporting events: %w", err)
			}
			logger.With(xlog.Str("events", fmt.Sprint(n))).Info().Msg("export done")
			return nil
		}

		exp, err := s3export.New(ctx, s3export.Config{
			Bucket:   s3cfg.Bucket,
			Key:      s3cfg.Key,
			Region:   s3cfg.Region,
			Endpoint: s3cfg.Endpoint,
		}, s3export.WithLogger(logger))
		if err != nil {
			return err
		}
		res, err := exp.Export(ctx, store, since, until)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "s3://%s/%s (%d events, %d bytes)\n", res.Bucket, res.Key, res.Events, res.Bytes)
		return nil
	},
}

func init() {
	exportEventsCmd.Flags().StringVar(&exportSince, "since", "", "only events after this time")
	exportEventsCmd.Flags().StringVar(&exportUntil, "until", "", "only events before this time")
	exportEventsCmd.Flags().StringVar(&exportBucket, "s3-bucket", "", "upload to this bucket instead of writing to stdout")
	exportEventsCmd.Flags().StringVar(&exportKey, "s3-key", "", "object key (default events/<unix micros>.ndjson)")
}
