// Command pbjx manages pbjx event stores: creating and describing storage,
// reading streams, exporting events and replaying them onto a transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/eventstore/dynamodb"
	"github.com/trickstertwo/pbjx/eventstore/memory"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

var (
	configPath string
	tableName  string
	debug      bool

	cfg    Config
	logger *xlog.Logger
	store  eventstore.EventStore
)

var rootCmd = &cobra.Command{
	Use:           "pbjx <command>",
	Short:         "Manage pbjx event stores",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath, os.Getenv)
		if err != nil {
			return err
		}
		if debug {
			cfg.Debug = true
		}
		if tableName != "" {
			cfg.DynamoDB["table_name"] = tableName
		}

		zcfg := zerolog.Config{
			Console:           true,
			ConsoleTimeFormat: time.RFC3339,
			Writer:            os.Stderr,
		}
		if cfg.Debug {
			zcfg.MinLevel = xlog.LevelDebug
		}
		logger = zerolog.Use(zcfg).With(xlog.Str("app", "pbjx"))

		store, err = openStore(cmd.Context(), cfg, logger)
		return err
	},
}

// openStore builds the configured EventStore.
func openStore(ctx context.Context, cfg Config, logger *xlog.Logger) (eventstore.EventStore, error) {
	switch cfg.Store {
	case storeMemory:
		return memory.New(memory.WithLogger(logger)), nil
	default:
		dcfg := dynamodb.ConfigFromMap(cfg.DynamoDB)
		s, err := dynamodb.New(ctx, dcfg, dynamodb.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("opening dynamodb store: %w", err)
		}
		return s, nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "pbjx.toml", "config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&tableName, "table", "", "DynamoDB table, overrides the config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	rootCmd.AddCommand(createStorageCmd)
	rootCmd.AddCommand(describeStorageCmd)
	rootCmd.AddCommand(getStreamCmd)
	rootCmd.AddCommand(exportEventsCmd)
	rootCmd.AddCommand(replayEventsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
