package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createStorageCmd = &cobra.Command{
	Use:   "create-storage",
	Short: "Create the event store table and indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.CreateStorage(cmd.Context()); err != nil {
			return fmt.Errorf("creating storage: %w", err)
		}
		logger.Info().Msg("storage ready")
		return nil
	},
}

var describeStorageCmd = &cobra.Command{
	Use:   "describe-storage",
	Short: "Describe the event store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, err := store.DescribeStorage(cmd.Context())
		if err != nil {
			return fmt.Errorf("describing storage: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), desc)
		return nil
	},
}
