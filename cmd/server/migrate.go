package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables, indexes and functions, then exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		client, err := openStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		if err := client.Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info("schema is up to date", zap.String("dialect", client.Dialect().Name()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
