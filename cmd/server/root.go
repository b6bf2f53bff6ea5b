package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"concierge/internal/config"
	"concierge/internal/docstore"
)

var flags *config.Flags

var rootCmd = &cobra.Command{
	Use:   "concierge",
	Short: "Document API for concierge entities and curations",
	Long: `concierge stores entities and their curations as JSON documents in
Postgres or SQLite, with merge-patch updates under optimistic locking and a
small query DSL compiled to parameterized SQL.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command; serve is the default.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags = config.RegisterFlags(rootCmd.PersistentFlags())
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return cfg, nil, err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

// newLogger builds a JSON production logger, or a console one for debug.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*docstore.Client, error) {
	return docstore.Open(ctx, docstore.Options{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  cfg.ConnMaxLifetime,
		AcquireTimeout:   cfg.AcquireTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, log)
}
