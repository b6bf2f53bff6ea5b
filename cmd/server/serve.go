package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"concierge/internal/api"
	"concierge/internal/dsl"
	"concierge/internal/metrics"
	"concierge/internal/model"
	"concierge/internal/reference"
	"concierge/internal/repository"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := reference.LoadEnumCatalog(cfg.ReferenceDir)
	if err != nil {
		return err
	}
	log.Info("enum catalog loaded", zap.Int("directories", len(catalog)))

	client, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if cfg.AutoMigrate {
		if err := client.Migrate(ctx); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	v := model.NewValidator(catalog)
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Deps{
		Client:    client,
		Entities:  repository.NewEntities(client, v, m, log),
		Curations: repository.NewCurations(client, v, m, log),
		Query:     repository.NewQuery(client, dsl.NewCompiler(client.Dialect(), cfg.DefaultLimit, cfg.MaxLimit), m, log),
		Catalog:   catalog,
		Metrics:   m,
		Gatherer:  reg,
		Limits:    api.Limits{Default: cfg.DefaultLimit, Max: cfg.MaxLimit},
		Log:       log,
	})
	return api.RunServer(ctx, cfg.Addr, router, cfg.ShutdownGrace, log)
}
