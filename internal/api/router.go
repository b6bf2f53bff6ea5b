package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"concierge/internal/docstore"
	"concierge/internal/metrics"
	"concierge/internal/reference"
	"concierge/internal/repository"
)

// Limits bounds list and search page sizes.
type Limits struct {
	Default int
	Max     int
}

// Deps is everything the router needs; all of it is built once by the caller.
type Deps struct {
	Client    *docstore.Client
	Entities  *repository.Entities
	Curations *repository.Curations
	Query     *repository.Query
	Catalog   reference.Catalog
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Limits    Limits
	Log       *zap.Logger
}

const healthPingTimeout = 2 * time.Second

// NewRouter wires the routes at the root and mirrored under /api/v3.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Limits.Default <= 0 {
		d.Limits.Default = repository.DefaultLimit
	}
	if d.Limits.Max <= 0 {
		d.Limits.Max = repository.MaxLimit
	}

	r := gin.New()
	r.Use(RequestID(d.Log))
	r.Use(ginzap.Ginzap(d.Log, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(d.Log, true))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
	}

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	var dbCheck healthcheck.Check
	if d.Client != nil {
		dbCheck = healthcheck.DatabasePingCheck(d.Client.DB(), healthPingTimeout)
		health.AddReadinessCheck("database", dbCheck)
	}

	register(r.Group("/"), d, health, dbCheck)
	register(r.Group("/api/v3"), d, health, dbCheck)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func register(g *gin.RouterGroup, d Deps, health healthcheck.Handler, dbCheck healthcheck.Check) {
	driver := ""
	if d.Client != nil {
		driver = d.Client.Dialect().Name()
	}

	g.GET("/health", HealthHandler(dbCheck))
	g.GET("/health/ready", gin.WrapF(health.ReadyEndpoint))
	g.GET("/health/live", gin.WrapF(health.LiveEndpoint))
	g.GET("/info", InfoHandler(driver))
	g.GET("/meta", MetaHandler(d.Catalog, d.Limits))

	// static paths before :id
	g.GET("/curations/search", SearchCurationsHandler(d.Curations, d.Limits))

	g.POST("/entities", CreateEntityHandler(d.Entities))
	g.GET("/entities", ListEntitiesHandler(d.Entities, d.Limits))
	g.GET("/entities/:id", GetEntityHandler(d.Entities))
	g.PATCH("/entities/:id", UpdateEntityHandler(d.Entities))
	g.DELETE("/entities/:id", DeleteEntityHandler(d.Entities))
	g.GET("/entities/:id/curations", EntityCurationsHandler(d.Curations, d.Limits))

	g.POST("/curations", CreateCurationHandler(d.Curations))
	g.GET("/curations/:id", GetCurationHandler(d.Curations))
	g.PATCH("/curations/:id", UpdateCurationHandler(d.Curations))
	g.DELETE("/curations/:id", DeleteCurationHandler(d.Curations))

	g.POST("/query", QueryHandler(d.Query))
}

// RunServer serves h on addr until ctx is done, then drains in-flight
// requests for up to grace.
func RunServer(ctx context.Context, addr string, h http.Handler, grace time.Duration, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(sctx)
}
