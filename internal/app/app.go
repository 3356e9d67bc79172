// Package app wires configuration, infrastructure, and domain packages into
// the api and worker run modes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/tajine/internal/config"
	"github.com/wisbric/tajine/internal/httpserver"
	"github.com/wisbric/tajine/internal/platform"
	"github.com/wisbric/tajine/internal/telemetry"
	"github.com/wisbric/tajine/internal/version"
	"github.com/wisbric/tajine/pkg/alerting"
	"github.com/wisbric/tajine/pkg/breaker"
	"github.com/wisbric/tajine/pkg/budget"
	"github.com/wisbric/tajine/pkg/flags"
	"github.com/wisbric/tajine/pkg/gateway"
	"github.com/wisbric/tajine/pkg/loadshed"
	"github.com/wisbric/tajine/pkg/metricstore"
	"github.com/wisbric/tajine/pkg/ops"
	"github.com/wisbric/tajine/pkg/placecache"
	"github.com/wisbric/tajine/pkg/popsearch"
	"github.com/wisbric/tajine/pkg/servicemode"
)

// components is the shared dependency bundle both run modes build on.
type components struct {
	flags       *flags.Store
	budget      *budget.Enforcer
	shedder     *loadshed.Shedder
	health      *breaker.HealthStore
	breaker     *breaker.Breaker
	searchCache *placecache.SearchCache
	tileCache   *placecache.TileCache
	metricStore *metricstore.Store
	metricsW    *metricstore.Writer
	gateway     *gateway.Service
	modeStore   *servicemode.Store
	modeCtrl    *servicemode.Controller
	alertStore  *alerting.Store
	popStore    *popsearch.Store
	popSvc      *popsearch.Service
}

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting tajine",
		"version", version.Version,
		"commit", version.Commit,
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	// Tracing
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "tajine", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	// Database
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Redis
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	// Migrations
	schemaVersion, err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("schema ready", "version", schemaVersion)

	// Metrics
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	c := buildComponents(cfg, logger, db, rdb)
	c.metricsW.Start(ctx)
	defer c.metricsW.Close()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, c)
	case "worker":
		return runWorker(ctx, cfg, logger, c)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildComponents assembles the provider access subsystem.
func buildComponents(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) *components {
	fl := flags.NewStore(rdb, logger)
	bud := budget.NewEnforcer(rdb, nil, fl, logger, telemetry.BudgetUsageRatio)
	shed := loadshed.NewShedder(rdb, logger, 0, telemetry.RequestsShedTotal)
	health := breaker.NewHealthStore(db)
	br := breaker.New(gateway.ProviderName, breaker.Config{}, health, logger, telemetry.BreakerTransitionsTotal)

	searchCache := placecache.NewSearchCache(db)
	tileCache := placecache.NewTileCache(db)

	metricStore := metricstore.NewStore(db)
	metricsW := metricstore.NewWriter(metricStore, logger)

	client := gateway.NewClient(nil, cfg.PlacesBaseURL, cfg.ProviderTimeout)
	gw := gateway.NewService(logger, client, cfg.PlacesAPIKey, shed, br, bud, fl, searchCache, metricsW)

	modeStore := servicemode.NewStore(db)
	modeCtrl := servicemode.NewController(modeStore, health, bud, fl, logger, telemetry.ServiceModeGauge, gateway.ProviderName, nil)

	alertStore := alerting.NewStore(db)
	popStore := popsearch.NewStore(db)
	popSvc := popsearch.NewService(popStore, logger)

	return &components{
		flags:       fl,
		budget:      bud,
		shedder:     shed,
		health:      health,
		breaker:     br,
		searchCache: searchCache,
		tileCache:   tileCache,
		metricStore: metricStore,
		metricsW:    metricsW,
		gateway:     gw,
		modeStore:   modeStore,
		modeCtrl:    modeCtrl,
		alertStore:  alertStore,
		popStore:    popStore,
		popSvc:      popSvc,
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, c *components) error {
	srv := httpserver.NewServer(httpserver.Config{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, metricsReg)

	// Domain handlers.
	placesHandler := gateway.NewHandler(logger, c.gateway)
	srv.APIRouter.Mount("/places", placesHandler.Routes())

	tilesHandler := placecache.NewHandler(logger, c.tileCache)
	srv.APIRouter.Mount("/tiles", tilesHandler.Routes())

	searchesHandler := popsearch.NewHandler(logger, c.popSvc)
	srv.APIRouter.Mount("/searches", searchesHandler.Routes())

	// Admin surface.
	modeHandler := servicemode.NewHandler(logger, c.modeStore, c.modeCtrl)
	srv.APIRouter.Mount("/admin/service-mode", modeHandler.Routes())

	alertsHandler := alerting.NewHandler(logger, c.alertStore)
	srv.APIRouter.Mount("/admin/alerts", alertsHandler.Routes())

	opsHandler := ops.NewHandler(logger, c.shedder, c.budget, c.flags)
	srv.APIRouter.Mount("/admin/ops", opsHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
