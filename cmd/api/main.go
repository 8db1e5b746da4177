package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"data-act-broker/internal/api"
	"data-act-broker/internal/config"
	"data-act-broker/internal/db"
	"data-act-broker/internal/jobs"
	"data-act-broker/internal/logger"
	"data-act-broker/internal/queue"
	"data-act-broker/internal/rules"
	"data-act-broker/internal/schema"
	"data-act-broker/internal/settings"
	"data-act-broker/internal/staging"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := schema.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load schema registry")
	}
	catalog, err := rules.LoadCatalog(registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load rule catalog")
	}

	// Initialize database
	if err := db.Migrate(cfg.MigrateURL(), log); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	database, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()
	store := db.NewStore(database)

	tables := staging.NewTables(database, registry)
	if err := tables.Ensure(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create staging tables")
	}
	if err := catalog.Seed(ctx, store); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed rules")
	}

	// Initialize queue producer
	q, closeQueue, err := queue.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open queue")
	}
	defer closeQueue()

	manager := jobs.NewManager(store, queue.NewProducer(q), tables, queue.WorkTypeValidation, log)
	handler := api.NewHandler(settings.NewService(store, log), manager, store, cfg)

	// Setup Gin router
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(api.LoggingMiddleware())
	router.Use(api.RecoveryMiddleware())
	api.SetupRoutes(router, handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server exited")
}
