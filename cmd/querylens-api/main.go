package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/querylens/querylens/internal/api"
	"github.com/querylens/querylens/internal/api/uistatic"
	"github.com/querylens/querylens/internal/auth"
	catalogpostgres "github.com/querylens/querylens/internal/catalog/postgres"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/loader"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/pipeline"
	"github.com/querylens/querylens/internal/query/sqldb"
	"github.com/querylens/querylens/internal/schema"
	"github.com/querylens/querylens/internal/storage"
	s3store "github.com/querylens/querylens/internal/storage/s3"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("querylens-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if err := os.MkdirAll(cfg.Datasets.Dir, 0o755); err != nil {
		logger.Error("failed to create data dir", slog.String("dir", cfg.Datasets.Dir), slog.Any("error", err))
		os.Exit(1)
	}
	datasets, err := dataset.NewCatalog(cfg.Datasets.Dir)
	if err != nil {
		logger.Error("failed to open dataset catalog", slog.Any("error", err))
		os.Exit(1)
	}

	checks := []api.ReadinessCheck{
		api.CheckDataDir(datasets.Dir()),
		api.CheckTranslatorConfig(cfg),
	}

	deps := api.Dependencies{
		Logger:            logger,
		Datasets:          datasets,
		UI:                uistatic.Handler(),
		DependencyTimeout: 2 * time.Second,
	}

	var registry loader.Registry
	if strings.TrimSpace(cfg.Catalog.DSN) != "" {
		catalogDB, err := catalogpostgres.Open(context.Background(), cfg.Catalog, cfg.Service.Name)
		if err != nil {
			logger.Error("failed to open catalog db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = catalogDB.Close() }()

		catalogRepo := catalogpostgres.NewRepository(catalogDB)
		registry = catalogRepo
		deps.Registry = catalogRepo
		checks = append(checks, catalogRepo.HealthCheck)
	} else {
		logger.Info("dataset registry disabled; QUERYLENS_CATALOG_DSN is empty")
	}

	var archive storage.ObjectStore
	if strings.TrimSpace(cfg.ObjectStore.Endpoint) != "" {
		objectStore, err := s3store.New(context.Background(), cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archive = objectStore
		checks = append(checks, objectStore.HealthCheck)
	} else {
		logger.Info("dataset archive disabled; QUERYLENS_OBJECTSTORE_ENDPOINT is empty")
	}

	openOpts := dataset.OpenOptions{ReadOnly: cfg.Query.ReadOnly}
	introspector := schema.NewIntrospector(openOpts)
	engine := sqldb.NewEngine(openOpts)

	var translator nl2sql.Translator
	if strings.TrimSpace(cfg.AI.APIKey) != "" {
		translator, err = nl2sql.New(nl2sql.Config{
			Provider:    cfg.AI.Provider,
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize query translator", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("generation service api key is not set; only shortcut questions will be answered")
	}

	deps.Schema = introspector
	deps.QueryEngine = engine
	deps.Asker = &pipeline.Service{
		Datasets:   datasets,
		Schema:     introspector,
		Translator: translator,
		Engine:     engine,
		Config: pipeline.Config{
			MinWords: cfg.Query.QuestionMinWords,
			RowLimit: cfg.Query.RowLimit,
		},
		Logger: logger,
	}
	deps.Loader = loader.New(datasets, archive, registry, cfg.Datasets.UploadMaxBytes, logger)
	deps.Readiness = api.CombineReadinessChecks(checks...)

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("data_dir", datasets.Dir()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
