package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datatalk/datatalk/internal/api"
	"github.com/datatalk/datatalk/internal/audit"
	"github.com/datatalk/datatalk/internal/catalog"
	"github.com/datatalk/datatalk/internal/config"
	"github.com/datatalk/datatalk/internal/executor"
	"github.com/datatalk/datatalk/internal/nl2sql"
	"github.com/datatalk/datatalk/internal/observability"
	"github.com/datatalk/datatalk/internal/schemahint"
	"github.com/datatalk/datatalk/internal/sqlguard"
)

func main() {
	cfg, err := config.LoadFromEnv("datatalk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		logger.Error("failed to load schema catalog", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := executor.Open(context.Background(), executor.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open query database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := executor.New(db, cfg.Database.CheckoutTimeout)

	var sink audit.Sink = &audit.LogSink{Logger: logger}
	if cfg.Audit.DSN != "" {
		auditDB, err := executor.Open(context.Background(), executor.DBConfig{
			DSN:          cfg.Audit.DSN,
			MaxOpenConns: 2,
			MaxIdleConns: 2,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()

		sink, err = audit.NewPostgresSink(auditDB, cfg.Audit.RichTable, cfg.Audit.MinimalTable)
		if err != nil {
			logger.Error("failed to initialize audit sink", slog.Any("error", err))
			os.Exit(1)
		}
	}

	translator, err := buildTranslator(cfg)
	if err != nil {
		logger.Error("failed to initialize sql translator", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Catalog:           cat,
		Guard:             sqlguard.NewGuard(cat, cfg.Query.DefaultRowLimit),
		Translator:        translator,
		Runner:            runner,
		Hints:             schemahint.NewProvider(cat, time.Hour, schemahint.WithDatabase(db)),
		Audit:             audit.NewBestEffort(sink, logger),
		StatementTimeout:  cfg.Query.StatementTimeout,
		Readiness: api.CombineReadinessChecks(
			api.CheckCatalogLoaded(cat),
			runner.HealthCheck,
		),
		DependencyTimeout: time.Second,
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
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
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

func buildTranslator(cfg config.Config) (nl2sql.Translator, error) {
	switch cfg.AI.Provider {
	case config.AIProviderAzure:
		return nl2sql.NewAzureTranslator(nl2sql.AzureConfig{
			Endpoint:    cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Deployment:  cfg.AI.Deployment,
			APIVersion:  cfg.AI.APIVersion,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	default:
		return nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	}
}
