// Package main provides the entry point for the NL2SQL pipeline's HTTP
// server: the conversational chat-stream endpoint and health checks.
//
// Usage:
//
//	go run ./cmd/nl2sqlapi
//
// Environment variables are documented in internal/config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nl2sqlcore/pipeline/internal/cache"
	"github.com/nl2sqlcore/pipeline/internal/config"
	"github.com/nl2sqlcore/pipeline/internal/coordinator"
	"github.com/nl2sqlcore/pipeline/internal/httpapi"
	"github.com/nl2sqlcore/pipeline/internal/llm"
	"github.com/nl2sqlcore/pipeline/internal/models"
	"github.com/nl2sqlcore/pipeline/internal/paramextract"
	"github.com/nl2sqlcore/pipeline/internal/querybuilder"
	"github.com/nl2sqlcore/pipeline/internal/queryvalidate"
	"github.com/nl2sqlcore/pipeline/internal/sqlstore"
	"github.com/nl2sqlcore/pipeline/internal/telemetry"
	"github.com/nl2sqlcore/pipeline/internal/templatesearch"
)

func main() {
	logger := setupLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	redisClient, err := cache.NewClient(cfg.RedisDSN(), logger)
	if err != nil {
		logger.Error("failed to initialize redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()
	clarificationStore := cache.NewClarificationStore(redisClient)
	deps.Conversation = cache.NewConversationStore(redisClient)

	server := httpapi.New(cfg, deps, clarificationStore, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.Error("server error", slog.Any("error", err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	logger.Info("nl2sqlapi server stopped")
}

// setupLogger configures structured logging, matching the teacher's
// environment-driven JSON-in-production/text-in-dev convention.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if os.Getenv("APP_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// buildDependencies wires every collaborator process_query needs, following
// the teacher's initializeDependencies shape but targeting the pipeline's own
// component roster instead of MediSync's. It returns a cleanup func closing
// every pool/connection it opened.
func buildDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (coordinator.Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	metaPool, err := sqlstore.NewPool(ctx, sqlstore.PoolConfig{
		DSN:             cfg.DatabaseDSN(),
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		Logger:          logger,
	})
	if err != nil {
		cleanup()
		return coordinator.Dependencies{}, nil, fmt.Errorf("metadata pool: %w", err)
	}
	closers = append(closers, metaPool.Close)

	warehousePool, err := sqlstore.NewPool(ctx, sqlstore.PoolConfig{
		DSN:    cfg.WarehouseDSN(),
		Logger: logger,
	})
	if err != nil {
		cleanup()
		return coordinator.Dependencies{}, nil, fmt.Errorf("warehouse pool: %w", err)
	}
	closers = append(closers, warehousePool.Close)

	llmClient := llm.NewClient(llm.Config{
		Provider:    llm.Provider(cfg.LLM.Provider),
		Model:       cfg.LLM.Model,
		Endpoint:    cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)

	executor := sqlstore.NewExecutor(warehousePool, sqlstore.ExecutorConfig{
		Logger: logger,
	})

	tableCatalog := sqlstore.NewTableCatalog(metaPool, llmClient, logger)
	allowedNames, err := tableCatalog.AllTableNames(ctx)
	if err != nil {
		logger.Warn("failed to load table allowlist, dynamic path will reject every table until retried", slog.Any("error", err))
	}
	allowedTables := queryvalidate.NewAllowedTables(allowedNames)

	allowedValues := cache.NewAllowedValuesCache(executor, cache.Config{
		TTL:      cfg.Pipeline.AllowedValuesTTL,
		MaxVals:  cfg.Pipeline.AllowedValuesMax,
		Logger:   logger,
	})

	templateCatalog := sqlstore.NewTemplateCatalog(metaPool, logger)

	var telemetryEmitter telemetry.Emitter = telemetry.Noop{}
	if cfg.Pipeline.EnableInstrumentation {
		pub, err := telemetry.NewPublisher(cfg.NATS, logger)
		if err != nil {
			logger.Warn("failed to initialize telemetry publisher, continuing without instrumentation", slog.Any("error", err))
		} else {
			telemetryEmitter = pub
			closers = append(closers, func() { pub.Close() })
		}
	}

	deps := coordinator.Dependencies{
		TemplateSearch: templatesearch.New(templatesearch.Config{
			Store:     templateCatalog,
			Embedder:  llmClient,
			Logger:    logger,
			Threshold: cfg.Pipeline.TemplateMatchThreshold,
		}),
		ParamExtract: paramextract.New(paramextract.Config{
			LLM:           llmClient,
			AllowedValues: allowedValues,
			Logger:        logger,
		}),
		QueryBuild: querybuilder.New(querybuilder.Config{
			LLM:      llmClient,
			Metadata: tableCatalog,
			Logger:   logger,
		}),
		Executor:      executor,
		AllowedTables: allowedTables,
		Thresholds: coordinator.Thresholds{
			TemplateMatch:     cfg.Pipeline.TemplateMatchThreshold,
			DynamicConfidence: cfg.Pipeline.DynamicConfidenceThreshold,
			ConfirmLow:        cfg.Pipeline.ConfirmLow,
			ConfirmHigh:       cfg.Pipeline.ConfirmHigh,
			MaxDisplayColumns: cfg.Pipeline.MaxDisplayColumns,
		},
		LLM:       llmClient,
		Logger:    logger,
		Telemetry: telemetryEmitter,
		TemplateByID: func(id string) (models.QueryTemplate, bool) {
			lookupCtx, lookupCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer lookupCancel()
			tmpl, ok, err := templateCatalog.GetByID(lookupCtx, id)
			if err != nil {
				logger.Warn("template lookup failed", slog.String("template_id", id), slog.Any("error", err))
				return models.QueryTemplate{}, false
			}
			return tmpl, ok
		},
	}

	return deps, cleanup, nil
}
