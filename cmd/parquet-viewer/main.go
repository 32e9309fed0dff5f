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

	"github.com/XiangpengHao/parquet-viewer/internal/api"
	"github.com/XiangpengHao/parquet-viewer/internal/auth"
	"github.com/XiangpengHao/parquet-viewer/internal/cache"
	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
	"github.com/XiangpengHao/parquet-viewer/internal/config"
	"github.com/XiangpengHao/parquet-viewer/internal/engine"
	"github.com/XiangpengHao/parquet-viewer/internal/fetch"
	"github.com/XiangpengHao/parquet-viewer/internal/metrics"
	"github.com/XiangpengHao/parquet-viewer/internal/nl2sql"
	"github.com/XiangpengHao/parquet-viewer/internal/observability"
	"github.com/XiangpengHao/parquet-viewer/internal/session"
	"github.com/XiangpengHao/parquet-viewer/internal/source"
)

func main() {
	cfg, err := config.LoadFromEnv("parquet-viewer")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerOptions{
		Service: cfg.Service.Name,
		Profile: string(cfg.Profile),
		Level:   cfg.Observability.LogLevel,
		JSON:    cfg.Observability.LogJSON,
	}, os.Stdout)

	rangeCache, err := cache.New(cfg.Cache.MaxBytes, cfg.Cache.SlackBytes)
	if err != nil {
		logger.Error("failed to initialize range cache", slog.Any("error", err))
		os.Exit(1)
	}
	collector := metrics.NewCollector()
	cat := catalog.New(catalog.Config{
		S3: fetch.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseSSL:          cfg.S3.UseSSL,
		},
		HTTPTimeout:  cfg.Fetch.HTTPTimeout,
		MaxRetries:   cfg.Fetch.MaxRetries,
		RetryBackoff: cfg.Fetch.RetryBackoff,
	}, rangeCache, collector)
	executor := engine.New(logger, cfg.Query.BatchSize)
	sess := session.New(logger, cat, executor, cfg.Query.MaxRows)

	var translator nl2sql.Translator
	if cfg.AI.TranslateEnabled {
		translator, err = nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
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
	}

	deps := api.Dependencies{
		Logger:     logger,
		Catalog:    cat,
		Session:    sess,
		Collector:  collector,
		Translator: translator,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	if cfg.OpenURL != "" {
		desc, err := source.FromURL(cfg.OpenURL)
		if err != nil {
			logger.Error("failed to parse open url", slog.String("url", cfg.OpenURL), slog.Any("error", err))
			os.Exit(1)
		}
		openCtx, cancel := context.WithTimeout(context.Background(), cfg.Fetch.HTTPTimeout)
		table, err := cat.Register(openCtx, desc, "")
		cancel()
		if err != nil {
			logger.Error("failed to register open url", slog.String("url", cfg.OpenURL), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("registered startup source",
			slog.String("table", table.Name),
			slog.Int64("file_size", table.Summary.FileSize),
			slog.Int64("rows", table.Summary.RowCount),
		)
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
