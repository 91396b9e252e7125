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

	"github.com/atlekbai/fhirpath_sql/internal/config"
	"github.com/atlekbai/fhirpath_sql/internal/db"
	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/handler"
	"github.com/atlekbai/fhirpath_sql/internal/schema"
	"github.com/atlekbai/fhirpath_sql/internal/server"
	"github.com/atlekbai/fhirpath_sql/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	d, err := dialect.Get(cfg.Dialect)
	if err != nil {
		return err
	}

	cache := schema.NewDefaultCache()

	compiler, err := service.NewCompiler(service.Options{
		Dialect:        d,
		Registry:       cache,
		Table:          cfg.Table,
		IDColumn:       cfg.IDColumn,
		ResourceColumn: cfg.ResourceColumn,
		MaxDepth:       cfg.MaxDepth,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// Only the postgres dialect can evaluate; other dialects serve
	// translation alone.
	var evaluator *service.Evaluator
	if d.Name() == "postgres" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		// Stored definitions replace the built-in ones when present.
		if err := cache.Load(ctx, pool); err != nil {
			logger.Warn("schema tables unavailable, using built-in definitions", "error", err)
		} else if cache.TypeCount() == 0 {
			cache.Merge(schema.DefaultTypes()...)
		}
		if evaluator, err = service.NewEvaluator(compiler, pool); err != nil {
			return err
		}
	}
	if cfg.SchemaFile != "" {
		if err := cache.LoadFile(cfg.SchemaFile); err != nil {
			return err
		}
	}
	logger.Info("schema cache loaded", "types", cache.TypeCount(), "dialect", d.Name())

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.NewRouter(handler.New(compiler, evaluator), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Addr())
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
