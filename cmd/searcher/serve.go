package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/spadhi7/datahub/internal/analytics"
	"github.com/spadhi7/datahub/internal/search/handler"
	"github.com/spadhi7/datahub/pkg/config"
	"github.com/spadhi7/datahub/pkg/health"
	"github.com/spadhi7/datahub/pkg/kafka"
	"github.com/spadhi7/datahub/pkg/metrics"
	"github.com/spadhi7/datahub/pkg/middleware"
	"github.com/spadhi7/datahub/pkg/tracing"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP search API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Override the configured listen port",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if port := c.Int("port"); port > 0 {
				cfg.Server.Port = port
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	comps, err := buildComponents(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer comps.Close()

	if err := comps.docCounts.Refresh(ctx); err != nil {
		slog.Warn("initial doc count refresh failed", "error", err)
	}

	var tracker handler.Tracker
	var cacheAdmin handler.CacheAdmin
	var aggregator *analytics.Aggregator
	if comps.searchCache != nil {
		cacheAdmin = comps.searchCache
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 10000, 100, 5*time.Second)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector

		var invalidator analytics.CacheInvalidator
		if comps.searchCache != nil {
			invalidator = comps.searchCache
		}
		listener := analytics.NewInvalidationListener(comps.docCounts, invalidator)
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, listener.HandleIndexComplete)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("index-complete consumer stopped", "error", err)
			}
		}()

		aggregator = analytics.NewAggregator()
		eventConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, aggregator.HandleEvent)
		go func() {
			if err := eventConsumer.Start(ctx); err != nil {
				slog.Error("analytics consumer stopped", "error", err)
			}
		}()
		slog.Info("kafka wiring enabled",
			"analytics_topic", cfg.Kafka.Topics.AnalyticsEvents,
			"index_complete_topic", cfg.Kafka.Topics.IndexComplete,
		)
	}

	checker := health.NewChecker()
	comps.registerHealthChecks(checker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tracing.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(m))
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))
	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())
	handler.New(comps.service, cacheAdmin, tracker, cfg.Search).Routes(r)
	if aggregator != nil {
		r.Get("/api/v1/analytics", aggregator.StatsHandler)
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("search service listening", "addr", server.Addr, "entities", cfg.Search.Entities)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	slog.Info("search service stopped")
	return nil
}
