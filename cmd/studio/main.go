// Package main is the entry point for the studio service.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helixsec/studio-go/internal/api"
	"github.com/helixsec/studio-go/internal/catalog"
	"github.com/helixsec/studio-go/internal/config"
	"github.com/helixsec/studio-go/internal/engine"
	"github.com/helixsec/studio-go/internal/eventbus"
	"github.com/helixsec/studio-go/internal/flowstore"
	"github.com/helixsec/studio-go/internal/history"
	"github.com/helixsec/studio-go/internal/metrics"
	"github.com/helixsec/studio-go/internal/prefs"
	"github.com/helixsec/studio-go/internal/runservice"
	"github.com/helixsec/studio-go/internal/schedule"
	"github.com/helixsec/studio-go/internal/session"
	"github.com/helixsec/studio-go/internal/tracing"
	"github.com/helixsec/studio-go/internal/validator"
	"github.com/helixsec/studio-go/pkg/types"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting studio",
		slog.String("port", cfg.Port),
		slog.String("store", cfg.StoreType),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tracer, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "helixsec-studio",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Event bus, optionally bridged to Redis so external engines can
	// feed this console.
	bus := eventbus.New(logger)
	defer bus.Close()

	// Stores based on configuration, with fallback to memory.
	var flows flowstore.Store
	var histories history.Store
	switch cfg.StoreType {
	case "redis":
		redisFlows, err := flowstore.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory stores", "error", err)
			flows = flowstore.NewMemoryStore()
			histories = history.NewMemoryStore()
			break
		}
		flows = redisFlows
		redisHist, err := history.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to connect to Redis for history, falling back to memory", "error", err)
			histories = history.NewMemoryStore()
		} else {
			histories = redisHist
		}
		logger.Info("using Redis stores", slog.String("addr", cfg.RedisAddr))

		bridge, err := eventbus.NewRedisBridge(cfg.RedisAddr, bus, logger)
		if err != nil {
			logger.Warn("event bridge unavailable", "error", err)
		} else {
			bridge.Start(ctx)
			defer bridge.Close()
		}
	default:
		flows = flowstore.NewMemoryStore()
		histories = history.NewMemoryStore()
		logger.Info("using in-memory stores")
	}
	defer flows.Close()
	defer histories.Close()

	// Node type catalog
	var source catalog.Source
	switch cfg.CatalogSource {
	case "redis":
		redisSource, err := catalog.NewRedisSource(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to connect to Redis catalog, using builtin", "error", err)
			source = catalog.NewBuiltinSource()
		} else {
			source = redisSource
		}
	default:
		source = catalog.NewBuiltinSource()
	}
	cat := catalog.New(source)
	if err := cat.Refresh(ctx); err != nil {
		logger.Error("failed to load node catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("catalog loaded", slog.Int("node_types", cat.Len()))

	// Preferences
	p, err := prefs.Open(cfg.PrefsPath, logger)
	if err != nil {
		logger.Error("failed to open preferences", "error", err, "path", cfg.PrefsPath)
		os.Exit(1)
	}

	// Execution tracking: tracker consumes bus events, finished runs
	// land in the history store.
	tracker := session.NewTracker(logger, nil, histories)
	sessionBridge := session.NewBridge(bus, tracker)
	go sessionBridge.Run(ctx)

	go watchMetrics(ctx, bus)

	// Validation and execution
	v := validator.New(cat)
	eng := engine.New(bus, engine.DefaultRegistry(logger), logger)
	runs := runservice.New(flows, v, eng, tracker, p, cfg.EngineMaxConcurrentRuns, logger)

	// Schedules
	scheds := schedule.NewManager(runs, bus, logger)
	defer scheds.Close()

	// HTTP server
	handlers := api.NewHandlers(api.HandlerDeps{
		Flows:     flows,
		Histories: histories,
		Catalog:   cat,
		Validator: v,
		Runs:      runs,
		Tracker:   tracker,
		Schedules: scheds,
		Bus:       bus,
		Prefs:     p,
		Config:    cfg,
		Logger:    logger,
	})
	server := api.NewServer(handlers)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// watchMetrics records run and step metrics off the event stream.
func watchMetrics(ctx context.Context, bus *eventbus.Bus) {
	sub := bus.Subscribe(eventbus.DefaultBuffer)
	defer sub.Unsubscribe()

	starts := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			metrics.EventsTotal.WithLabelValues(string(e.Type)).Inc()

			switch e.Type {
			case types.EventRunStart:
				starts[e.ExecutionID] = e.Timestamp
				metrics.RunsActive.Inc()
			case types.EventStepComplete:
				status := "completed"
				var data types.StepCompleteData
				if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil && data.Failed {
					status = "failed"
				}
				metrics.StepsTotal.WithLabelValues(status).Inc()
			case types.EventRunComplete, types.EventRunStop:
				status := string(types.RunStatusCompleted)
				if e.Type == types.EventRunStop {
					status = string(types.RunStatusCancelled)
					var data types.RunStopData
					if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil && data.Status != "" {
						status = string(data.Status)
					}
				}
				metrics.RunsTotal.WithLabelValues(status).Inc()
				if start, ok := starts[e.ExecutionID]; ok {
					metrics.RunDuration.WithLabelValues(status).Observe(e.Timestamp.Sub(start).Seconds())
					delete(starts, e.ExecutionID)
					metrics.RunsActive.Dec()
				}
			}
		}
	}
}
