package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raihanakbr/iat-relay/internal/audio"
	"github.com/raihanakbr/iat-relay/internal/capture"
	"github.com/raihanakbr/iat-relay/internal/config"
	"github.com/raihanakbr/iat-relay/internal/iat"
	"github.com/raihanakbr/iat-relay/internal/metrics"
	"github.com/raihanakbr/iat-relay/internal/signing"
	"github.com/raihanakbr/iat-relay/internal/websocket"
)

const (
	serviceName     = "iat-relay"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to optional YAML configuration file")
	flag.Parse()

	// Load environment variables from .env if present
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("No .env file found; using system environment variables")
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("config_path", *configPath),
		slog.String("address", cfg.Server.Address),
		slog.String("host_url", cfg.IAT.HostURL),
		slog.Bool("simulated", cfg.IAT.Simulated),
		slog.String("audio_source", cfg.Audio.Source),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(registry)

	var factory iat.Factory
	if cfg.IAT.Simulated {
		factory = iat.NewSimulatedFactory(iat.DefaultSimulation, logger)
		logger.Warn("Simulated mode enabled, no audio is sent upstream")
	} else {
		signer := signing.NewSigner(cfg.IAT.APIKey, cfg.IAT.APISecret)
		factory = iat.NewFactory(cfg.IAT.ClientConfig(), signer, nil, logger, appMetrics)
	}

	gateway := websocket.NewGateway(websocket.Options{
		Factory:    factory,
		Normalizer: audio.NewNormalizer(audio.WAVTranscoder{}, logger),
		Simulation: iat.DefaultSimulation,
		NewSource: func() (capture.Source, error) {
			return capture.New(cfg.Audio.Source, cfg.Audio.File, logger)
		},
		Logger:  logger,
		Metrics: appMetrics,
	})

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	gateway.Routes(r)

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("address", cfg.Server.Address),
			slog.String("websocket", "/ws?"+websocket.ConnectionIDParam+"=<id>"),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		logger.Error("HTTP server failed", slog.String("error", err.Error()))
	}

	logger.Info("Starting graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error closing sessions", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}
