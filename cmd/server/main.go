package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jgbrblmd/seed-vc/internal/artifacts"
	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/config"
	"github.com/jgbrblmd/seed-vc/internal/convert"
	"github.com/jgbrblmd/seed-vc/internal/engine"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
	"github.com/jgbrblmd/seed-vc/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "seed-vc-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.Address),
		slog.String("engine_endpoint", cfg.Engine.Endpoint),
		slog.String("engine_precision", cfg.Engine.Precision),
		slog.Int("engine_max_seq_len", cfg.Engine.MaxSeqLen),
		slog.Int("admission_max_concurrent", cfg.Admission.MaxConcurrent),
		slog.Int("admission_queue_depth", cfg.Admission.QueueDepth),
		slog.String("artifacts_dir", cfg.Artifacts.Dir),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Artifacts directory holds temp inputs and conversion outputs
	if err := os.MkdirAll(cfg.Artifacts.Dir, 0755); err != nil {
		logger.Error("Failed to create artifacts directory",
			slog.String("dir", cfg.Artifacts.Dir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Initialize artifact registry
	registry := artifacts.NewRegistry(artifacts.RegistryConfig{
		TTL:           cfg.Artifacts.GetTTLDuration(),
		SweepInterval: cfg.Artifacts.GetSweepIntervalDuration(),
		MaxEntries:    cfg.Artifacts.MaxEntries,
	}, logger, appMetrics)
	logger.Info("Artifact registry initialized",
		slog.Duration("ttl", cfg.Artifacts.GetTTLDuration()),
		slog.Int("max_entries", cfg.Artifacts.MaxEntries),
	)

	// Initialize audio tooling
	prober := audio.NewProber(cfg.Audio.FFprobePath)
	encoder := audio.NewEncoder(audio.EncoderConfig{
		FFmpegPath:    cfg.Audio.FFmpegPath,
		MP3Bitrate:    cfg.Audio.MP3Bitrate,
		OggCodec:      cfg.Audio.OggCodec,
		NormalizePeak: cfg.Audio.NormalizePeak,
		Timeout:       cfg.Audio.GetEncodeTimeoutDuration(),
	}, logger)

	// Initialize engine client
	remote, err := engine.NewRemote(engine.RemoteConfig{
		Endpoint:      cfg.Engine.Endpoint,
		Timeout:       cfg.Engine.GetTimeoutDuration(),
		MaxRetries:    cfg.Engine.MaxRetries,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create engine client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Size the engine's decode caches before accepting any work
	prepareCtx, prepareCancel := context.WithTimeout(ctx, 2*time.Minute)
	err = remote.Prepare(prepareCtx, engine.PrepareParams{
		MaxBatch:  cfg.Engine.MaxBatch,
		MaxSeqLen: cfg.Engine.MaxSeqLen,
		Precision: cfg.Engine.Precision,
	})
	prepareCancel()
	if err != nil {
		logger.Error("Failed to prepare engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Engine prepared",
		slog.String("backend", remote.Backend()),
		slog.Int("max_seq_len", cfg.Engine.MaxSeqLen),
		slog.String("precision", cfg.Engine.Precision),
	)

	// Serialize engine access and bound request concurrency
	gate := engine.NewGate(remote, engine.GateConfig{
		MaxSeqLen:       cfg.Engine.MaxSeqLen,
		TokensPerSecond: cfg.Engine.TokensPerSecond,
	}, logger, appMetrics)
	admission := convert.NewAdmission(convert.AdmissionConfig{
		MaxConcurrent: cfg.Admission.MaxConcurrent,
		QueueDepth:    cfg.Admission.QueueDepth,
		QueueWait:     cfg.Admission.GetQueueWaitDuration(),
	}, appMetrics)

	// Assemble the conversion pipeline
	resolver := convert.NewResolver(prober, cfg.Artifacts.Dir)
	orchestrator := convert.NewOrchestrator(gate, resolver, encoder, admission,
		registry, cfg.Artifacts.Dir, logger, appMetrics)

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, orchestrator, gate, remote,
		admission, registry, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop the artifact registry (removes remaining output files)
	registry.Stop()

	// Close the engine client
	if err := remote.Close(); err != nil {
		logger.Error("Error closing engine client", slog.String("error", err.Error()))
	}

	// Get final statistics
	gateStats := gate.GetStats()
	remoteStats := remote.GetStats()
	admissionStats := admission.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("conversions_admitted", gateStats.TotalAdmitted),
		slog.Uint64("capacity_rejected", gateStats.CapacityRejected),
		slog.Uint64("requests_rejected", admissionStats.TotalRejected),
		slog.Uint64("engine_requests", remoteStats.TotalRequests),
		slog.Uint64("engine_failures", remoteStats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
