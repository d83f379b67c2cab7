// main package for the narration-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/narration"
	"github.com/book-expert/narration-service/internal/narration/align"
	"github.com/book-expert/narration-service/internal/narration/engine"
	"github.com/book-expert/narration-service/internal/narration/stt"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/observability"
	"github.com/book-expert/narration-service/internal/worker"
)

const (
	defaultMetricsNamespace = "narration"
	adminShutdownTimeout    = 5 * time.Second
	adminReadHeaderTimeout  = 5 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "narration-service-bootstrap.log")
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "narration-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, finalLog)
}

// runService wires the NATS transport, object stores, pipeline and worker
// together and blocks until a shutdown signal arrives.
func runService(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("acquire JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("create text object store: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("create audio object store: %w", err)
	}

	engineClient := engine.NewClient(
		cfg.Engine.BaseURL, time.Duration(cfg.Engine.TimeoutSeconds)*time.Second,
	)

	pipeline := narration.New(
		pipelineConfig(cfg),
		engineClient,
		alignerFor(cfg),
		transcriberFor(cfg),
		observability.NewMetrics(metricsNamespace(cfg)),
		log,
	)

	narrationWorker := worker.New(
		natsConnection,
		cfg.NATS.TextProcessedSubject,
		textStore,
		audioStore,
		pipeline,
		log,
	)

	adminServer := startAdminServer(cfg, engineClient, log)
	defer shutdownAdminServer(adminServer, log)

	log.System(
		"Narration service initialized. Listening for jobs on subject: %s",
		cfg.NATS.TextProcessedSubject,
	)

	err = narrationWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("run narration worker: %w", err)
	}

	return nil
}

// pipelineConfig maps the loaded configuration onto the pipeline's own
// config type. Engine defaults become the fallback job parameters.
func pipelineConfig(cfg *config.Config) narration.Config {
	return narration.Config{
		ChunkingEnabled:  cfg.Pipeline.ChunkingEnabled,
		GenerationBatch:  cfg.Pipeline.GenerationBatch,
		MaxNewTokens:     cfg.Engine.MaxNewTokens,
		SceneDescription: cfg.Engine.SceneDescription,
		Defaults: core.JobParameters{
			Voice:             cfg.Engine.Voice,
			Seed:              cfg.Engine.Seed,
			NGL:               cfg.Engine.NGL,
			TopK:              cfg.Engine.TopK,
			TopP:              cfg.Engine.TopP,
			RepetitionPenalty: cfg.Engine.RepetitionPenalty,
			Temperature:       cfg.Engine.Temperature,
		},
	}
}

// alignerFor returns nil when alignment is disabled; the trimmer then falls
// back to duration estimates.
func alignerFor(cfg *config.Config) core.Aligner {
	if !cfg.Alignment.Enabled {
		return nil
	}

	return align.NewClient(
		cfg.Alignment.BaseURL, time.Duration(cfg.Alignment.TimeoutSeconds)*time.Second,
	)
}

// transcriberFor returns nil when speech-to-text verification is disabled;
// audio that passes the acoustic checks is then accepted without a
// transcription cross-check.
func transcriberFor(cfg *config.Config) core.Transcriber {
	if !cfg.STT.Enabled {
		return nil
	}

	return stt.NewClient(
		cfg.STT.BaseURL, time.Duration(cfg.STT.TimeoutSeconds)*time.Second,
	)
}

func metricsNamespace(cfg *config.Config) string {
	if cfg.Observability.MetricsNamespace == "" {
		return defaultMetricsNamespace
	}

	return cfg.Observability.MetricsNamespace
}

// startAdminServer serves liveness, readiness and metrics endpoints. A blank
// listen address disables the admin surface.
func startAdminServer(
	cfg *config.Config,
	engineClient *engine.Client,
	log *logger.Logger,
) *http.Server {
	if cfg.Observability.ListenAddress == "" {
		return nil
	}

	server := &http.Server{
		Addr:              cfg.Observability.ListenAddress,
		Handler:           observability.NewAdminRouter(engineClient.HealthCheck),
		ReadHeaderTimeout: adminReadHeaderTimeout,
	}

	go func() {
		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error("Admin server failed: %v", serveErr)
		}
	}()

	log.Info("Admin server listening on %s", cfg.Observability.ListenAddress)

	return server
}

func shutdownAdminServer(server *http.Server, log *logger.Logger) {
	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(ctx)
	if shutdownErr != nil {
		log.Error("Admin server shutdown failed: %v", shutdownErr)
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
