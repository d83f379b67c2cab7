// Command narrate renders a text file or an inline string as one narrated
// WAV using the configured speech engine. It is a local smoke-testing tool;
// the NATS worker in cmd/narration-service is the production entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/format"
	"github.com/book-expert/narration-service/internal/narration"
	"github.com/book-expert/narration-service/internal/narration/align"
	"github.com/book-expert/narration-service/internal/narration/engine"
	"github.com/book-expert/narration-service/internal/narration/stt"
)

// Flag descriptions.
const (
	flagTextDesc    = "Text to narrate"
	flagFileDesc    = "Text file to narrate (.txt, .md, ...)"
	flagOutputDesc  = "Output file path (.wav)"
	flagVoiceDesc   = "Voice override (defaults to the configured voice)"
	flagVerboseDesc = "Enable verbose logging"
	flagHealthDesc  = "Check engine health and exit"
)

// Flag names.
const (
	flagText    = "text"
	flagFile    = "file"
	flagOutput  = "output"
	flagVoice   = "voice"
	flagVerbose = "verbose"
	flagHealth  = "health"
)

// File names and limits.
const (
	logFileNameDefault = "narrate.log"
	logFileNameVerbose = "narrate-verbose.log"
	defaultOutputFile  = "narration.wav"
	outputFileMode     = 0o644
	healthCheckTimeout = 10 * time.Second
)

var (
	// ErrEitherTextOrFile indicates that neither input flag was provided.
	ErrEitherTextOrFile = errors.New("either --text or --file must be provided")
	// ErrCannotSpecifyBoth indicates that both input flags were provided.
	ErrCannotSpecifyBoth = errors.New("cannot specify both --text and --file")
	// ErrNotTextFile indicates that the input file extension is not a
	// recognized text format.
	ErrNotTextFile = errors.New("input file is not a recognized text format")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text    string
	file    string
	output  string
	voice   string
	verbose bool
	health  bool
}

func main() {
	err := run()
	if err != nil {
		// The logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	appLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		closeErr := appLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	cfg, err := config.Load(appLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineClient := engine.NewClient(
		cfg.Engine.BaseURL, time.Duration(cfg.Engine.TimeoutSeconds)*time.Second,
	)

	if flags.health {
		return handleHealthCheck(ctx, engineClient)
	}

	return handleExecution(ctx, cfg, engineClient, appLog, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.file, flagFile, "", flagFileDesc)
	flag.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flag.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flag.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.Parse()

	return flags
}

// handleHealthCheck probes the engine's health endpoint and prints the result.
func handleHealthCheck(ctx context.Context, engineClient *engine.Client) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := engineClient.HealthCheck(healthCtx)
	if err != nil {
		fmt.Printf("Engine is not healthy: %v\n", err)

		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("Engine is healthy")

	return nil
}

// handleExecution validates the input flags, narrates the text and writes the
// merged WAV to the output path.
func handleExecution(
	ctx context.Context,
	cfg *config.Config,
	engineClient *engine.Client,
	appLog *logger.Logger,
	flags appFlags,
) error {
	err := validateInputFlags(flags)
	if errors.Is(err, ErrEitherTextOrFile) {
		flag.Usage()
	}

	if err != nil {
		return err
	}

	text, err := readInput(flags)
	if err != nil {
		return err
	}

	pipeline := narration.New(
		pipelineConfig(cfg),
		engineClient,
		alignerFor(cfg),
		transcriberFor(cfg),
		nil,
		appLog,
	)

	result, err := pipeline.Narrate(ctx, text, core.JobParameters{
		Voice:             flags.voice,
		Seed:              0,
		NGL:               0,
		TopK:              0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       0,
	})
	if err != nil {
		return fmt.Errorf("failed to narrate text: %w", err)
	}

	outputPath := outputPathFor(flags)

	err = os.WriteFile(outputPath, result.Audio, outputFileMode)
	if err != nil {
		return fmt.Errorf("failed to write output file %q: %w", outputPath, err)
	}

	appLog.Info(
		"narrated %d chunks, %d regenerated, %d below quality",
		result.ChunkCount, result.Regenerated, result.BelowQuality,
	)
	fmt.Printf(
		"Generated: %s (%s of audio, %s)\n",
		outputPath,
		format.Duration(result.Duration),
		format.FileSize(int64(len(result.Audio))),
	)

	return nil
}

// validateInputFlags ensures exactly one input source was provided.
func validateInputFlags(flags appFlags) error {
	if flags.text == "" && flags.file == "" {
		return ErrEitherTextOrFile
	}

	if flags.text != "" && flags.file != "" {
		return ErrCannotSpecifyBoth
	}

	return nil
}

// readInput returns the text to narrate, from the inline flag or a text file.
func readInput(flags appFlags) (string, error) {
	if flags.text != "" {
		return flags.text, nil
	}

	if !format.IsTextFile(flags.file) {
		return "", fmt.Errorf("%w: %s", ErrNotTextFile, flags.file)
	}

	data, err := os.ReadFile(flags.file)
	if err != nil {
		return "", fmt.Errorf("failed to read input file %q: %w", flags.file, err)
	}

	return string(data), nil
}

// outputPathFor derives the output path: the explicit flag when given, a
// sanitized input file name otherwise, and a fixed default for inline text.
func outputPathFor(flags appFlags) string {
	if flags.output != "" {
		return flags.output
	}

	if flags.file == "" {
		return defaultOutputFile
	}

	base := filepath.Base(flags.file)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	return format.SanitizeFilename(base) + ".wav"
}

// pipelineConfig maps the loaded configuration onto the pipeline's own
// config type, mirroring the service entrypoint.
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

func alignerFor(cfg *config.Config) core.Aligner {
	if !cfg.Alignment.Enabled {
		return nil
	}

	return align.NewClient(
		cfg.Alignment.BaseURL, time.Duration(cfg.Alignment.TimeoutSeconds)*time.Second,
	)
}

func transcriberFor(cfg *config.Config) core.Transcriber {
	if !cfg.STT.Enabled {
		return nil
	}

	return stt.NewClient(
		cfg.STT.BaseURL, time.Duration(cfg.STT.TimeoutSeconds)*time.Second,
	)
}
