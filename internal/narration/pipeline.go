// Package narration implements the long-form text-to-speech pipeline: text is
// normalized and split into context-carrying chunks, every chunk is rendered
// through the external engine and judged by acoustic quality control with
// bounded regeneration, the injected context is trimmed back out of each
// rendering, and the surviving audio is stitched into one continuous
// waveform.
package narration

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/narration/chunk"
	"github.com/book-expert/narration-service/internal/narration/qc"
	"github.com/book-expert/narration-service/internal/narration/stitch"
	"github.com/book-expert/narration-service/internal/narration/text"
	"github.com/book-expert/narration-service/internal/narration/trim"
	"github.com/book-expert/narration-service/internal/observability"
	"github.com/book-expert/narration-service/internal/pcm"
)

// ErrEmptyText indicates a narration request with no speakable text.
var ErrEmptyText = errors.New("text cannot be empty")

// Config carries the pipeline's behavior knobs.
type Config struct {
	// ChunkingEnabled splits long text into context-carrying chunks. When
	// off, the whole text goes to the engine as one chunk.
	ChunkingEnabled bool

	// GenerationBatch caps concurrent engine calls; zero or less uses the
	// default of 10.
	GenerationBatch int

	// MaxNewTokens is forwarded to the engine on every request.
	MaxNewTokens int

	// SceneDescription optionally conditions the engine's rendering. It
	// also serves as the prosody context: the voice profile cache is keyed
	// by (voice, prosody context), and the scene description is that
	// context for every chunk of a run.
	SceneDescription string

	// Defaults fill zero-valued job parameters.
	Defaults core.JobParameters
}

// Pipeline turns raw text into one merged narration. It implements
// core.Narrator.
type Pipeline struct {
	cfg        Config
	engine     core.SpeechEngine
	controller *Controller
	normalizer *text.Normalizer
	trimmer    *trim.Trimmer
	stitcher   *stitch.Stitcher
	voices     *VoiceProfileCache
	metrics    *observability.Metrics
	log        *logger.Logger
}

// New wires a Pipeline. The aligner and transcriber are auxiliary and may be
// nil: trimming then always uses the duration estimate and gibberish
// validation is skipped. A nil metrics disables instrumentation.
func New(
	cfg Config,
	engine core.SpeechEngine,
	aligner core.Aligner,
	transcriber core.Transcriber,
	metrics *observability.Metrics,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		engine:     engine,
		controller: NewController(engine, transcriber, log, metrics, cfg.GenerationBatch),
		normalizer: text.NewNormalizer(),
		trimmer:    trim.New(aligner, log),
		stitcher:   stitch.New(log),
		voices:     NewVoiceProfileCache(nil),
		metrics:    metrics,
		log:        log,
	}
}

// Defaults returns the configured job parameter defaults.
func (p *Pipeline) Defaults() core.JobParameters {
	return p.cfg.Defaults
}

// Narrate renders the input text as one merged waveform. It returns a result
// whenever at least one chunk produced audio; the only fatal generation
// outcome is every chunk failing.
func (p *Pipeline) Narrate(
	ctx context.Context,
	input string,
	params core.JobParameters,
) (*core.NarrationResult, error) {
	started := time.Now()

	result, err := p.narrate(ctx, input, params)
	if err != nil {
		p.metrics.RecordRun(observability.RunOutcomeFailed, time.Since(started))

		return nil, err
	}

	p.metrics.RecordRun(observability.RunOutcomeOK, time.Since(started))

	return result, nil
}

func (p *Pipeline) narrate(
	ctx context.Context,
	input string,
	params core.JobParameters,
) (*core.NarrationResult, error) {
	normalized := p.normalizer.Normalize(input)
	if normalized == "" {
		return nil, ErrEmptyText
	}

	params = p.mergeDefaults(params)

	healthErr := p.engine.HealthCheck(ctx)
	if healthErr != nil {
		return nil, fmt.Errorf("engine health check failed: %w", healthErr)
	}

	chunks := p.chunksFor(normalized)

	p.log.Info(
		"narrating %d characters as %d chunks",
		utf8.RuneCountInString(normalized), len(chunks),
	)

	outcome, err := p.controller.Run(ctx, chunks, p.baseRequest(params))
	if err != nil {
		return nil, err
	}

	p.trimAll(ctx, outcome.Results)

	merged, manifest, err := p.stitchResults(outcome.Results)
	if err != nil {
		return nil, err
	}

	p.observeVoice(params.Voice, outcome.Reference)

	return buildResult(outcome, merged, manifest), nil
}

// chunksFor splits the normalized text, or wraps it whole when chunking is
// switched off.
func (p *Pipeline) chunksFor(normalized string) []chunk.TextChunk {
	if !p.cfg.ChunkingEnabled {
		return []chunk.TextChunk{chunk.Single(normalized)}
	}

	return chunk.Split(normalized)
}

// mergeDefaults fills zero-valued job parameters from the configured
// defaults.
func (p *Pipeline) mergeDefaults(params core.JobParameters) core.JobParameters {
	defaults := p.cfg.Defaults

	if params.Voice == "" {
		params.Voice = defaults.Voice
	}

	if params.Seed == 0 {
		params.Seed = defaults.Seed
	}

	if params.NGL == 0 {
		params.NGL = defaults.NGL
	}

	if params.TopK == 0 {
		params.TopK = defaults.TopK
	}

	if params.TopP == 0 {
		params.TopP = defaults.TopP
	}

	if params.RepetitionPenalty == 0 {
		params.RepetitionPenalty = defaults.RepetitionPenalty
	}

	if params.Temperature == 0 {
		params.Temperature = defaults.Temperature
	}

	return params
}

// baseRequest is the request every chunk shares; only the text and the
// prosody hint vary per chunk.
func (p *Pipeline) baseRequest(params core.JobParameters) core.SpeechRequest {
	return core.SpeechRequest{
		Text:              "",
		Voice:             params.Voice,
		SceneDescription:  p.cfg.SceneDescription,
		ProsodyHint:       "",
		Seed:              params.Seed,
		NGL:               params.NGL,
		TopK:              params.TopK,
		MaxNewTokens:      p.cfg.MaxNewTokens,
		TopP:              params.TopP,
		RepetitionPenalty: params.RepetitionPenalty,
		Temperature:       params.Temperature,
	}
}

// trimAll removes the injected context from every successful rendering.
// Trimming never fails a run: on error the original audio is kept.
func (p *Pipeline) trimAll(ctx context.Context, results []*GenerationResult) {
	for _, result := range results {
		if !result.Succeeded() {
			continue
		}

		outcome, err := p.trimmer.TrimContext(ctx, result.Audio, result.Chunk)
		if err != nil {
			p.log.Warn(
				"chunk %d: context trim failed, keeping original audio: %v",
				result.Chunk.Order, err,
			)

			result.TrimmedAudio = result.Audio
			result.TrimmedDuration = result.Duration

			continue
		}

		result.TrimmedAudio = outcome.Audio
		result.ContextDurationTrimmed = outcome.TrimmedSeconds
		result.TrimmedDuration = outcome.RemainingSeconds

		if result.TrimmedDuration <= 0 {
			result.TrimmedDuration = result.Duration
		}
	}
}

// stitchResults concatenates the trimmed audio of every successful chunk in
// order and returns the merged result with the contributing chunk IDs.
func (p *Pipeline) stitchResults(
	results []*GenerationResult,
) (*stitch.Result, []string, error) {
	buffers := make([][]byte, 0, len(results))
	manifest := make([]string, 0, len(results))

	for _, result := range results {
		if !result.Succeeded() {
			continue
		}

		buffers = append(buffers, result.TrimmedAudio)
		manifest = append(manifest, result.Chunk.ID)
	}

	merged, err := p.stitcher.Concatenate(buffers)
	if err != nil {
		return nil, nil, fmt.Errorf("stitching failed: %w", err)
	}

	for _, boundary := range merged.Boundaries {
		p.metrics.RecordCrossfade(boundary.Curve)
	}

	return merged, manifest, nil
}

// observeVoice folds the run's reference analysis into the voice profile
// cache and warns when the voice drifted from its accumulated profile. The
// scene description serves as the prosody context half of the cache key.
func (p *Pipeline) observeVoice(voice string, reference *qc.Analysis) {
	if reference == nil {
		return
	}

	cached, ok := p.voices.Lookup(voice, p.cfg.SceneDescription)
	if ok {
		similarity := qc.VoiceSimilarity(reference, &cached)
		if similarity < qc.VoiceSimilarityThreshold {
			p.log.Warn(
				"voice %q drifted from its cached profile (similarity %.3f)",
				voice, similarity,
			)
		}
	}

	p.voices.Observe(voice, p.cfg.SceneDescription, reference)
}

func buildResult(
	outcome *RunOutcome,
	merged *stitch.Result,
	manifest []string,
) *core.NarrationResult {
	usage := 0
	regenerated := 0
	belowQuality := 0

	for _, result := range outcome.Results {
		usage += result.UsageTokens

		if result.RegenerationAttempts > 1 {
			regenerated++
		}

		if result.BelowQuality() {
			belowQuality++
		}
	}

	return &core.NarrationResult{
		Audio:         merged.Audio,
		ChunkManifest: manifest,
		Duration:      merged.Seconds,
		SampleRate:    pcm.DefaultSampleRate,
		ChunkCount:    len(outcome.Results),
		UsageTokens:   usage,
		Regenerated:   regenerated,
		BelowQuality:  belowQuality,
	}
}
