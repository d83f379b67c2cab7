package narration

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/narration/chunk"
	"github.com/book-expert/narration-service/internal/narration/qc"
	"github.com/book-expert/narration-service/internal/observability"
	"github.com/book-expert/narration-service/internal/pcm"
)

// Generation and regeneration tuning.
const (
	// MaxGenerationAttempts bounds engine calls per chunk, the first try
	// included.
	MaxGenerationAttempts = 3

	defaultGenerationBatch = 10

	secondAttemptTemperatureScale = 0.9
	thirdAttemptTemperatureScale  = 0.8
	thirdAttemptTopPScale         = 0.95

	// continuityProsodyHint is sent with every chunk after the first, the
	// only request field besides the text that varies within a run.
	continuityProsodyHint = "maintain consistent tone"
)

// ErrAllChunksFailed is the single fatal outcome of a run: not one chunk
// produced audio after all attempts.
var ErrAllChunksFailed = errors.New("all chunks failed to process")

// ErrNoChunks indicates a run was started with no chunks at all.
var ErrNoChunks = errors.New("no chunks to generate")

// GenerationResult is one chunk's rendered audio plus its quality outcome and
// what trimming later removed.
type GenerationResult struct {
	Chunk chunk.TextChunk

	Audio       []byte
	Duration    float64
	SampleRate  int
	UsageTokens int

	Analysis *qc.Analysis
	Quality  *qc.Result

	// RegenerationAttempts counts generation tries consumed; 1 means the
	// chunk passed on its first try.
	RegenerationAttempts int

	// Err is set only when no attempt produced audio.
	Err error

	TrimmedAudio           []byte
	TrimmedDuration        float64
	ContextDurationTrimmed float64
}

// Succeeded reports whether the chunk has usable audio.
func (r *GenerationResult) Succeeded() bool {
	return r.Err == nil && len(r.Audio) > 0
}

// Accepted reports whether the chunk's audio also passed quality control.
func (r *GenerationResult) Accepted() bool {
	return r.Succeeded() && r.Quality != nil && r.Quality.Passed
}

// BelowQuality reports whether the chunk was kept as a best attempt despite
// failing quality control.
func (r *GenerationResult) BelowQuality() bool {
	return r.Succeeded() && r.Quality != nil && !r.Quality.Passed
}

// RunOutcome carries one run's per-chunk results, ordered by chunk order, and
// the reference analysis the run was judged against.
type RunOutcome struct {
	Results   []*GenerationResult
	Reference *qc.Analysis
}

// Controller drives the generate, judge, regenerate cycle over a run's
// chunks. Generation is batched; judging and regeneration are sequential so
// the reference analysis is installed exactly once before any regeneration
// decision.
type Controller struct {
	engine      core.SpeechEngine
	transcriber core.Transcriber
	log         *logger.Logger
	metrics     *observability.Metrics
	batch       int
	freshSeed   func() int
}

// NewController creates a Controller. The transcriber may be nil, which
// disables gibberish validation. A batch of zero or less falls back to the
// default of 10 concurrent generations.
func NewController(
	engine core.SpeechEngine,
	transcriber core.Transcriber,
	log *logger.Logger,
	metrics *observability.Metrics,
	batch int,
) *Controller {
	if batch <= 0 {
		batch = defaultGenerationBatch
	}

	return &Controller{
		engine:      engine,
		transcriber: transcriber,
		log:         log,
		metrics:     metrics,
		batch:       batch,
		freshSeed:   func() int { return int(rand.Int32()) },
	}
}

// Run renders every chunk with the shared base request, judges all results
// against the run's reference analysis, and retries only the failures. A
// failed chunk is never dropped while any of its attempts produced audio: the
// best-scoring attempt is kept with its failure reason recorded.
func (c *Controller) Run(
	ctx context.Context,
	textChunks []chunk.TextChunk,
	base core.SpeechRequest,
) (*RunOutcome, error) {
	if len(textChunks) == 0 {
		return nil, ErrNoChunks
	}

	c.log.Info(
		"generating %d chunks (batch %d, voice %q, seed %d)",
		len(textChunks), c.batch, base.Voice, base.Seed,
	)

	results := c.generateAll(ctx, textChunks, base)

	cancelErr := ctx.Err()
	if cancelErr != nil {
		return nil, fmt.Errorf("generation cancelled: %w", cancelErr)
	}

	var reference *qc.Analysis

	c.judgeAll(ctx, results, &reference)
	c.regenerateFailures(ctx, results, base, &reference)

	succeeded := 0

	for _, result := range results {
		if result.Succeeded() {
			succeeded++
		}
	}

	if succeeded == 0 {
		return nil, ErrAllChunksFailed
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Chunk.Order < results[j].Chunk.Order
	})

	return &RunOutcome{Results: results, Reference: reference}, nil
}

// generateAll dispatches every chunk's first attempt, at most batch in
// flight, and collects all results before any is judged.
func (c *Controller) generateAll(
	ctx context.Context,
	textChunks []chunk.TextChunk,
	base core.SpeechRequest,
) []*GenerationResult {
	results := make([]*GenerationResult, len(textChunks))

	var wg sync.WaitGroup

	sem := make(chan struct{}, c.batch)

	for i := range textChunks {
		wg.Add(1)

		go func(position int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[position] = c.generateChunk(ctx, textChunks[position], base)
		}(i)
	}

	wg.Wait()

	return results
}

func (c *Controller) generateChunk(
	ctx context.Context,
	textChunk chunk.TextChunk,
	base core.SpeechRequest,
) *GenerationResult {
	if !textChunk.IsFirstChunk {
		textChunk.ProsodyHint = continuityProsodyHint
	}

	result := &GenerationResult{
		Chunk:                textChunk,
		RegenerationAttempts: 1,
	}

	speech, err := c.engine.GenerateSpeech(ctx, requestForChunk(base, textChunk))
	if err != nil {
		result.Err = fmt.Errorf("chunk %d generation failed: %w", textChunk.Order, err)
		c.log.Warn("chunk %d: generation failed: %v", textChunk.Order, err)

		return result
	}

	c.adoptSpeech(result, speech)

	return result
}

// adoptSpeech installs a successful engine response on the result and
// accounts its usage.
func (c *Controller) adoptSpeech(result *GenerationResult, speech *core.SpeechResult) {
	result.Audio = speech.Audio
	result.Duration = speech.Duration
	result.SampleRate = speech.SampleRate
	result.UsageTokens += speech.UsageTokens
	result.Err = nil

	c.metrics.RecordChunkSynthesized()
	c.metrics.RecordUsageTokens(speech.UsageTokens)
}

// judgeAll analyzes every successful result in chunk order. The first
// analysis computed becomes the run's reference and is never reassigned.
func (c *Controller) judgeAll(
	ctx context.Context,
	results []*GenerationResult,
	reference **qc.Analysis,
) {
	for _, result := range results {
		if !result.Succeeded() {
			continue
		}

		c.judge(ctx, result, reference)
	}
}

func (c *Controller) judge(
	ctx context.Context,
	result *GenerationResult,
	reference **qc.Analysis,
) {
	analysis, quality, seconds := c.evaluate(ctx, result.Audio, result.Chunk.Text, reference)

	result.Analysis = analysis
	result.Quality = quality

	if seconds > 0 {
		result.Duration = seconds
	}

	for _, checkResult := range quality.Checks {
		if !checkResult.Passed {
			c.metrics.RecordQualityFailure(checkResult.Name)
		}
	}

	if !quality.Passed {
		c.log.Warn(
			"chunk %d: quality control failed (score %.3f): %s",
			result.Chunk.Order, quality.OverallScore, quality.FailureReason,
		)
	}
}

// evaluate runs acoustic analysis and quality control on one rendering.
// Gibberish validation runs only after the acoustic checks pass; a validator
// outage is logged and the audio assumed valid.
func (c *Controller) evaluate(
	ctx context.Context,
	audio []byte,
	expectedText string,
	reference **qc.Analysis,
) (*qc.Analysis, *qc.Result, float64) {
	clip, err := pcm.Decode(audio)
	if err != nil {
		failed := &qc.Result{
			FailureReason: fmt.Sprintf("audio decode failed: %v", err),
			Checks:        nil,
			OverallScore:  0,
			Passed:        false,
		}

		return nil, failed, 0
	}

	analysis := qc.Analyze(clip)

	if *reference == nil {
		*reference = analysis
	}

	quality := qc.Evaluate(analysis, *reference)

	if quality.Passed && c.transcriber != nil {
		verdict, validationErr := c.transcriber.ValidateSpeech(ctx, audio, expectedText)

		switch {
		case validationErr != nil:
			c.log.Warn(
				"speech validation unavailable, assuming valid: %v",
				validationErr,
			)
		case !verdict.Passed:
			quality.MarkGibberish(verdict.Transcribed, verdict.Similarity)
		}
	}

	return analysis, quality, clip.Seconds()
}

// regenerateFailures retries, sequentially and in chunk order, every chunk
// that either failed generation or failed quality control.
func (c *Controller) regenerateFailures(
	ctx context.Context,
	results []*GenerationResult,
	base core.SpeechRequest,
	reference **qc.Analysis,
) {
	for _, result := range results {
		if result.Accepted() {
			continue
		}

		c.regenerate(ctx, result, base, reference)
	}
}

// bestAttempt is the highest-scoring rendering of one chunk seen so far.
type bestAttempt struct {
	audio      []byte
	duration   float64
	sampleRate int
	analysis   *qc.Analysis
	quality    *qc.Result
}

func attemptScore(quality *qc.Result) float64 {
	if quality == nil {
		return -1
	}

	return quality.OverallScore
}

func (c *Controller) regenerate(
	ctx context.Context,
	result *GenerationResult,
	base core.SpeechRequest,
	reference **qc.Analysis,
) {
	var best *bestAttempt

	if result.Succeeded() {
		best = &bestAttempt{
			audio:      result.Audio,
			duration:   result.Duration,
			sampleRate: result.SampleRate,
			analysis:   result.Analysis,
			quality:    result.Quality,
		}
	}

	for attempt := 2; attempt <= MaxGenerationAttempts; attempt++ {
		result.RegenerationAttempts = attempt
		c.metrics.RecordRegeneration()

		req := requestForChunk(base, result.Chunk)
		req.Temperature, req.TopP = perturbForAttempt(attempt, base.Temperature, base.TopP)
		req.Seed = c.freshSeed()

		c.log.Info(
			"chunk %d: regeneration attempt %d (temperature %.3f, top_p %.3f, seed %d)",
			result.Chunk.Order, attempt, req.Temperature, req.TopP, req.Seed,
		)

		speech, err := c.engine.GenerateSpeech(ctx, req)
		if err != nil {
			c.log.Warn(
				"chunk %d: regeneration attempt %d failed: %v",
				result.Chunk.Order, attempt, err,
			)

			if best == nil {
				result.Err = fmt.Errorf(
					"chunk %d generation failed: %w",
					result.Chunk.Order, err,
				)
			}

			continue
		}

		c.metrics.RecordChunkSynthesized()
		c.metrics.RecordUsageTokens(speech.UsageTokens)
		result.UsageTokens += speech.UsageTokens

		analysis, quality, seconds := c.evaluate(ctx, speech.Audio, result.Chunk.Text, reference)

		candidate := &bestAttempt{
			audio:      speech.Audio,
			duration:   speech.Duration,
			sampleRate: speech.SampleRate,
			analysis:   analysis,
			quality:    quality,
		}

		if seconds > 0 {
			candidate.duration = seconds
		}

		if quality.Passed {
			c.adoptAttempt(result, candidate)

			return
		}

		if best == nil || attemptScore(quality) > attemptScore(best.quality) {
			best = candidate
		}
	}

	if best == nil {
		return
	}

	c.adoptAttempt(result, best)
	c.metrics.RecordChunkBelowTarget()
	c.log.Warn(
		"chunk %d: keeping best attempt after %d tries (score %.3f): %s",
		result.Chunk.Order,
		result.RegenerationAttempts,
		attemptScore(best.quality),
		best.quality.FailureReason,
	)
}

func (c *Controller) adoptAttempt(result *GenerationResult, attempt *bestAttempt) {
	result.Audio = attempt.audio
	result.Duration = attempt.duration
	result.SampleRate = attempt.sampleRate
	result.Analysis = attempt.analysis
	result.Quality = attempt.quality
	result.Err = nil
}

func requestForChunk(base core.SpeechRequest, textChunk chunk.TextChunk) core.SpeechRequest {
	req := base
	req.Text = textChunk.Text
	req.ProsodyHint = textChunk.ProsodyHint

	return req
}

// perturbForAttempt derives the retry parameters for an attempt number from
// the run's base values: attempt 2 lowers temperature, attempt 3 lowers it
// further and narrows top_p.
func perturbForAttempt(attempt int, baseTemperature, baseTopP float64) (float64, float64) {
	switch attempt {
	case 2:
		return baseTemperature * secondAttemptTemperatureScale, baseTopP
	case 3:
		return baseTemperature * thirdAttemptTemperatureScale,
			baseTopP * thirdAttemptTopPScale
	default:
		return baseTemperature, baseTopP
	}
}
