// Package trim removes the borrowed context prefix from a chunk's rendered
// audio.
//
// The cut point comes from forced alignment when the aligner cooperates, and
// from an adaptive duration estimate otherwise. Every cut snaps to a quiet
// sample near the target so the splice does not click. When the numbers look
// unsafe the trimmer returns the audio untouched: keeping context audio is
// recoverable, cutting real narration is not.
package trim

import (
	"context"
	"fmt"
	"math"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/narration/chunk"
	"github.com/book-expert/narration-service/internal/pcm"
)

// Safety bounds. Estimates outside these make the trimmer skip.
const (
	// MinContextSeconds is the shortest context worth trimming.
	MinContextSeconds = 0.2

	// MaxContextShare skips trimming when the context estimate swallows
	// nearly the whole chunk.
	MaxContextShare = 0.9

	// MaxRemovalShare is the hard ceiling on how much of a chunk a trim may
	// remove.
	MaxRemovalShare = 0.6

	minRemainingSeconds = 0.5
)

// Estimate-path tuning.
const (
	minAlignmentSeconds = 0.1

	shortContextShare    = 0.15
	longContextShare     = 0.40
	shortContextBuffer   = 1.05
	defaultContextBuffer = 1.15
	longContextBuffer    = 1.25

	capShare               = 0.5
	shortContextCapShare   = 0.35
	shortContextCapSeconds = 1.0

	cutSearchSeconds = 0.02
	silenceFloor     = 33
)

// Trim methods recorded on outcomes.
const (
	MethodAlignment = "alignment"
	MethodEstimate  = "estimate"
)

const errDecodeChunkAudio = "decode chunk audio: %w"

// Outcome reports what the trimmer did to one chunk.
type Outcome struct {
	Audio            []byte
	Method           string
	SkipReason       string
	TrimmedSeconds   float64
	RemainingSeconds float64
	Trimmed          bool
}

// Trimmer cuts context prefixes using an optional aligner and a duration
// estimate fallback.
type Trimmer struct {
	aligner core.Aligner
	log     *logger.Logger
}

// New builds a Trimmer. The aligner may be nil, which forces the estimate
// path.
func New(aligner core.Aligner, log *logger.Logger) *Trimmer {
	return &Trimmer{
		aligner: aligner,
		log:     log,
	}
}

// TrimContext removes the context prefix of one chunk's audio, returning the
// original audio with a skip reason whenever trimming would be unsafe.
func (t *Trimmer) TrimContext(
	ctx context.Context,
	audio []byte,
	textChunk chunk.TextChunk,
) (*Outcome, error) {
	if textChunk.IsFirstChunk {
		return skipped(audio, 0, "first chunk has no context"), nil
	}

	clip, err := pcm.Decode(audio)
	if err != nil {
		return nil, fmt.Errorf(errDecodeChunkAudio, err)
	}

	total := clip.Seconds()
	estimate := textChunk.EstimatedContextDuration

	if estimate <= MinContextSeconds {
		t.log.Info(
			"trim skipped for chunk %d: context estimate %.2fs too short",
			textChunk.Order, estimate,
		)

		return skipped(audio, total, "context estimate too short"), nil
	}

	if estimate >= MaxContextShare*total {
		t.log.Info(
			"trim skipped for chunk %d: context estimate %.2fs dominates %.2fs of audio",
			textChunk.Order, estimate, total,
		)

		return skipped(audio, total, "context estimate dominates chunk"), nil
	}

	cutSeconds, method := t.cutPoint(ctx, audio, textChunk, total)

	if cutSeconds > MaxRemovalShare*total {
		t.log.Warn(
			"trim skipped for chunk %d: cut %.2fs would remove over %.0f%% of %.2fs",
			textChunk.Order, cutSeconds, MaxRemovalShare*100, total,
		)

		return skipped(audio, total, "cut would remove too much audio"), nil
	}

	cutSeconds = math.Min(cutSeconds, trimCap(estimate, total))

	if total-cutSeconds < minRemainingSeconds {
		cutSeconds = total - minRemainingSeconds
	}

	if cutSeconds <= 0 {
		return skipped(audio, total, "too little audio to trim"), nil
	}

	cutSample := settleCut(
		clip.Samples,
		clip.SamplesInSeconds(cutSeconds),
		clip.SamplesInSeconds(cutSearchSeconds),
	)

	trimmed := clip.Slice(cutSample, len(clip.Samples))

	encoded, err := trimmed.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode trimmed audio: %w", err)
	}

	removed := float64(cutSample) / float64(clip.SampleRate)

	t.log.Info(
		"trimmed chunk %d via %s: removed %.2fs of %.2fs",
		textChunk.Order, method, removed, total,
	)

	return &Outcome{
		Audio:            encoded,
		Method:           method,
		SkipReason:       "",
		TrimmedSeconds:   removed,
		RemainingSeconds: total - removed,
		Trimmed:          true,
	}, nil
}

// cutPoint asks the aligner where the context ends and falls back to the
// buffered estimate when alignment is unavailable or unconvincing.
func (t *Trimmer) cutPoint(
	ctx context.Context,
	audio []byte,
	textChunk chunk.TextChunk,
	total float64,
) (float64, string) {
	if t.aligner != nil {
		result, alignErr := t.aligner.AlignContext(
			ctx, audio, textChunk.ContextText, textChunk.Text,
		)

		switch {
		case alignErr != nil:
			t.log.Warn(
				"alignment failed for chunk %d, using estimate: %v",
				textChunk.Order, alignErr,
			)
		case result.Success && result.ContextEndTime > minAlignmentSeconds:
			return result.ContextEndTime, MethodAlignment
		default:
			t.log.Info("alignment inconclusive for chunk %d, using estimate", textChunk.Order)
		}
	}

	return bufferedEstimate(textChunk.EstimatedContextDuration, total), MethodEstimate
}

// bufferedEstimate scales the context estimate by how much of the chunk it
// covers: tight buffer for small shares, generous for large ones.
func bufferedEstimate(estimate, total float64) float64 {
	share := estimate / total

	switch {
	case share <= shortContextShare:
		return estimate * shortContextBuffer
	case share >= longContextShare:
		return estimate * longContextBuffer
	default:
		return estimate * defaultContextBuffer
	}
}

func trimCap(estimate, total float64) float64 {
	if estimate <= shortContextCapSeconds {
		return shortContextCapShare * total
	}

	return capShare * total
}

// settleCut moves the cut to the friendliest sample inside the search window:
// a near-silent sample wins outright, then the first zero crossing, then the
// lowest amplitude seen.
func settleCut(samples []int, center, window int) int {
	low := center - window
	if low < 1 {
		low = 1
	}

	high := center + window
	if high > len(samples)-1 {
		high = len(samples) - 1
	}

	if low > high {
		return clampIndex(center, len(samples))
	}

	best := center
	bestAmp := math.MaxInt

	for i := low; i <= high; i++ {
		amp := samples[i]
		if amp < 0 {
			amp = -amp
		}

		if amp <= silenceFloor {
			return i
		}

		if (samples[i-1] < 0) != (samples[i] < 0) {
			return i
		}

		if amp < bestAmp {
			best = i
			bestAmp = amp
		}
	}

	return best
}

func clampIndex(i, length int) int {
	if i < 0 {
		return 0
	}

	if i >= length {
		return length - 1
	}

	return i
}

func skipped(audio []byte, totalSeconds float64, reason string) *Outcome {
	return &Outcome{
		Audio:            audio,
		Method:           "",
		SkipReason:       reason,
		TrimmedSeconds:   0,
		RemainingSeconds: totalSeconds,
		Trimmed:          false,
	}
}
