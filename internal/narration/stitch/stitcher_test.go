package stitch_test

import (
	"math"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/narration/stitch"
	"github.com/book-expert/narration-service/internal/pcm"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "stitcher-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func toneAudio(t *testing.T, freqHz, seconds, amplitude float64) []byte {
	t.Helper()

	total := int(seconds * float64(pcm.DefaultSampleRate))
	samples := make([]int, total)

	for i := range samples {
		phase := 2 * math.Pi * freqHz * float64(i) / float64(pcm.DefaultSampleRate)
		samples[i] = int(amplitude * 32767 * math.Sin(phase))
	}

	clip := &pcm.Clip{Samples: samples, SampleRate: pcm.DefaultSampleRate}

	data, err := clip.Encode()
	require.NoError(t, err)

	return data
}

func TestConcatenateRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	stitcher := stitch.New(newTestLogger(t))

	_, err := stitcher.Concatenate(nil)
	require.ErrorIs(t, err, stitch.ErrNoAudio)
}

func TestConcatenateSingleBufferPassesThrough(t *testing.T) {
	t.Parallel()

	stitcher := stitch.New(newTestLogger(t))
	audio := toneAudio(t, 220, 1.0, 0.5)

	result, err := stitcher.Concatenate([][]byte{audio})
	require.NoError(t, err)

	assert.Equal(t, audio, result.Audio)
	assert.InDelta(t, 1.0, result.Seconds, 0.01)
	assert.Empty(t, result.Boundaries)
	assert.False(t, result.Degraded)
}

func TestConcatenateIdenticalChunksUsesShortestCrossfade(t *testing.T) {
	t.Parallel()

	stitcher := stitch.New(newTestLogger(t))
	audio := toneAudio(t, 220, 2.5, 0.5)

	result, err := stitcher.Concatenate([][]byte{audio, audio})
	require.NoError(t, err)

	require.Len(t, result.Boundaries, 1)

	boundary := result.Boundaries[0]
	assert.Greater(t, boundary.Similarity, 0.9)
	assert.Less(t, boundary.Weight, 0.05)
	assert.InDelta(t, 0.05, boundary.CrossfadeSeconds, 1e-3)
	assert.Equal(t, "linear", boundary.Curve)

	// total duration is the sum of the inputs minus the applied crossfade
	assert.InDelta(t, 5.0-0.05, result.Seconds, 0.01)
	assert.False(t, result.Degraded)
}

func TestConcatenateDissimilarChunksUsesLongestCrossfade(t *testing.T) {
	t.Parallel()

	stitcher := stitch.New(newTestLogger(t))
	warm := toneAudio(t, 220, 2.0, 0.5)
	thin := toneAudio(t, 3500, 2.0, 0.08)

	result, err := stitcher.Concatenate([][]byte{warm, thin})
	require.NoError(t, err)

	require.Len(t, result.Boundaries, 1)

	boundary := result.Boundaries[0]
	assert.Less(t, boundary.Similarity, 0.5)
	assert.InDelta(t, 0.15, boundary.CrossfadeSeconds, 1e-3)
	assert.Equal(t, "exponential", boundary.Curve)

	assert.InDelta(t, 4.0-0.15, result.Seconds, 0.01)
}

func TestConcatenateDurationArithmetic(t *testing.T) {
	t.Parallel()

	stitcher := stitch.New(newTestLogger(t))
	audio := toneAudio(t, 220, 1.0, 0.5)

	result, err := stitcher.Concatenate([][]byte{audio, audio, audio})
	require.NoError(t, err)

	require.Len(t, result.Boundaries, 2)

	expected := 3.0
	for _, boundary := range result.Boundaries {
		expected -= boundary.CrossfadeSeconds
	}

	assert.InDelta(t, expected, result.Seconds, 0.01)

	clip, err := pcm.Decode(result.Audio)
	require.NoError(t, err)
	assert.InDelta(t, expected, clip.Seconds(), 0.01)
}

func TestConcatenateDegradesToByteConcat(t *testing.T) {
	t.Parallel()

	stitcher := stitch.New(newTestLogger(t))
	audio := toneAudio(t, 220, 1.0, 0.5)
	garbage := []byte("definitely not audio")

	result, err := stitcher.Concatenate([][]byte{audio, garbage})
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Len(t, result.Audio, len(audio)+len(garbage))
	assert.InDelta(t, 1.0, result.Seconds, 0.01)
	assert.Empty(t, result.Boundaries)
}

func TestConcatenateSingleUndecodableBufferDegrades(t *testing.T) {
	t.Parallel()

	stitcher := stitch.New(newTestLogger(t))
	garbage := []byte("definitely not audio")

	result, err := stitcher.Concatenate([][]byte{garbage})
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Equal(t, garbage, result.Audio)
	assert.InDelta(t, 0.0, result.Seconds, 1e-9)
	assert.Empty(t, result.Boundaries)
}
