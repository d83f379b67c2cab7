// Package pcm_test tests the fixed-format audio layer.
package pcm_test

import (
	"math"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/pcm"
)

// sineClip builds a test tone at the given frequency and length.
func sineClip(t *testing.T, freqHz float64, seconds float64) *pcm.Clip {
	t.Helper()

	total := int(seconds * float64(pcm.DefaultSampleRate))
	samples := make([]int, total)

	for i := range samples {
		phase := 2 * math.Pi * freqHz * float64(i) / float64(pcm.DefaultSampleRate)
		samples[i] = int(0.5 * 32767 * math.Sin(phase))
	}

	return &pcm.Clip{Samples: samples, SampleRate: pcm.DefaultSampleRate}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	original := sineClip(t, 440, 0.25)

	data, err := original.Encode()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := pcm.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, original.SampleRate, decoded.SampleRate)
	assert.Equal(t, original.Samples, decoded.Samples)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := pcm.Decode([]byte("definitely not audio"))
	require.ErrorIs(t, err, pcm.ErrNotWAV)
}

func TestDecodeRejectsStereo(t *testing.T) {
	t.Parallel()

	sink := newWriteSeekBuffer()
	encoder := wav.NewEncoder(sink, pcm.DefaultSampleRate, 16, 2, 1)

	buffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 2,
			SampleRate:  pcm.DefaultSampleRate,
		},
		Data:           make([]int, 4800),
		SourceBitDepth: 16,
	}

	require.NoError(t, encoder.Write(buffer))
	require.NoError(t, encoder.Close())

	_, err := pcm.Decode(sink.Bytes())
	require.ErrorIs(t, err, pcm.ErrNotMono)
}

func TestEncodeEmptyClipFails(t *testing.T) {
	t.Parallel()

	empty := &pcm.Clip{Samples: nil, SampleRate: pcm.DefaultSampleRate}

	_, err := empty.Encode()
	require.ErrorIs(t, err, pcm.ErrEmptyClip)
}

func TestDurationArithmetic(t *testing.T) {
	t.Parallel()

	clip := sineClip(t, 220, 1.5)

	assert.InDelta(t, 1.5, clip.Seconds(), 1e-9)
	assert.Equal(t, 1500*time.Millisecond, clip.Duration())
	assert.Equal(t, pcm.DefaultSampleRate/2, clip.SamplesIn(500*time.Millisecond))
	assert.Equal(t, pcm.DefaultSampleRate/4, clip.SamplesInSeconds(0.25))
}

func TestSliceClampsBounds(t *testing.T) {
	t.Parallel()

	clip := sineClip(t, 220, 0.1)
	total := len(clip.Samples)

	full := clip.Slice(-100, total+100)
	assert.Len(t, full.Samples, total)

	empty := clip.Slice(total, total)
	assert.Empty(t, empty.Samples)
	assert.Equal(t, clip.SampleRate, empty.SampleRate)

	head := clip.Slice(0, 10)
	assert.Len(t, head.Samples, 10)
}

// writeSeekBuffer is a minimal in-memory io.WriteSeeker for building
// non-conforming containers in tests.
type writeSeekBuffer struct {
	buf []byte
	pos int
}

func newWriteSeekBuffer() *writeSeekBuffer {
	return &writeSeekBuffer{buf: nil, pos: 0}
}

func (b *writeSeekBuffer) Bytes() []byte {
	return b.buf
}

func (b *writeSeekBuffer) Write(p []byte) (int, error) {
	if b.pos+len(p) > len(b.buf) {
		grown := make([]byte, b.pos+len(p))
		copy(grown, b.buf)
		b.buf = grown
	}

	copy(b.buf[b.pos:], p)
	b.pos += len(p)

	return len(p), nil
}

func (b *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		b.pos = int(offset)
	case 1:
		b.pos += int(offset)
	case 2:
		b.pos = len(b.buf) + int(offset)
	}

	return int64(b.pos), nil
}
