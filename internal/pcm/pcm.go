// Package pcm provides the fixed-format audio layer for the narration pipeline.
//
// The pipeline works exclusively with mono 16-bit PCM WAV buffers. This package
// decodes such buffers into sample slices, re-encodes sample slices into valid
// WAV containers with correct size fields, and provides the sample/duration
// arithmetic the analysis and stitching code relies on.
package pcm

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Fixed format contract for all pipeline audio.
const (
	// DefaultSampleRate is the sample rate the generation engine produces.
	DefaultSampleRate = 24000

	// BitDepth is the only PCM bit depth the pipeline accepts.
	BitDepth = 16

	// NumChannels is the only channel count the pipeline accepts.
	NumChannels = 1

	// wavAudioFormatPCM is the RIFF audio format tag for uncompressed PCM.
	wavAudioFormatPCM = 1
)

// Static errors.
var (
	// ErrNotWAV indicates the buffer is not a parseable WAV container.
	ErrNotWAV = errors.New("data is not a valid wav container")
	// ErrNotMono indicates the audio has more than one channel.
	ErrNotMono = errors.New("audio must be mono")
	// ErrNotPCM16 indicates the audio is not 16-bit PCM.
	ErrNotPCM16 = errors.New("audio must be 16-bit pcm")
	// ErrEmptyClip indicates a clip with no samples where samples are required.
	ErrEmptyClip = errors.New("clip contains no samples")
	// ErrInvalidSeek indicates a seek outside the encoded buffer.
	ErrInvalidSeek = errors.New("invalid seek position")
)

// Clip is a decoded mono PCM signal. Samples hold the raw signed 16-bit
// values widened to int, matching the decoded buffer layout.
type Clip struct {
	Samples    []int
	SampleRate int
}

// Decode parses a WAV buffer into a Clip, enforcing the mono 16-bit contract.
func Decode(data []byte) (*Clip, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, ErrNotWAV
	}

	if decoder.NumChans != NumChannels {
		return nil, fmt.Errorf("%w: got %d channels", ErrNotMono, decoder.NumChans)
	}

	if decoder.BitDepth != BitDepth || decoder.WavAudioFormat != wavAudioFormatPCM {
		return nil, fmt.Errorf(
			"%w: got %d-bit format %d",
			ErrNotPCM16,
			decoder.BitDepth,
			decoder.WavAudioFormat,
		)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm data: %w", err)
	}

	if len(buffer.Data) == 0 {
		return nil, ErrEmptyClip
	}

	return &Clip{
		Samples:    buffer.Data,
		SampleRate: buffer.Format.SampleRate,
	}, nil
}

// Encode renders the clip as a complete WAV buffer. The container header is
// rebuilt from the current sample count, so size fields are always consistent
// with the data chunk.
func (c *Clip) Encode() ([]byte, error) {
	if len(c.Samples) == 0 {
		return nil, ErrEmptyClip
	}

	sink := &bufferWriteSeeker{buf: nil, pos: 0}

	encoder := wav.NewEncoder(sink, c.SampleRate, BitDepth, NumChannels, wavAudioFormatPCM)

	buffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: NumChannels,
			SampleRate:  c.SampleRate,
		},
		Data:           c.Samples,
		SourceBitDepth: BitDepth,
	}

	writeErr := encoder.Write(buffer)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write pcm data: %w", writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to finalize wav container: %w", closeErr)
	}

	return sink.buf, nil
}

// Duration returns the clip length as a time.Duration.
func (c *Clip) Duration() time.Duration {
	return time.Duration(c.Seconds() * float64(time.Second))
}

// Seconds returns the clip length in seconds.
func (c *Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}

	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// SamplesIn converts a duration to a sample count at the clip's rate.
func (c *Clip) SamplesIn(d time.Duration) int {
	return int(d.Seconds() * float64(c.SampleRate))
}

// SamplesInSeconds converts a duration in seconds to a sample count.
func (c *Clip) SamplesInSeconds(seconds float64) int {
	return int(seconds * float64(c.SampleRate))
}

// Slice returns a clip viewing samples [from, to), clamped to valid bounds.
// The returned clip shares the underlying sample array.
func (c *Clip) Slice(from, to int) *Clip {
	if from < 0 {
		from = 0
	}

	if to > len(c.Samples) {
		to = len(c.Samples)
	}

	if from >= to {
		return &Clip{Samples: nil, SampleRate: c.SampleRate}
	}

	return &Clip{
		Samples:    c.Samples[from:to],
		SampleRate: c.SampleRate,
	}
}

// bufferWriteSeeker is an in-memory io.WriteSeeker. The wav encoder seeks
// back to patch RIFF size fields on Close, which io.Writer alone cannot
// support.
type bufferWriteSeeker struct {
	buf []byte
	pos int
}

func (ws *bufferWriteSeeker) Write(p []byte) (int, error) {
	if ws.pos+len(p) > len(ws.buf) {
		grown := make([]byte, ws.pos+len(p))
		copy(grown, ws.buf)
		ws.buf = grown
	}

	copy(ws.buf[ws.pos:], p)
	ws.pos += len(p)

	return len(p), nil
}

func (ws *bufferWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int

	switch whence {
	case 0: // io.SeekStart
		next = int(offset)
	case 1: // io.SeekCurrent
		next = ws.pos + int(offset)
	case 2: // io.SeekEnd
		next = len(ws.buf) + int(offset)
	default:
		return 0, fmt.Errorf("%w: whence %d", ErrInvalidSeek, whence)
	}

	if next < 0 {
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidSeek, next)
	}

	ws.pos = next

	return int64(next), nil
}
