// Package core defines the interfaces and shared value types of the
// narration service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// JobParameters holds the per-job generation knobs. A job event may override
// any subset; unset values fall back to the narrator's configured defaults.
type JobParameters struct {
	Voice             string
	Seed              int
	NGL               int
	TopK              int
	TopP              float64
	RepetitionPenalty float64
	Temperature       float64
}

// SpeechRequest is a single generation call to the external engine. One run
// issues many of these, varying only in text and prosody hint.
type SpeechRequest struct {
	Text              string
	Voice             string
	SceneDescription  string
	ProsodyHint       string
	Seed              int
	NGL               int
	TopK              int
	MaxNewTokens      int
	TopP              float64
	RepetitionPenalty float64
	Temperature       float64
}

// SpeechResult is the engine's rendered audio plus usage metadata.
type SpeechResult struct {
	Audio       []byte
	Format      string
	Duration    float64
	SampleRate  int
	UsageTokens int
}

// SpeechEngine defines the opaque request/response boundary to the external
// text-to-speech engine. Implementations must honor the request seed so that
// one run renders with consistent randomness across chunks.
type SpeechEngine interface {
	GenerateSpeech(ctx context.Context, req SpeechRequest) (*SpeechResult, error)
	HealthCheck(ctx context.Context) error
}

// WordTimestamp is one aligned word with its start and end in seconds.
type WordTimestamp struct {
	Word  string
	Start float64
	End   float64
}

// AlignmentResult reports where the injected context ends inside a rendered
// chunk, when the aligner could determine it.
type AlignmentResult struct {
	Words          []WordTimestamp
	ContextEndTime float64
	Success        bool
}

// Aligner derives word-level timestamps for rendered audio against known
// text. It is an auxiliary collaborator: callers must tolerate failure and
// fall back to estimate-based trimming.
type Aligner interface {
	AlignContext(ctx context.Context, audio []byte, contextText, fullText string) (*AlignmentResult, error)
}

// TranscriptionResult is the outcome of validating rendered audio against the
// text it was generated from.
type TranscriptionResult struct {
	Transcribed string
	Confidence  float64
	Similarity  float64
	Passed      bool
}

// Transcriber validates that rendered audio actually speaks the expected
// text. Auxiliary collaborator: an outage must never block narration.
type Transcriber interface {
	ValidateSpeech(ctx context.Context, audio []byte, expectedText string) (*TranscriptionResult, error)
}

// NarrationResult is the merged output of one narration run.
type NarrationResult struct {
	Audio         []byte
	ChunkManifest []string
	Duration      float64
	SampleRate    int
	ChunkCount    int
	UsageTokens   int
	Regenerated   int
	BelowQuality  int
}

// Narrator turns raw text into one merged narration. This is the contract the
// worker consumes; the pipeline in internal/narration implements it.
type Narrator interface {
	Narrate(ctx context.Context, text string, params JobParameters) (*NarrationResult, error)
	Defaults() JobParameters
}
