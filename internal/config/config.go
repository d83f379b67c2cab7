// Package config provides the configuration structure for the narration-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the connection URL and messaging topology: the subject
// jobs arrive on and the object store buckets text is read from and audio is
// written to.
type NATSConfig struct {
	URL                    string `toml:"url"`
	TextProcessedSubject   string `toml:"text_processed_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// EngineConfig points at the speech generation engine and carries the default
// generation parameters that jobs fall back to when an event leaves them
// unset.
type EngineConfig struct {
	BaseURL           string  `toml:"base_url"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	Voice             string  `toml:"voice"`
	Seed              int     `toml:"seed"`
	NGL               int     `toml:"ngl"`
	TopK              int     `toml:"top_k"`
	TopP              float64 `toml:"top_p"`
	RepetitionPenalty float64 `toml:"repetition_penalty"`
	Temperature       float64 `toml:"temperature"`
	MaxNewTokens      int     `toml:"max_new_tokens"`
	SceneDescription  string  `toml:"scene_description"`
}

// AlignmentConfig points at the forced alignment sidecar. When disabled, the
// pipeline trims context by duration estimate alone.
type AlignmentConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// STTConfig points at the speech-to-text sidecar used to cross-check
// generated audio against its source text. When disabled, audio that passes
// the acoustic checks is accepted as-is.
type STTConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PipelineConfig tunes chunking and generation concurrency.
type PipelineConfig struct {
	ChunkingEnabled bool `toml:"chunking_enabled"`
	GenerationBatch int  `toml:"generation_batch"`
}

// ObservabilityConfig holds the admin HTTP listener address serving health
// and metrics endpoints, and the namespace metrics are registered under.
type ObservabilityConfig struct {
	ListenAddress    string `toml:"listen_address"`
	MetricsNamespace string `toml:"metrics_namespace"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS          NATSConfig          `toml:"nats"`
	Engine        EngineConfig        `toml:"engine"`
	Alignment     AlignmentConfig     `toml:"alignment"`
	STT           STTConfig           `toml:"stt"`
	Pipeline      PipelineConfig      `toml:"pipeline"`
	Observability ObservabilityConfig `toml:"observability"`
	Paths         PathsConfig         `toml:"paths"`
}

// Load loads the configuration for the narration-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
