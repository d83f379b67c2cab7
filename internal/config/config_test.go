// Package config_test tests the configuration loading for the narration-service.
package config_test

import (
	"testing"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
text_object_store_bucket = "PROCESSED_TEXT"
audio_object_store_bucket = "NARRATED_AUDIO"

[engine]
base_url = "http://127.0.0.1:8000"
timeout_seconds = 300
voice = "narrator-a"
seed = 42
ngl = 99
top_k = 50
top_p = 0.9
repetition_penalty = 1.1
temperature = 0.8
max_new_tokens = 1024
scene_description = "a calm reading room"

[alignment]
enabled = true
base_url = "http://127.0.0.1:8001"
timeout_seconds = 60

[stt]
enabled = true
base_url = "http://127.0.0.1:8002"
timeout_seconds = 120

[pipeline]
chunking_enabled = true
generation_batch = 10

[observability]
listen_address = ":9090"
metrics_namespace = "narration"

[paths]
base_logs_dir = "/var/log/narration-service"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "text.processed", cfg.NATS.TextProcessedSubject)
	assert.Equal(t, "PROCESSED_TEXT", cfg.NATS.TextObjectStoreBucket)
	assert.Equal(t, "NARRATED_AUDIO", cfg.NATS.AudioObjectStoreBucket)

	assert.Equal(t, "http://127.0.0.1:8000", cfg.Engine.BaseURL)
	assert.Equal(t, 300, cfg.Engine.TimeoutSeconds)
	assert.Equal(t, "narrator-a", cfg.Engine.Voice)
	assert.Equal(t, 42, cfg.Engine.Seed)
	assert.Equal(t, 99, cfg.Engine.NGL)
	assert.Equal(t, 50, cfg.Engine.TopK)
	assert.InEpsilon(t, 0.9, cfg.Engine.TopP, 0.001)
	assert.InEpsilon(t, 1.1, cfg.Engine.RepetitionPenalty, 0.001)
	assert.InEpsilon(t, 0.8, cfg.Engine.Temperature, 0.001)
	assert.Equal(t, 1024, cfg.Engine.MaxNewTokens)
	assert.Equal(t, "a calm reading room", cfg.Engine.SceneDescription)

	assert.True(t, cfg.Alignment.Enabled)
	assert.Equal(t, "http://127.0.0.1:8001", cfg.Alignment.BaseURL)
	assert.Equal(t, 60, cfg.Alignment.TimeoutSeconds)

	assert.True(t, cfg.STT.Enabled)
	assert.Equal(t, "http://127.0.0.1:8002", cfg.STT.BaseURL)
	assert.Equal(t, 120, cfg.STT.TimeoutSeconds)

	assert.True(t, cfg.Pipeline.ChunkingEnabled)
	assert.Equal(t, 10, cfg.Pipeline.GenerationBatch)

	assert.Equal(t, ":9090", cfg.Observability.ListenAddress)
	assert.Equal(t, "narration", cfg.Observability.MetricsNamespace)
	assert.Equal(t, "/var/log/narration-service", cfg.Paths.BaseLogsDir)
}

func TestLoadConfigDefaultsWhenSectionsOmitted(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
text_object_store_bucket = "PROCESSED_TEXT"
audio_object_store_bucket = "NARRATED_AUDIO"

[engine]
base_url = "http://127.0.0.1:8000"
voice = "narrator-a"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.False(t, cfg.Alignment.Enabled)
	assert.False(t, cfg.STT.Enabled)
	assert.False(t, cfg.Pipeline.ChunkingEnabled)
	assert.Zero(t, cfg.Pipeline.GenerationBatch)
	assert.Empty(t, cfg.Observability.ListenAddress)
}
