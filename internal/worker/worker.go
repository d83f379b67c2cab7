// Package worker consumes text-processed events from NATS, narrates the text
// and publishes audio-chunk-created replies.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/format"
)

// narrationTimeout bounds one job end to end. Long texts ride through many
// chunks and up to three generation attempts each, so the budget is generous.
const narrationTimeout = 15 * time.Minute

var (
	// ErrVoiceEmpty indicates that no voice was requested and no default is
	// configured.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
	// ErrTopPRange indicates that the TopP parameter is out of the valid range [0.0, 1.0].
	ErrTopPRange = errors.New("top_p must be between 0.0 and 1.0")
	// ErrRepetitionPenaltyRange indicates that the RepetitionPenalty parameter is out of the valid range [1.0, ...).
	ErrRepetitionPenaltyRange = errors.New("repetition penalty must be >= 1.0")
	// ErrTemperatureRange indicates that the Temperature parameter is out of the valid range [0.0, ...).
	ErrTemperatureRange = errors.New("temperature must be >= 0.0")
	// ErrNGLNegative indicates that the NGL (number of GPU layers) parameter is negative.
	ErrNGLNegative = errors.New("n_gpu_layers must be non-negative")
	// ErrSeedNegative indicates that the Seed parameter is negative.
	ErrSeedNegative = errors.New("seed must be non-negative")
)

// Worker listens for narration jobs on a NATS subject and processes them.
type Worker struct {
	natsConnection *nats.Conn
	subject        string
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	narrator       core.Narrator
	log            *logger.Logger
}

// New creates a worker reading text from textStore and writing rendered audio
// to audioStore.
func New(
	natsConnection *nats.Conn,
	subject string,
	textStore core.ObjectStore,
	audioStore core.ObjectStore,
	narrator core.Narrator,
	log *logger.Logger,
) *Worker {
	return &Worker{
		natsConnection: natsConnection,
		subject:        subject,
		textStore:      textStore,
		audioStore:     audioStore,
		narrator:       narrator,
		log:            log,
	}
}

// Run starts the worker and begins listening for messages.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("drain subscription: %w", drainErr)
	}

	return nil
}

func (w *Worker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), narrationTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse narration event: %v", err)

		return
	}

	audioKey, narrateErr := w.narrateJob(ctx, event)
	if narrateErr != nil {
		w.log.Error(
			"Failed to narrate workflow %s: %v",
			event.Header.WorkflowID, narrateErr,
		)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReply(msg, replyEvent)
	if err != nil {
		w.log.Error(
			"Failed to publish reply for workflow %s: %v",
			event.Header.WorkflowID, err,
		)
	}
}

// narrateJob downloads the text, narrates it and uploads the rendered audio,
// returning the audio object key.
func (w *Worker) narrateJob(
	ctx context.Context,
	event *events.TextProcessedEvent,
) (string, error) {
	textData, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("download text for key %q: %w", event.TextKey, err)
	}

	params := w.jobParameters(event)

	err = validateParameters(params)
	if err != nil {
		return "", fmt.Errorf(
			"job parameters for workflow %s: %w", event.Header.WorkflowID, err,
		)
	}

	result, err := w.narrator.Narrate(ctx, string(textData), params)
	if err != nil {
		return "", fmt.Errorf("narrate text: %w", err)
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.audioStore.Upload(ctx, audioKey, result.Audio)
	if err != nil {
		return "", fmt.Errorf("upload audio for key %q: %w", audioKey, err)
	}

	w.log.Info(
		"narrated workflow %s: %d chunks, %s of audio (%s), %d regenerated, %d below quality",
		event.Header.WorkflowID,
		result.ChunkCount,
		format.Duration(result.Duration),
		format.FileSize(int64(len(result.Audio))),
		result.Regenerated,
		result.BelowQuality,
	)

	return audioKey, nil
}

func (w *Worker) publishReply(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	return &event, nil
}

// jobParameters merges the event's requested parameters over the narrator's
// defaults. A zero value means the field was not requested.
func (w *Worker) jobParameters(event *events.TextProcessedEvent) core.JobParameters {
	params := w.narrator.Defaults()

	if event.Voice != "" {
		params.Voice = event.Voice
	}

	if event.Seed != 0 {
		params.Seed = event.Seed
	}

	if event.NGL != 0 {
		params.NGL = event.NGL
	}

	if event.TopP != 0 {
		params.TopP = event.TopP
	}

	if event.RepetitionPenalty != 0 {
		params.RepetitionPenalty = event.RepetitionPenalty
	}

	if event.Temperature != 0 {
		params.Temperature = event.Temperature
	}

	return params
}

// validateParameters ensures the merged job parameters are valid and safe
// before any engine call is made.
func validateParameters(params core.JobParameters) error {
	if params.Voice == "" {
		return ErrVoiceEmpty
	}

	if params.TopP < 0.0 || params.TopP > 1.0 {
		return fmt.Errorf("%w: got %f", ErrTopPRange, params.TopP)
	}

	if params.RepetitionPenalty < 1.0 {
		return fmt.Errorf("%w: got %f", ErrRepetitionPenaltyRange, params.RepetitionPenalty)
	}

	if params.Temperature < 0.0 {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, params.Temperature)
	}

	if params.NGL < 0 {
		return fmt.Errorf("%w: got %d", ErrNGLNegative, params.NGL)
	}

	if params.Seed < 0 {
		return fmt.Errorf("%w: got %d", ErrSeedNegative, params.Seed)
	}

	return nil
}
