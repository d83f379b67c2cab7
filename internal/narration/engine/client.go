// Package engine talks to the speech generation service over HTTP.
//
// The service accepts one generation request per chunk and answers with a
// JSON envelope carrying base64 audio plus rendering metadata. The client
// keeps the wire contract explicit and leaves retry and quality decisions to
// the caller.
package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

// API endpoints.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "speech engine error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "speech engine returned non-OK status: %s, body: %s"
)

// Sentinel errors reported by the client.
var (
	ErrEmptyText  = errors.New("text cannot be empty")
	ErrEmptyAudio = errors.New("received empty audio data")
)

// Client is an HTTP client for the speech generation service. It implements
// core.SpeechEngine.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// generationRequest is the JSON payload of one generation call.
type generationRequest struct {
	// Text is the chunk text to render, context included.
	Text string `json:"text"`

	// VoiceReference selects the voice the engine clones. Empty picks the
	// engine default.
	VoiceReference string `json:"voice_reference,omitempty"`

	// SceneDescription and ChunkHints steer delivery without changing the
	// words.
	SceneDescription string `json:"scene_description,omitempty"`
	ChunkHints       string `json:"chunk_hints,omitempty"`

	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
	TopK              int     `json:"top_k"`
	MaxNewTokens      int     `json:"max_new_tokens,omitempty"`
	NGL               int     `json:"ngl,omitempty"`

	// Seed must be honored by the engine so one run renders consistently.
	Seed int `json:"seed"`
}

// generationResponse is the JSON envelope the engine answers with.
type generationResponse struct {
	AudioBuffer string  `json:"audio_buffer"`
	Format      string  `json:"format"`
	Duration    float64 `json:"duration"`
	SampleRate  int     `json:"sample_rate"`
	UsageTokens int     `json:"usage_tokens"`
}

// engineErrorResponse is a structured error from the service.
type engineErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewClient configures a client for the engine at baseURL, which includes
// protocol and port (e.g. "http://localhost:8000"). The timeout applies per
// request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateSpeech renders one chunk of text and returns the decoded audio with
// the engine's usage accounting.
func (c *Client) GenerateSpeech(
	ctx context.Context,
	req core.SpeechRequest,
) (*core.SpeechResult, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	payload := generationRequest{
		Text:              req.Text,
		VoiceReference:    req.Voice,
		SceneDescription:  req.SceneDescription,
		ChunkHints:        req.ProsodyHint,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		RepetitionPenalty: req.RepetitionPenalty,
		TopK:              req.TopK,
		MaxNewTokens:      req.MaxNewTokens,
		NGL:               req.NGL,
		Seed:              req.Seed,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"send request to speech engine at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var envelope generationResponse

	err = json.NewDecoder(resp.Body).Decode(&envelope)
	if err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(envelope.AudioBuffer)
	if err != nil {
		return nil, fmt.Errorf("decode audio buffer: %w", err)
	}

	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	return &core.SpeechResult{
		Audio:       audio,
		Format:      envelope.Format,
		Duration:    envelope.Duration,
		SampleRate:  envelope.SampleRate,
		UsageTokens: envelope.UsageTokens,
	}, nil
}

// HealthCheck verifies the engine is up before a run starts, so a dead
// backend fails fast instead of failing every chunk.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for engine at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw
// body so diagnostics survive non-JSON failures.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errorResp engineErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		errFmtServiceNonOKStatus,
		resp.Status,
		string(body),
	)
}
