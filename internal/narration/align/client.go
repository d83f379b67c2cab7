// Package align provides the HTTP client for the forced-alignment service.
//
// The aligner receives a rendered audio chunk together with the context text
// that was prepended for prosody and the full chunk text, and reports where
// the context ends inside the audio as word-level timestamps. Alignment is an
// auxiliary service: callers fall back to estimate-based trimming whenever a
// call fails, so every error returned here is recoverable.
package align

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

// API endpoints.
const (
	apiAlignContext = "/v1/align/context"
)

// Error messages.
const (
	errFailedToCreateFormFile    = "failed to create form file: %w"
	errFailedToCopyAudioData     = "failed to copy audio data: %w"
	errFailedToWriteContextField = "failed to write context_text field: %w"
	errFailedToWriteFullField    = "failed to write full_text field: %w"
	errFailedToCloseWriter       = "failed to close multipart writer: %w"
	errFailedToCreateRequest     = "failed to create request: %w"
	errFailedToMakeRequest       = "failed to make request: %w"
	errAPIRequestFailed          = "alignment request failed with status %d: %s"
	errFailedToDecodeResponse    = "failed to decode response: %w"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"

	contentTypeJSON = "application/json"
)

// Form field names.
const (
	formFieldAudio       = "audio"
	formFieldContextText = "context_text"
	formFieldFullText    = "full_text"

	formAudioFilename = "chunk.wav"
)

// Validation errors.
var (
	// ErrEmptyAudio indicates an alignment call without audio data.
	ErrEmptyAudio = errors.New("audio data cannot be empty")

	// ErrEmptyContextText indicates an alignment call without context text,
	// which has nothing to locate.
	ErrEmptyContextText = errors.New("context text cannot be empty")
)

// Client calls the forced-alignment service over HTTP. It implements
// core.Aligner.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates an alignment client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// alignmentResponse is the service's JSON response envelope.
type alignmentResponse struct {
	Success        bool            `json:"success"`
	ContextEndTime float64         `json:"context_end_time_seconds"`
	WordTimestamps []wordTimestamp `json:"word_timestamps"`
}

type wordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// AlignContext uploads the rendered audio with its context and full text and
// returns the alignment outcome. A response with Success=false is not an
// error: the service answered but could not locate the context confidently.
func (c *Client) AlignContext(
	ctx context.Context,
	audio []byte,
	contextText, fullText string,
) (*core.AlignmentResult, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	if contextText == "" {
		return nil, ErrEmptyContextText
	}

	body, contentType, err := encodeAlignmentForm(audio, contextText, fullText)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiAlignContext,
		body,
	)
	if err != nil {
		return nil, fmt.Errorf(errFailedToCreateRequest, err)
	}

	req.Header.Set(headerContentType, contentType)
	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFailedToMakeRequest, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf(
			errAPIRequestFailed,
			resp.StatusCode,
			string(respBody),
		)
	}

	var alignment alignmentResponse

	err = json.NewDecoder(resp.Body).Decode(&alignment)
	if err != nil {
		return nil, fmt.Errorf(errFailedToDecodeResponse, err)
	}

	return toAlignmentResult(&alignment), nil
}

// encodeAlignmentForm builds the multipart request body: the audio as a file
// part plus the two text fields.
func encodeAlignmentForm(
	audio []byte,
	contextText, fullText string,
) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldAudio, formAudioFilename)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCreateFormFile, err)
	}

	_, err = io.Copy(part, bytes.NewReader(audio))
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCopyAudioData, err)
	}

	err = writer.WriteField(formFieldContextText, contextText)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToWriteContextField, err)
	}

	err = writer.WriteField(formFieldFullText, fullText)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToWriteFullField, err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCloseWriter, err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func toAlignmentResult(alignment *alignmentResponse) *core.AlignmentResult {
	words := make([]core.WordTimestamp, 0, len(alignment.WordTimestamps))
	for _, w := range alignment.WordTimestamps {
		words = append(words, core.WordTimestamp{
			Word:  w.Word,
			Start: w.Start,
			End:   w.End,
		})
	}

	return &core.AlignmentResult{
		Words:          words,
		ContextEndTime: alignment.ContextEndTime,
		Success:        alignment.Success,
	}
}
