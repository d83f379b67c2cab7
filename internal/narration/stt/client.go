// Package stt provides the HTTP client for the speech-to-text validation
// service.
//
// The validator transcribes a rendered chunk and scores how closely the
// transcription matches the text the chunk was generated from, catching
// gibberish that passes acoustic checks. It is optional and auxiliary:
// callers treat any error from this client as "assume valid" so that a
// validator outage never blocks narration.
package stt

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
	apiValidateSpeech = "/v1/validate/speech"
)

// Error messages.
const (
	errFailedToCreateFormFile = "failed to create form file: %w"
	errFailedToCopyAudioData  = "failed to copy audio data: %w"
	errFailedToWriteTextField = "failed to write expected_text field: %w"
	errFailedToCloseWriter    = "failed to close multipart writer: %w"
	errFailedToCreateRequest  = "failed to create request: %w"
	errFailedToMakeRequest    = "failed to make request: %w"
	errAPIRequestFailed       = "validation request failed with status %d: %s"
	errFailedToDecodeResponse = "failed to decode response: %w"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"

	contentTypeJSON = "application/json"
)

// Form field names.
const (
	formFieldAudio        = "audio"
	formFieldExpectedText = "expected_text"

	formAudioFilename = "chunk.wav"
)

// Validation errors.
var (
	// ErrEmptyAudio indicates a validation call without audio data.
	ErrEmptyAudio = errors.New("audio data cannot be empty")

	// ErrEmptyExpectedText indicates a validation call with nothing to
	// compare the transcription against.
	ErrEmptyExpectedText = errors.New("expected text cannot be empty")
)

// Client calls the speech-to-text validation service over HTTP. It implements
// core.Transcriber.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a validation client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// validationResponse is the service's JSON response envelope.
type validationResponse struct {
	Passed      bool    `json:"passed"`
	Confidence  float64 `json:"confidence"`
	Transcribed string  `json:"transcribed_text"`
	Similarity  float64 `json:"similarity"`
}

// ValidateSpeech uploads the rendered audio with the text it was generated
// from and returns the transcription verdict. A response with Passed=false is
// not an error: the service answered and judged the audio gibberish.
func (c *Client) ValidateSpeech(
	ctx context.Context,
	audio []byte,
	expectedText string,
) (*core.TranscriptionResult, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	if expectedText == "" {
		return nil, ErrEmptyExpectedText
	}

	body, contentType, err := encodeValidationForm(audio, expectedText)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiValidateSpeech,
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

	var validation validationResponse

	err = json.NewDecoder(resp.Body).Decode(&validation)
	if err != nil {
		return nil, fmt.Errorf(errFailedToDecodeResponse, err)
	}

	return &core.TranscriptionResult{
		Transcribed: validation.Transcribed,
		Confidence:  validation.Confidence,
		Similarity:  validation.Similarity,
		Passed:      validation.Passed,
	}, nil
}

// encodeValidationForm builds the multipart request body: the audio as a file
// part plus the expected text field.
func encodeValidationForm(
	audio []byte,
	expectedText string,
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

	err = writer.WriteField(formFieldExpectedText, expectedText)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToWriteTextField, err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCloseWriter, err)
	}

	return &buf, writer.FormDataContentType(), nil
}
