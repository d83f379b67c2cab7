package stt_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/narration/stt"
)

func TestValidateSpeechRoundTrip(t *testing.T) {
	t.Parallel()

	audio := []byte("RIFF-fake-wav-bytes")

	var (
		gotPath         string
		gotMethod       string
		gotExpectedText string
		gotAudio        []byte
	)

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotMethod = r.Method

			err := r.ParseMultipartForm(1 << 20)
			require.NoError(t, err)

			gotExpectedText = r.FormValue("expected_text")

			file, _, err := r.FormFile("audio")
			require.NoError(t, err)

			gotAudio, err = io.ReadAll(file)
			require.NoError(t, err)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"passed": true,
				"confidence": 0.93,
				"transcribed_text": "the quick brown fox",
				"similarity": 0.97
			}`))
		}),
	)
	defer server.Close()

	client := stt.NewClient(server.URL, 5*time.Second)

	result, err := client.ValidateSpeech(
		context.Background(),
		audio,
		"The quick brown fox.",
	)
	require.NoError(t, err)

	assert.Equal(t, "/v1/validate/speech", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "The quick brown fox.", gotExpectedText)
	assert.Equal(t, audio, gotAudio)

	assert.True(t, result.Passed)
	assert.InDelta(t, 0.93, result.Confidence, 1e-9)
	assert.InDelta(t, 0.97, result.Similarity, 1e-9)
	assert.Equal(t, "the quick brown fox", result.Transcribed)
}

func TestValidateSpeechRejectsEmptyInputs(t *testing.T) {
	t.Parallel()

	// The address is never dialed: validation fails first.
	client := stt.NewClient("http://127.0.0.1:0", time.Second)

	_, err := client.ValidateSpeech(context.Background(), nil, "expected")
	require.ErrorIs(t, err, stt.ErrEmptyAudio)

	_, err = client.ValidateSpeech(context.Background(), []byte("audio"), "")
	require.ErrorIs(t, err, stt.ErrEmptyExpectedText)
}

func TestValidateSpeechGibberishVerdictIsNotAnError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"passed": false,
				"confidence": 0.41,
				"transcribed_text": "thr qk brwn fx",
				"similarity": 0.52
			}`))
		}),
	)
	defer server.Close()

	client := stt.NewClient(server.URL, 5*time.Second)

	result, err := client.ValidateSpeech(
		context.Background(),
		[]byte("audio"),
		"The quick brown fox.",
	)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.InDelta(t, 0.52, result.Similarity, 1e-9)
	assert.Equal(t, "thr qk brwn fx", result.Transcribed)
}

func TestValidateSpeechServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}),
	)
	defer server.Close()

	client := stt.NewClient(server.URL, 5*time.Second)

	_, err := client.ValidateSpeech(
		context.Background(),
		[]byte("audio"),
		"expected",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model loading")
}
