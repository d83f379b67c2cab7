package chunk_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/narration/chunk"
)

// sentenceOfLength builds a single sentence of exactly length runes, ending
// with a period and containing no other sentence-final punctuation.
func sentenceOfLength(t *testing.T, length int) string {
	t.Helper()

	require.GreaterOrEqual(t, length, 2, "sentence needs room for a body and a period")

	return strings.Repeat("a", length-1) + "."
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	t.Parallel()

	text := sentenceOfLength(t, 250)

	chunks := chunk.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, text, chunks[0].NewText)
	assert.Empty(t, chunks[0].ContextText)
	assert.Zero(t, chunks[0].ContextSentenceCount)
	assert.Zero(t, chunks[0].ContextWordCount)
	assert.True(t, chunks[0].IsFirstChunk)
	assert.True(t, chunks[0].IsLastChunk)
	assert.NotEmpty(t, chunks[0].ID)
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	t.Parallel()

	assert.Empty(t, chunk.Split(""))
}

func TestSplitSingleOversizedSentenceStaysWhole(t *testing.T) {
	t.Parallel()

	text := sentenceOfLength(t, 450)

	chunks := chunk.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].NewText)
	assert.Empty(t, chunks[0].ContextText)
}

func TestSplitReconstructsInputExactly(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		text string
	}{
		{
			name: "repeated sentences with trailing space",
			text: strings.Repeat("The quick brown fox jumps over the lazy dog. ", 12),
		},
		{
			name: "mixed punctuation and irregular spacing",
			text: strings.Repeat("Wait!  Was that real?  It was...  Unbelievable, truly. ", 8),
		},
		{
			name: "newlines between sentences",
			text: strings.Repeat("First line here.\nSecond line there.\n", 12),
		},
		{
			name: "unterminated trailing fragment",
			text: strings.Repeat("A complete sentence ends here. ", 12) + "and then a trailing fragment",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			chunks := chunk.Split(testCase.text)
			require.NotEmpty(t, chunks)

			var rebuilt strings.Builder
			for _, part := range chunks {
				rebuilt.WriteString(part.NewText)
			}

			assert.Equal(t, testCase.text, rebuilt.String())
		})
	}
}

func TestSplitRespectsMaxChunkSize(t *testing.T) {
	t.Parallel()

	var parts []string
	for range 20 {
		parts = append(parts, sentenceOfLength(t, 80))
	}

	text := strings.Join(parts, " ")

	chunks := chunk.Split(text)
	require.Greater(t, len(chunks), 1)

	for _, part := range chunks {
		assert.LessOrEqual(
			t,
			utf8.RuneCountInString(part.Text),
			chunk.MaxChunkSize,
			"chunk %d exceeds MaxChunkSize", part.Order,
		)
	}
}

func TestSplitBorrowsOneSentenceOfContext(t *testing.T) {
	t.Parallel()

	var parts []string
	for range 5 {
		parts = append(parts, sentenceOfLength(t, 174))
	}

	text := strings.Join(parts, " ")
	require.Greater(t, utf8.RuneCountInString(text), chunk.MaxChunkSize)

	chunks := chunk.Split(text)
	require.GreaterOrEqual(t, len(chunks), 3)

	for i, part := range chunks {
		assert.Equal(t, i, part.Order)
		assert.Equal(t, part.ContextText+part.NewText, part.Text)
		assert.Equal(t, i == 0, part.IsFirstChunk)
		assert.Equal(t, i == len(chunks)-1, part.IsLastChunk)

		if i == 0 {
			assert.Empty(t, part.ContextText)

			continue
		}

		require.NotEmpty(t, part.ContextText)
		assert.Equal(t, chunk.ContextSentences, part.ContextSentenceCount)
		assert.True(
			t,
			strings.HasSuffix(chunks[i-1].NewText, part.ContextText),
			"context of chunk %d must be the tail of its predecessor", i,
		)
		assert.Equal(t, len(strings.Fields(part.ContextText)), part.ContextWordCount)
		assert.InDelta(
			t,
			chunk.EstimateSpeechDuration(part.ContextText),
			part.EstimatedContextDuration,
			1e-9,
		)
	}
}

func TestSplitForcesOversizedSentenceIntoOwnChunk(t *testing.T) {
	t.Parallel()

	oversized := sentenceOfLength(t, 350)
	text := "A short opener. " + oversized + " A short closer."

	chunks := chunk.Split(text)
	require.GreaterOrEqual(t, len(chunks), 2)

	var rebuilt strings.Builder

	found := false

	for _, part := range chunks {
		rebuilt.WriteString(part.NewText)

		if strings.Contains(part.NewText, oversized) {
			found = true
		}
	}

	assert.True(t, found, "the oversized sentence must be force-included whole")
	assert.Equal(t, text, rebuilt.String())
}

func TestSplitChunkIDsAreUnique(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Sentence number one goes here. ", 30)

	chunks := chunk.Split(text)
	require.Greater(t, len(chunks), 1)

	seen := make(map[string]bool, len(chunks))
	for _, part := range chunks {
		require.NotEmpty(t, part.ID)
		assert.False(t, seen[part.ID], "duplicate chunk id %s", part.ID)

		seen[part.ID] = true
	}
}

func TestEstimateSpeechDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		text string
		want float64
	}{
		{
			name: "empty text",
			text: "",
			want: 0,
		},
		{
			name: "plain short words",
			text: "go on",
			want: 1.2,
		},
		{
			name: "sentence final pause",
			text: "Hello world.",
			want: 1.5,
		},
		{
			name: "long word with clause pause",
			text: "extraordinary,",
			want: 1.05,
		},
		{
			name: "very long word",
			text: "incomprehensibilities",
			want: 0.9,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := chunk.EstimateSpeechDuration(testCase.text)
			assert.InDelta(t, testCase.want, got, 1e-9)
		})
	}
}

func TestSingleWrapsLongTextWithoutSplitting(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("One more sentence here. ", 40)

	single := chunk.Single(text)

	assert.Equal(t, text, single.Text)
	assert.Equal(t, text, single.NewText)
	assert.Empty(t, single.ContextText)
	assert.True(t, single.IsFirstChunk)
	assert.True(t, single.IsLastChunk)
	assert.NotEmpty(t, single.ID)
}
