// Package chunk splits long input text into ordered, context-carrying chunks
// sized for the generation engine.
//
// Every chunk after the first borrows the tail sentences of its predecessor
// as context: the engine hears them for continuity, and the trimmer removes
// them from the rendered audio afterwards. Sentences keep their trailing
// whitespace, so concatenating the NewText of all chunks in order rebuilds
// the input text byte for byte.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Chunking bounds.
const (
	// MaxChunkSize is the character budget for context plus new text.
	MaxChunkSize = 300

	// ContextSentences is how many trailing sentences a chunk borrows from
	// its predecessor.
	ContextSentences = 1
)

// Speech duration estimate weights, in seconds. The estimate is only a
// trimming fallback, never a scheduling input.
const (
	baseWordSeconds           = 0.6
	longWordBonusSeconds      = 0.1
	veryLongWordBonusSeconds  = 0.2
	sentenceFinalPauseSeconds = 0.3
	clausePauseSeconds        = 0.15
	longWordRunes             = 6
	veryLongWordRunes         = 10
)

// TextChunk is one unit of text to synthesize.
//
// Chunks are immutable once built, with one exception: ProsodyHint is set
// transiently by the generation controller.
type TextChunk struct {
	ID                       string
	Text                     string
	NewText                  string
	ContextText              string
	ProsodyHint              string
	Order                    int
	ContextSentenceCount     int
	ContextWordCount         int
	EstimatedContextDuration float64
	IsFirstChunk             bool
	IsLastChunk              bool
}

// Split divides text into ordered chunks within MaxChunkSize, borrowing
// ContextSentences of context across boundaries.
//
// Texts at or under MaxChunkSize become a single chunk with no context, as
// does any text containing only one sentence: a single sentence is never cut
// mid-sentence, however long it is.
func Split(text string) []TextChunk {
	if text == "" {
		return nil
	}

	if utf8.RuneCountInString(text) <= MaxChunkSize {
		return []TextChunk{newSingleChunk(text)}
	}

	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return []TextChunk{newSingleChunk(text)}
	}

	return buildChunks(sentences)
}

// Single wraps text as one chunk regardless of length, for pipelines running
// with chunking switched off.
func Single(text string) TextChunk {
	return newSingleChunk(text)
}

// buildChunks walks the sentences greedily. Each new chunk takes at least one
// sentence unconditionally, so the walk always advances even when a single
// sentence exceeds the budget.
func buildChunks(sentences []string) []TextChunk {
	var (
		chunks        []TextChunk
		prevSentences []string
	)

	position := 0

	for position < len(sentences) {
		contextText, contextCount := borrowContext(prevSentences)

		var (
			newSentences []string
			newText      strings.Builder
		)

		budget := MaxChunkSize - utf8.RuneCountInString(contextText)

		for position < len(sentences) {
			candidate := sentences[position]

			used := utf8.RuneCountInString(newText.String())
			if len(newSentences) > 0 && used+utf8.RuneCountInString(candidate) > budget {
				break
			}

			newText.WriteString(candidate)
			newSentences = append(newSentences, candidate)
			position++
		}

		chunks = append(chunks, TextChunk{
			ID:                       uuid.NewString(),
			Text:                     contextText + newText.String(),
			NewText:                  newText.String(),
			ContextText:              contextText,
			ProsodyHint:              "",
			Order:                    len(chunks),
			ContextSentenceCount:     contextCount,
			ContextWordCount:         len(strings.Fields(contextText)),
			EstimatedContextDuration: EstimateSpeechDuration(contextText),
			IsFirstChunk:             len(chunks) == 0,
			IsLastChunk:              false,
		})

		prevSentences = newSentences
	}

	chunks[len(chunks)-1].IsLastChunk = true

	return chunks
}

func newSingleChunk(text string) TextChunk {
	return TextChunk{
		ID:                       uuid.NewString(),
		Text:                     text,
		NewText:                  text,
		ContextText:              "",
		ProsodyHint:              "",
		Order:                    0,
		ContextSentenceCount:     0,
		ContextWordCount:         0,
		EstimatedContextDuration: 0,
		IsFirstChunk:             true,
		IsLastChunk:              true,
	}
}

// borrowContext takes the trailing ContextSentences sentences of the previous
// chunk. Sentences keep their separators, so the borrowed text concatenates
// cleanly in front of the new text.
func borrowContext(prevSentences []string) (string, int) {
	if len(prevSentences) == 0 {
		return "", 0
	}

	count := ContextSentences
	if count > len(prevSentences) {
		count = len(prevSentences)
	}

	return strings.Join(prevSentences[len(prevSentences)-count:], ""), count
}

// splitSentences cuts text after runs of sentence-final punctuation followed
// by whitespace. Each sentence keeps its trailing whitespace, so the pieces
// concatenate back to the input exactly.
func splitSentences(text string) []string {
	var sentences []string

	start := 0
	index := 0

	for index < len(text) {
		r, size := utf8.DecodeRuneInString(text[index:])
		if !isSentenceFinal(r) {
			index += size

			continue
		}

		end := index + size
		for end < len(text) {
			next, nextSize := utf8.DecodeRuneInString(text[end:])
			if !isSentenceFinal(next) {
				break
			}

			end += nextSize
		}

		if end >= len(text) {
			sentences = append(sentences, text[start:])
			start = len(text)
			index = end

			continue
		}

		next, _ := utf8.DecodeRuneInString(text[end:])
		if !unicode.IsSpace(next) {
			index = end

			continue
		}

		for end < len(text) {
			space, spaceSize := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(space) {
				break
			}

			end += spaceSize
		}

		sentences = append(sentences, text[start:end])
		start = end
		index = end
	}

	if start < len(text) {
		sentences = append(sentences, text[start:])
	}

	return sentences
}

func isSentenceFinal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// EstimateSpeechDuration predicts how long spoken text runs, in seconds.
// Longer words and pause punctuation stretch the estimate.
func EstimateSpeechDuration(text string) float64 {
	total := 0.0

	for _, word := range strings.Fields(text) {
		seconds := baseWordSeconds

		length := utf8.RuneCountInString(word)
		if length > longWordRunes {
			seconds += longWordBonusSeconds
		}

		if length > veryLongWordRunes {
			seconds += veryLongWordBonusSeconds
		}

		lastRune, _ := utf8.DecodeLastRuneInString(word)

		switch lastRune {
		case '.', '!', '?':
			seconds += sentenceFinalPauseSeconds
		case ',', ';', ':':
			seconds += clausePauseSeconds
		}

		total += seconds
	}

	return total
}
