// Package text_test tests input text normalization.
package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/narration-service/internal/narration/text"
)

func TestNormalizeExpandsAbbreviations(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("Dr. Smith met Mr. Jones.")
	assert.Equal(t, "Doctor Smith met Mister Jones.", got)
}

func TestNormalizeSpellsNumbers(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("Chapter 21 has 1250 words")
	assert.Equal(t, "Chapter twenty one has one thousand two hundred fifty words.", got)
}

func TestNormalizeLeavesHugeNumbersAsDigits(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("Serial 1000000 shipped.")
	assert.Equal(t, "Serial 1000000 shipped.", got)
}

func TestNormalizeCollapsesWhitespaceAndSymbols(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got := normalizer.Normalize("“Stay\tclose,”  she said…\nthen left")
	assert.Equal(t, `"Stay close," she said... then left.`, got)
}

func TestNormalizeAddsTerminalPunctuation(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	assert.Equal(t, "No ending.", normalizer.Normalize("No ending"))
	assert.Equal(t, "Already ended!", normalizer.Normalize("Already ended!"))
	assert.Equal(t, "Trailing comma.", normalizer.Normalize("Trailing comma,"))
}

func TestNormalizeEmptyInput(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	assert.Empty(t, normalizer.Normalize(""))
}
