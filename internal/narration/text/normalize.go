// Package text prepares raw input text for sentence segmentation and speech
// generation. Normalization runs once, before chunking, so the chunker only
// ever sees single-spaced text with unambiguous sentence boundaries.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Spelled-number bounds.
const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	// maxSpelledNumber is the largest integer converted to words; larger
	// values are left as digits for the engine to read.
	maxSpelledNumber = 999999
)

const whitespaceRegexPattern = `\s+`

const numberRegexPattern = `\d+`

// Normalizer rewrites raw text into the form the chunker and engine expect.
type Normalizer struct {
	whitespacePattern *regexp.Regexp
	numberPattern     *regexp.Regexp
	// Abbreviations are expanded so their trailing periods stop masquerading
	// as sentence boundaries during segmentation.
	abbreviationReplacer *strings.Replacer
	symbolReplacer       *strings.Replacer
}

// NewNormalizer compiles the patterns and replacement tables once.
func NewNormalizer() *Normalizer {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"Prof.", "Professor",
		"St.", "Saint",
		"vs.", "versus",
		"etc.", "et cetera",
		"e.g.", "for example",
		"i.e.", "that is",
	}

	symbols := []string{
		"—", " - ",
		"–", " - ",
		"‒", " - ",
		"…", "...",
		"“", `"`,
		"”", `"`,
		"‘", "'",
		"’", "'",
		"\r\n", " ",
		"\n", " ",
		"\t", " ",
	}

	return &Normalizer{
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		numberPattern:        regexp.MustCompile(numberRegexPattern),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		symbolReplacer:       strings.NewReplacer(symbols...),
	}
}

// Normalize applies the full rewrite pipeline. Cheap table replacements run
// before the regex passes.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	normalized := n.abbreviationReplacer.Replace(text)
	normalized = n.symbolReplacer.Replace(normalized)
	normalized = n.spellNumbers(normalized)
	normalized = n.whitespacePattern.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)

	return ensureTerminalPunctuation(normalized)
}

// spellNumbers converts bare integers to words so the engine reads them
// naturally instead of digit by digit.
func (n *Normalizer) spellNumbers(text string) string {
	return n.numberPattern.ReplaceAllStringFunc(text, func(match string) string {
		value, err := strconv.Atoi(match)
		if err != nil {
			return match
		}

		return numberToWords(value)
	})
}

// ensureTerminalPunctuation guarantees the text ends a sentence, which both
// segmentation and the engine's prosody rely on. Clause punctuation at the
// very end is promoted to a full stop; anything else gets one appended.
func ensureTerminalPunctuation(text string) string {
	if text == "" {
		return text
	}

	lastRune, size := utf8.DecodeLastRuneInString(text)

	switch lastRune {
	case '.', '!', '?':
		return text
	case ',', ';', ':':
		return text[:len(text)-size] + "."
	default:
		return text + "."
	}
}

var onesWords = []string{
	"zero", "one", "two", "three", "four",
	"five", "six", "seven", "eight", "nine",
}

var teenWords = []string{
	"ten", "eleven", "twelve", "thirteen", "fourteen",
	"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
}

var tensWords = []string{
	"", "", "twenty", "thirty", "forty",
	"fifty", "sixty", "seventy", "eighty", "ninety",
}

// numberToWords spells an integer in English, up to maxSpelledNumber.
func numberToWords(value int) string {
	if value < 0 || value > maxSpelledNumber {
		return strconv.Itoa(value)
	}

	if value == 0 {
		return onesWords[0]
	}

	var parts []string

	if thousands := value / numberBaseThousand; thousands > 0 {
		parts = append(parts, spellUnderThousand(thousands)+" thousand")
		value %= numberBaseThousand
	}

	if value > 0 {
		parts = append(parts, spellUnderThousand(value))
	}

	return strings.Join(parts, " ")
}

func spellUnderThousand(value int) string {
	if hundreds := value / numberBaseHundred; hundreds > 0 {
		result := onesWords[hundreds] + " hundred"
		if remainder := value % numberBaseHundred; remainder > 0 {
			result += " " + spellUnderHundred(remainder)
		}

		return result
	}

	return spellUnderHundred(value)
}

func spellUnderHundred(value int) string {
	switch {
	case value < numberBaseTen:
		return onesWords[value]
	case value < numberBaseTwenty:
		return teenWords[value-numberBaseTen]
	default:
		result := tensWords[value/numberBaseTen]
		if value%numberBaseTen > 0 {
			result += " " + onesWords[value%numberBaseTen]
		}

		return result
	}
}
