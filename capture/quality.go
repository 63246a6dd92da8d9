package capture

import (
	"fmt"
	"strings"
	"unicode"
)

// Quality carries the measured quality of one captured artifact pair.
type Quality struct {
	PDFBytes       int     `json:"pdf_bytes"`
	PageCount      int     `json:"page_count"`
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
	WordCount      int     `json:"word_count"`
}

// QualityError reports an artifact that failed a quality gate. Artifacts
// that trip it are discarded, never kept half-broken on disk.
type QualityError struct {
	URL     string
	Reason  string
	Quality Quality
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("capture: quality gate failed for %s: %s", e.URL, e.Reason)
}

// printableRatio is the share of printable characters in text. Private-use
// glyphs, the replacement character, and non-whitespace controls count as
// garbage; a low ratio means the PDF's fonts did not map to real text.
func printableRatio(text string) float64 {
	if text == "" {
		return 1.0
	}
	total, printable := 0, 0
	for _, r := range text {
		total++
		if garbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func garbageRune(r rune) bool {
	if r >= 0xE000 && r <= 0xF8FF { // Private Use Area
		return true
	}
	if r == 0xFFFD {
		return true
	}
	return r < 0x0020 && r != '\n' && r != '\r' && r != '\t'
}

// wordlikeRatio is the share of tokens that look like words (2 to 15
// runes). Shredded extraction produces single-glyph confetti or fused
// mega-tokens, both of which fall outside that band. CJK tokens are not
// space-delimited, so any token carrying Han runes counts as wordlike.
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if (n >= 2 && n <= 15) || hasHan(f) {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

// countWords counts words in mixed-script text: each Han ideograph is one
// word, everything else is counted by whitespace tokens.
func countWords(text string) int {
	han := 0
	var rest strings.Builder
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			han++
			rest.WriteByte(' ')
			continue
		}
		rest.WriteRune(r)
	}
	return han + len(strings.Fields(rest.String()))
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
