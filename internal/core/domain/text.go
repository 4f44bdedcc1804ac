package domain

import (
	"regexp"
	"strings"
)

var (
	horizontalWS = regexp.MustCompile(`[ \t\r\f\v]+`)
	zeroWidth    = regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{FEFF}]`)
	blankRuns    = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// CleanText normalizes OCR output: NUL bytes become spaces, horizontal
// whitespace collapses, zero-width runes are stripped and runs of blank
// lines squeeze down to a single empty line.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\x00", " ")
	s = horizontalWS.ReplaceAllString(s, " ")
	s = zeroWidth.ReplaceAllString(s, "")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// WordCount counts whitespace-separated tokens, the page "words" metric
// persisted alongside every OCR result.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
