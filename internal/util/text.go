// Package util provides small text helpers shared by the CLI and the
// notification layer.
package util

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

// ansiPattern matches CSI sequences (with private mode ?) and OSC sequences
// (title setting etc).
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\a\x1b]*(\a|\x1b\\)`)

// StripANSI removes ANSI escape sequences from terminal output so pattern
// matching works on the visible text.
func StripANSI(text string) string {
	return ansiPattern.ReplaceAllString(text, "")
}

// LastLines returns the last n lines of text. If the text has fewer than n
// lines, the entire text is returned.
func LastLines(text string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// Truncate shortens s to at most maxWidth display cells, appending "..." when
// content was dropped. Width is measured with runewidth so wide characters
// don't overflow table columns.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// Pluralize returns singular or plural form based on count.
func Pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}
