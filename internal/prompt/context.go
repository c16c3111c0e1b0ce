// Package prompt assembles the layered system instruction sent with every AI
// call: persona identity, long/short-term memory, the context window around
// the current reading position, and the fixed behavioral directives.
package prompt

import (
	"regexp"
	"strings"
)

// DefaultLookback is how far behind the target excerpt the context window
// reaches. The short lookahead keeps the persona from "reading ahead" of the
// user's position; the long lookback supplies what led up to this moment.
const (
	DefaultLookback = 2000
	lookahead       = 200
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ContextWindow returns the bounded span of fullText surrounding the first
// occurrence of target, with whitespace runs collapsed to single spaces.
// A target not present in fullText yields "", a silent miss rather than an error;
// callers must tolerate an empty context.
//
// Known limitation: only the first occurrence is considered. If the same
// excerpt text appears earlier in a long document, the window anchors there.
func ContextWindow(fullText, target string, lookback int) string {
	if fullText == "" || target == "" {
		return ""
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	idx := strings.Index(fullText, target)
	if idx < 0 {
		return ""
	}

	start := idx - lookback
	if start < 0 {
		start = 0
	}
	end := idx + len(target) + lookahead
	if end > len(fullText) {
		end = len(fullText)
	}

	return NormalizeWhitespace(fullText[start:end])
}

// NormalizeWhitespace collapses all whitespace runs to single spaces and
// trims the ends.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
