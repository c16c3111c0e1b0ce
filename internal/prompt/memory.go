package prompt

import (
	"strings"
)

// Fixed substitutions for absent memory.
const (
	noRecentDiscussion = "(no recent discussion)"
	defaultLongTerm    = "We just met. I don't know much about this reader yet."
)

const shortTermContentLimit = 50

// InteractionRecord is one recent exchange rendered into short-term memory.
type InteractionRecord struct {
	Topic   string
	Role    string
	Content string
}

// FormatShortTermMemory renders recent interaction records as a compact log,
// one line per record, in the order given; callers pass oldest first so the
// result reads chronologically. Content is truncated to 50 characters.
func FormatShortTermMemory(records []InteractionRecord) string {
	if len(records) == 0 {
		return noRecentDiscussion
	}

	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		topic := r.Topic
		if topic == "" {
			topic = "chat"
		}
		b.WriteString("- [")
		b.WriteString(topic)
		b.WriteString("] ")
		b.WriteString(r.Role)
		b.WriteString(": ")
		b.WriteString(truncate(r.Content, shortTermContentLimit))
	}
	return b.String()
}

// LongTermOrDefault substitutes the fixed "we just met" sentence when the
// persona has no consolidated memory yet.
func LongTermOrDefault(longTerm string) string {
	if strings.TrimSpace(longTerm) == "" {
		return defaultLongTerm
	}
	return longTerm
}

// truncate limits s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// Truncate is the exported truncation used for hard-limited UI labels
// (topic summaries).
func Truncate(s string, max int) string {
	return truncate(s, max)
}
