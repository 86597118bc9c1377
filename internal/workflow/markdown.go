package workflow

import (
	"time"
)

// FallbackMarkdown is the deterministic placeholder substituted when the
// summarizer returns no usable text. It mirrors the section template so a
// SUCCEEDED job always carries a non-empty, well-formed result.
func FallbackMarkdown(now time.Time) string {
	return "# Voice Note — " + now.UTC().Format(time.RFC3339) + "\n\n" +
		"## Title - ...\n\n" +
		"## Summary\n\n- ...\n\n" +
		"## Key Points\n\n- ...\n- ...\n\n" +
		"## Tasks\n\n- [ ] ...\n\n" +
		"## Reminders\n\n- ...\n\n" +
		"## Follow up Questions\n\n- ..."
}

// AssembleResult returns the model output, or the placeholder when the
// output is empty.
func AssembleResult(output string, now time.Time) string {
	if output == "" {
		return FallbackMarkdown(now)
	}
	return output
}

// TruncateChars keeps the first max characters of s and drops the rest.
func TruncateChars(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
