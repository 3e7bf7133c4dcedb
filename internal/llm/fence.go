package llm

import "strings"

const fence = "```"

// StripFence trims text and removes a wrapping markdown code fence. It returns the
// fenced body and the fence's info string ("json", "markdown", ...). Text after the
// closing fence is dropped; an unclosed fence runs to the end of the text.
func StripFence(text string) (body, lang string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, fence) {
		return text, ""
	}
	rest := text[len(fence):]
	if end := strings.LastIndex(rest, fence); end >= 0 {
		rest = rest[:end]
	}

	header, content, found := strings.Cut(rest, "\n")
	if found && isInfoString(header) {
		return strings.TrimSpace(content), strings.ToLower(strings.TrimSpace(header))
	}
	return strings.TrimSpace(rest), ""
}

// isInfoString reports whether the first fenced line is a language tag rather than content.
func isInfoString(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) < 20 && !strings.ContainsAny(line, " {[#\"")
}

// IsFenced reports whether text, once trimmed, is a complete fenced block.
func IsFenced(text string) bool {
	text = strings.TrimSpace(text)
	return len(text) >= 2*len(fence) && strings.HasPrefix(text, fence) && strings.HasSuffix(text, fence)
}
