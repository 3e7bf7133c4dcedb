package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		body  string
		lang  string
	}{
		{"json fence", "```json\n{\"key\": \"value\"}\n```", `{"key": "value"}`, "json"},
		{"bare fence", "```\n{\"key\": 1}\n```", `{"key": 1}`, ""},
		{"markdown fence", "```markdown\n# Title\n\nBody\n```", "# Title\n\nBody", "markdown"},
		{"upper-case tag", "```JSON\n[1]\n```", "[1]", "json"},
		{"single line", "```{\"a\":1}```", `{"a":1}`, ""},
		{"heading is not a tag", "```\n# Title\n```", "# Title", ""},
		{"nested fence kept", "```markdown\n# A\n```go\nx := 1\n```\n```", "# A\n```go\nx := 1\n```", "markdown"},
		{"trailing prose dropped", "```json\n{}\n```\nHope this helps!", "{}", "json"},
		{"unclosed fence", "```json\n{\"a\":1}", `{"a":1}`, "json"},
		{"plain text", "  {\"a\":1}\n", `{"a":1}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, lang := StripFence(tt.input)
			assert.Equal(t, tt.body, body)
			assert.Equal(t, tt.lang, lang)
		})
	}
}

func TestIsFenced(t *testing.T) {
	assert.True(t, IsFenced(" ```md\n# A\n``` "))
	assert.False(t, IsFenced("```go\ncode\n```\nMore text"))
	assert.False(t, IsFenced("```"))
	assert.False(t, IsFenced("# A"))
}
