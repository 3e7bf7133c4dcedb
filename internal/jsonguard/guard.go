// Package jsonguard extracts and validates JSON objects from untrusted model output.
// Model responses are frequently wrapped in prose or markdown fences, so every step
// parses through this package instead of calling encoding/json directly.
package jsonguard

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/agency-orchestrator/internal/llm"
)

// Result is the outcome of SafeParse. Exactly one of Value or Err is meaningful.
type Result struct {
	OK    bool
	Value any
	// Envelope is the text that was actually decoded.
	Envelope string
	Err      string
}

// Object returns the parsed value as a JSON object, if it is one.
func (r Result) Object() (map[string]any, bool) {
	obj, ok := r.Value.(map[string]any)
	return obj, ok
}

// KeyCheck reports which required dot paths were absent.
type KeyCheck struct {
	OK      bool
	Missing []string
}

// ExtractEnvelope returns the substring from the first '{' to the last '}' inclusive.
// It reports false when either brace is missing or the last '}' precedes the first '{'.
func ExtractEnvelope(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// SafeParse decodes text as JSON, falling back to the brace envelope inside it.
// It never panics; failures are reported through Result.Err.
func SafeParse(text string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Sprintf("parse panic: %v", r)}
		}
	}()

	cleaned, _ := llm.StripFence(text)

	var value any
	directErr := json.Unmarshal([]byte(cleaned), &value)
	if directErr == nil {
		return Result{OK: true, Value: value, Envelope: cleaned}
	}

	envelope, ok := ExtractEnvelope(text)
	if !ok {
		return Result{Err: fmt.Sprintf("no JSON object found: %v", directErr)}
	}
	if err := json.Unmarshal([]byte(envelope), &value); err != nil {
		return Result{Err: fmt.Sprintf("invalid JSON envelope: %v", err)}
	}
	return Result{OK: true, Value: value, Envelope: envelope}
}

// ValidateKeys checks that every dot-separated path resolves to an existing key,
// walking own keys of non-null objects from the root. All missing paths are returned
// in the order they were given.
func ValidateKeys(obj any, paths []string) KeyCheck {
	missing := []string{}
	for _, path := range paths {
		if !hasPath(obj, path) {
			missing = append(missing, path)
		}
	}
	return KeyCheck{OK: len(missing) == 0, Missing: missing}
}

func hasPath(obj any, path string) bool {
	current := obj
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok || m == nil {
			return false
		}
		next, exists := m[segment]
		if !exists {
			return false
		}
		current = next
	}
	return true
}
