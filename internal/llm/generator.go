package llm

import (
	"context"
	"fmt"
	"strings"
)

// Request is a single text generation call issued by a pipeline step.
type Request struct {
	// Module identifies the calling step; providers may route on it.
	Module            string
	Prompt            string
	SystemInstruction string
	// ResponseSchema is an optional JSON Schema document the output should follow.
	ResponseSchema string
	Tier           ModelTier
}

// Generator is the text generation capability consumed by the step library.
// Implementations return raw model text; failures are returned as errors.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// SchemaField defines a single field in an expected JSON output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "string", "[]string", "map[string]string"
	Description string // Description for the LLM
	Required    bool   // Whether this field is required
}

// BuildShapeInstruction renders the expected output object for a prompt.
func BuildShapeInstruction(root string, fields []SchemaField) string {
	var sb strings.Builder

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	sb.WriteString(fmt.Sprintf("  \"%s\": {\n", root))
	for i, field := range fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "string"
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("    \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("  }\n}\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n")
	return sb.String()
}
