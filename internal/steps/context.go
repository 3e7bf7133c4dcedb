package steps

import (
	"encoding/json"
	"fmt"
)

// Context is the accumulated output of a run's steps, keyed by field name.
// It is immutable: With returns a new Context and never modifies the receiver.
type Context struct {
	fields map[string]any
}

// NewContext creates a context seeded with the target lead.
func NewContext(lead any) Context {
	return Context{}.With(FieldLead, lead)
}

// With returns a copy of c with field set to value.
func (c Context) With(field string, value any) Context {
	next := make(map[string]any, len(c.fields)+1)
	for k, v := range c.fields {
		next[k] = v
	}
	next[field] = value
	return Context{fields: next}
}

// Get returns the value of a field.
func (c Context) Get(field string) (any, bool) {
	v, ok := c.fields[field]
	return v, ok
}

// Has reports whether a field is present.
func (c Context) Has(field string) bool {
	_, ok := c.fields[field]
	return ok
}

// Snapshot returns a shallow copy of the fields.
func (c Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.fields))
	for k, v := range c.fields {
		out[k] = v
	}
	return out
}

// Subset marshals the named fields into an indented JSON object for a prompt.
// Absent fields are omitted.
func (c Context) Subset(fields ...string) (string, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := c.fields[f]; ok {
			out[f] = v
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal context fields %v: %w", fields, err)
	}
	return string(data), nil
}
