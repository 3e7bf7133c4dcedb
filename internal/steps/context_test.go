package steps

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_WithDoesNotMutate(t *testing.T) {
	base := NewContext(map[string]any{"id": "l1"})
	next := base.With("research", map[string]any{"summary": "s"})

	assert.False(t, base.Has("research"))
	assert.True(t, next.Has("research"))
	assert.Len(t, base.Snapshot(), 1)
	assert.Len(t, next.Snapshot(), 2)
}

func TestContext_ZeroValue(t *testing.T) {
	var c Context
	assert.False(t, c.Has("lead"))
	_, ok := c.Get("lead")
	assert.False(t, ok)
	assert.Empty(t, c.Snapshot())

	c2 := c.With("a", 1)
	v, ok := c2.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestContext_Snapshot(t *testing.T) {
	c := NewContext("lead").With("a", 1)
	snap := c.Snapshot()
	snap["b"] = 2

	assert.False(t, c.Has("b"))
	if diff := cmp.Diff(map[string]any{"lead": "lead", "a": 1}, c.Snapshot()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestContext_Subset(t *testing.T) {
	c := NewContext("l").With("a", map[string]any{"x": 1}).With("b", "two")

	out, err := c.Subset("a", "missing")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"x":1}}`, out)
}
