package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "agency.leads", "[]"))
	v, ok, err := s.Get(ctx, "agency.leads")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", v)

	require.NoError(t, s.Set(ctx, "agency.leads", `[{"id":"a"}]`))
	v, _, err = s.Get(ctx, "agency.leads")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, v)

	require.NoError(t, s.Delete(ctx, "agency.leads"))
	_, ok, err = s.Get(ctx, "agency.leads")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestMemory_Contract(t *testing.T) {
	testStoreContract(t, NewMemory())
}

func TestSQLite_Contract(t *testing.T) {
	testStoreContract(t, openTestSQLite(t))
}

func TestSQLite_FileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "agency.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "v"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemory_Quota(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.MaxBytes = 10

	require.NoError(t, m.Set(ctx, "k", "12345"))
	// Overwriting the same key only counts the new value.
	require.NoError(t, m.Set(ctx, "k", "123456789"))
	assert.ErrorIs(t, m.Set(ctx, "k2", "1234567890"), ErrQuotaExceeded)

	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "123456789", v)
	assert.Equal(t, 1, m.size())
}

func TestMemory_IsNotSwapper(t *testing.T) {
	var s Store = NewMemory()
	_, ok := s.(Swapper)
	assert.False(t, ok)
}

func TestSQLite_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	ok, err := s.CompareAndSwap(ctx, "mutex", nil, "a")
	require.NoError(t, err)
	assert.True(t, ok, "insert when absent")

	ok, err = s.CompareAndSwap(ctx, "mutex", nil, "b")
	require.NoError(t, err)
	assert.False(t, ok, "absent expectation fails once the key exists")

	stale := "x"
	ok, err = s.CompareAndSwap(ctx, "mutex", &stale, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	current := "a"
	ok, err = s.CompareAndSwap(ctx, "mutex", &current, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	v, _, _ := s.Get(ctx, "mutex")
	assert.Equal(t, "b", v)
}

func TestSQLite_CompareAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	require.NoError(t, s.Set(ctx, "mutex", "owner-1"))

	ok, err := s.CompareAndDelete(ctx, "mutex", "owner-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndDelete(ctx, "mutex", "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, exists, _ := s.Get(ctx, "mutex")
	assert.False(t, exists)
}
