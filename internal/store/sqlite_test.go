package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/notifyer/notifyer/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logging.NewLogger(logging.WithOutput(io.Discard))
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"), "default", logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_GetSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "onenote", `{"accessToken":"tok"}`))

	value, ok := s.Get(ctx, "onenote")
	assert.True(t, ok)
	assert.Equal(t, `{"accessToken":"tok"}`, value)

	_, ok = s.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestSQLiteStore_Overwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cache", "v1"))
	require.NoError(t, s.Set(ctx, "cache", "v2"))

	value, ok := s.Get(ctx, "cache")
	assert.True(t, ok)
	assert.Equal(t, "v2", value)
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "quotes_last_page", "11"))
	require.NoError(t, s.Delete(ctx, "quotes_last_page"))

	_, ok := s.Get(ctx, "quotes_last_page")
	assert.False(t, ok)
}

func TestSQLiteStore_UserIsolation(t *testing.T) {
	logger := logging.NewLogger(logging.WithOutput(io.Discard))
	path := filepath.Join(t.TempDir(), "records.db")

	a, err := NewSQLiteStore(path, "alpha", logger)
	require.NoError(t, err)
	defer a.Close()

	b, err := NewSQLiteStore(path, "beta", logger)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "onenote", "alpha-cred"))

	_, ok := b.Get(ctx, "onenote")
	assert.False(t, ok)
}

func TestSQLiteStore_ReopenPersists(t *testing.T) {
	logger := logging.NewLogger(logging.WithOutput(io.Discard))
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, "default", logger)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "cache", "blob"))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path, "default", logger)
	require.NoError(t, err)
	defer s2.Close()

	value, ok := s2.Get(ctx, "cache")
	assert.True(t, ok)
	assert.Equal(t, "blob", value)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok := s.Get(ctx, "onenote")
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "onenote", "x"))
	v, ok := s.Get(ctx, "onenote")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	require.NoError(t, s.Delete(ctx, "onenote"))
	_, ok = s.Get(ctx, "onenote")
	assert.False(t, ok)
}
