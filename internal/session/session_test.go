package session

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard))
}

func TestSession_GetSetRemove(t *testing.T) {
	sess := New(store.NewMemoryStore(), testLogger())
	ctx := context.Background()

	var missing string
	assert.False(t, sess.GetItem("nope", &missing))

	require.NoError(t, sess.SetItem(ctx, "quotes_section_count", 42, false))

	var count int
	require.True(t, sess.GetItem("quotes_section_count", &count))
	assert.Equal(t, 42, count)

	sess.RemoveItem("quotes_section_count")
	assert.False(t, sess.GetItem("quotes_section_count", &count))
}

func TestSession_PersistWritesThrough(t *testing.T) {
	st := store.NewMemoryStore()
	sess := New(st, testLogger())
	ctx := context.Background()

	require.NoError(t, sess.SetItem(ctx, "recent_quotes", []string{"a", "b"}, true))

	value, ok := st.Get(ctx, "recent_quotes")
	require.True(t, ok)
	assert.JSONEq(t, `["a","b"]`, value)
}

func TestSession_NoPersistStaysLocal(t *testing.T) {
	st := store.NewMemoryStore()
	sess := New(st, testLogger())
	ctx := context.Background()

	require.NoError(t, sess.SetItem(ctx, "scratch", "v", false))

	_, ok := st.Get(ctx, "scratch")
	assert.False(t, ok)
}

func TestSession_GetItemCorruptValue(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "onenote", "{not json"))

	sess := New(st, testLogger())
	require.NoError(t, sess.Restore(ctx, "quotes", filepath.Join(t.TempDir(), "cache.json")))

	var v map[string]any
	assert.False(t, sess.GetItem("onenote", &v))
}

func TestSession_RestoreSeedsStateAndCacheFile(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "cache", `{"Account":{},"RefreshToken":{},"AccessToken":{}}`))
	require.NoError(t, st.Set(ctx, "onenote", `{"accessToken":"tok"}`))
	require.NoError(t, st.Set(ctx, "quotes_section_count", "17"))
	require.NoError(t, st.Set(ctx, "recent_quotes", `["id1","id2"]`))

	cachePath := filepath.Join(t.TempDir(), "nested", "cache.json")
	sess := New(st, testLogger())
	require.NoError(t, sess.Restore(ctx, "quotes", cachePath))

	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Account":{},"RefreshToken":{},"AccessToken":{}}`, string(data))

	var cred struct {
		AccessToken string `json:"accessToken"`
	}
	require.True(t, sess.GetItem("onenote", &cred))
	assert.Equal(t, "tok", cred.AccessToken)

	var count int
	require.True(t, sess.GetItem("quotes_section_count", &count))
	assert.Equal(t, 17, count)

	var recent []string
	require.True(t, sess.GetItem("recent_quotes", &recent))
	assert.Equal(t, []string{"id1", "id2"}, recent)
}

func TestSession_RestoreEmptyStore(t *testing.T) {
	sess := New(store.NewMemoryStore(), testLogger())
	cachePath := filepath.Join(t.TempDir(), "cache.json")

	require.NoError(t, sess.Restore(context.Background(), "quotes", cachePath))

	_, err := os.Stat(cachePath)
	assert.True(t, os.IsNotExist(err))
}
