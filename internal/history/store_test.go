package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

func TestLoadMissingKeyIsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())

	messages, err := store.Load("chat:document:readme")
	require.NoError(t, err)
	assert.Nil(t, messages)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	key := "chat:document:readme"

	saved := []models.Message{
		{Role: "user", Content: "hello", Time: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
		{Role: "assistant", Content: "hi there", Time: time.Date(2026, 8, 30, 10, 0, 5, 0, time.UTC)},
	}
	require.NoError(t, store.Save(key, saved))

	loaded, err := store.Load(key)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestAppend(t *testing.T) {
	store := NewStore(t.TempDir())
	key := "chat:ticket:42"

	require.NoError(t, store.Append(key, models.Message{Role: "user", Content: "one"}))
	require.NoError(t, store.Append(key, models.Message{Role: "assistant", Content: "two"}))

	loaded, err := store.Load(key)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "one", loaded[0].Content)
	assert.Equal(t, "two", loaded[1].Content)
}

func TestDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	key := "chat:document:readme"

	require.NoError(t, store.Save(key, []models.Message{{Role: "user", Content: "x"}}))
	require.NoError(t, store.Delete(key))

	loaded, err := store.Load(key)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Deleting an already-absent key is not an error
	require.NoError(t, store.Delete(key))
}

func TestSaveRejectsEmptyKey(t *testing.T) {
	store := NewStore(t.TempDir())
	assert.Error(t, store.Save("", nil))
}

func TestKeysWithPathSeparatorsStayInsideTheStore(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	key := "chat:workspace:src/main.go"
	require.NoError(t, store.Save(key, []models.Message{{Role: "user", Content: "x"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))

	loaded, err := store.Load(key)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
