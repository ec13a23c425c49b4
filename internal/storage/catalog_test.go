package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uploadhub/backend/internal/models"
)

func openTestCatalog(t *testing.T, path string) *DuckCatalog {
	t.Helper()
	c, err := OpenDuckCatalog(path, CatalogOptions{Threads: 1, MemoryLimit: "64MB"})
	require.NoError(t, err)
	return c
}

func TestDuckCatalog_PutAllDelete(t *testing.T) {
	c := openTestCatalog(t, filepath.Join(t.TempDir(), "catalog.duckdb"))
	defer c.Close()

	older := &models.FileInfo{ID: "a", Name: "a.txt", Size: 1, UploadedAt: time.Now().Add(-time.Minute), Status: StatusReceived}
	newer := &models.FileInfo{ID: "b", Name: "b.png", Size: 2, ContentType: "image/png",
		Fields: map[string]string{"demo": "test"}, UploadedAt: time.Now(), Status: StatusReceived}
	require.NoError(t, c.Put(older))
	require.NoError(t, c.Put(newer))

	all, err := c.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "image/png", all[0].ContentType)
	assert.Equal(t, map[string]string{"demo": "test"}, all[0].Fields)
	assert.WithinDuration(t, newer.UploadedAt, all[0].UploadedAt, time.Millisecond)
	assert.Nil(t, all[1].Fields)

	// Put replaces by id.
	older.Name = "renamed.txt"
	require.NoError(t, c.Put(older))
	require.NoError(t, c.Delete("b"))
	require.NoError(t, c.Delete("missing"))

	all, err = c.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed.txt", all[0].Name)
}

func TestLocalStore_RestoresFromCatalog(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "catalog.duckdb")
	uploadDir := filepath.Join(dir, "uploads")

	c := openTestCatalog(t, dbPath)
	store, err := NewLocalStore(uploadDir, WithCatalog(c))
	require.NoError(t, err)

	kept, err := store.SaveBytes("kept.txt", []byte("keep"))
	require.NoError(t, err)
	lost, err := store.SaveBytes("lost.txt", []byte("lose"))
	require.NoError(t, err)
	_, err = store.Rename(kept.ID, "kept-renamed.txt")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// Content removed behind the store's back is dropped on restore.
	require.NoError(t, os.Remove(filepath.Join(uploadDir, lost.ID)))

	c = openTestCatalog(t, dbPath)
	defer c.Close()
	restored, err := NewLocalStore(uploadDir, WithCatalog(c))
	require.NoError(t, err)

	list, err := restored.List(0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
	assert.Equal(t, "kept-renamed.txt", list[0].Name)

	all, err := c.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
