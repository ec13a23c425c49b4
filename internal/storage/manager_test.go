// manager_test.go - Tests for storage layer
package storage

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "uploads")

		store, err := NewLocalStore(uploadDir)
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		if store.uploadDir != uploadDir {
			t.Errorf("Expected uploadDir %s, got %s", uploadDir, store.uploadDir)
		}
		if _, err := os.Stat(uploadDir); os.IsNotExist(err) {
			t.Error("Expected upload directory to be created")
		}
	})
}

func TestLocalStore_Save(t *testing.T) {
	t.Run("saves file with metadata", func(t *testing.T) {
		store := createTestStore(t)

		content := "Hello, World!"
		fields := map[string]string{"demo": "test"}
		info, err := store.Save("test.txt", "text/plain", fields, strings.NewReader(content))
		if err != nil {
			t.Fatalf("Failed to save file: %v", err)
		}

		if info.ID == "" {
			t.Error("Expected ID to be set")
		}
		if info.Name != "test.txt" {
			t.Errorf("Expected name 'test.txt', got %v", info.Name)
		}
		if info.Size != int64(len(content)) {
			t.Errorf("Expected size %d, got %d", len(content), info.Size)
		}
		if info.ContentType != "text/plain" {
			t.Errorf("Expected content type text/plain, got %v", info.ContentType)
		}
		if info.Fields["demo"] != "test" {
			t.Errorf("Expected field demo=test, got %v", info.Fields)
		}
		if info.Status != StatusReceived {
			t.Errorf("Expected status %q, got %q", StatusReceived, info.Status)
		}

		data, err := os.ReadFile(filepath.Join(store.uploadDir, info.ID))
		if err != nil {
			t.Fatalf("Failed to read saved file: %v", err)
		}
		if string(data) != content {
			t.Errorf("Expected content %q, got %q", content, string(data))
		}
	})

	t.Run("removes partial file on read error", func(t *testing.T) {
		store := createTestStore(t)

		_, err := store.Save("broken.txt", "", nil, &failingReader{})
		if err == nil {
			t.Fatal("Expected error when reader fails")
		}

		entries, _ := os.ReadDir(store.uploadDir)
		if len(entries) != 0 {
			t.Errorf("Expected no files left behind, found %d", len(entries))
		}
	})
}

func TestLocalStore_SaveBytes(t *testing.T) {
	store := createTestStore(t)

	info, err := store.SaveBytes("data.bin", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Failed to save bytes: %v", err)
	}
	if info.Size != 3 {
		t.Errorf("Expected size 3, got %d", info.Size)
	}
}

func TestLocalStore_Get(t *testing.T) {
	store := createTestStore(t)
	saved, _ := store.SaveBytes("a.txt", []byte("a"))

	got, err := store.Get(saved.ID)
	if err != nil {
		t.Fatalf("Failed to get file: %v", err)
	}
	if got.Name != "a.txt" {
		t.Errorf("Expected name a.txt, got %v", got.Name)
	}

	// The returned value is a copy.
	got.Name = "changed"
	again, _ := store.Get(saved.ID)
	if again.Name != "a.txt" {
		t.Error("Get should not expose internal state")
	}

	_, err = store.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLocalStore_List(t *testing.T) {
	store := createTestStore(t)

	for _, name := range []string{"first", "second", "third"} {
		if _, err := store.SaveBytes(name, []byte(name)); err != nil {
			t.Fatalf("Failed to save %s: %v", name, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	list, err := store.List(2)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(list))
	}
	if list[0].Name != "third" || list[1].Name != "second" {
		t.Errorf("Expected newest first, got %s, %s", list[0].Name, list[1].Name)
	}

	all, _ := store.List(0)
	if len(all) != 3 {
		t.Errorf("Expected 3 files with no limit, got %d", len(all))
	}
}

func TestLocalStore_Delete(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.SaveBytes("gone.txt", []byte("x"))

	if err := store.Delete(info.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.uploadDir, info.ID)); !os.IsNotExist(err) {
		t.Error("Expected file to be removed from disk")
	}
	if err := store.Delete(info.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLocalStore_Rename(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.SaveBytes("old.txt", []byte("x"))

	renamed, err := store.Rename(info.ID, "new.txt")
	if err != nil {
		t.Fatalf("Failed to rename: %v", err)
	}
	if renamed.Name != "new.txt" {
		t.Errorf("Expected new.txt, got %v", renamed.Name)
	}
	if _, err := store.Rename("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLocalStore_GetFilePath(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.SaveBytes("p.txt", []byte("x"))

	path, err := store.GetFilePath(info.ID)
	if err != nil {
		t.Fatalf("Failed to get path: %v", err)
	}
	if path != filepath.Join(store.uploadDir, info.ID) {
		t.Errorf("Unexpected path %s", path)
	}
	if _, err := store.GetFilePath("missing"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLocalStore_CompleteChunkedUpload(t *testing.T) {
	t.Run("assembles chunks into final file", func(t *testing.T) {
		store := createTestStore(t)

		uploadID := "upload-complete"
		chunks := []string{"Hello ", "World", "!"}
		for i, content := range chunks {
			if err := store.SaveChunk(uploadID, i, strings.NewReader(content)); err != nil {
				t.Fatalf("Failed to save chunk %d: %v", i, err)
			}
		}

		info, err := store.CompleteChunkedUpload(uploadID, "assembled.txt", len(chunks), "", 0)
		if err != nil {
			t.Fatalf("Failed to complete upload: %v", err)
		}
		if info.Size != int64(len("Hello World!")) {
			t.Errorf("Expected size %d, got %d", len("Hello World!"), info.Size)
		}

		data, _ := os.ReadFile(filepath.Join(store.uploadDir, info.ID))
		if string(data) != "Hello World!" {
			t.Errorf("Expected 'Hello World!', got '%s'", string(data))
		}
		if _, err := os.Stat(filepath.Join(store.uploadDir, "chunks", uploadID)); !os.IsNotExist(err) {
			t.Error("Chunk directory should be cleaned up")
		}
	})

	t.Run("decompresses gzip encoding", func(t *testing.T) {
		store := createTestStore(t)

		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write([]byte("compressed payload"))
		zw.Close()
		raw := buf.Bytes()
		half := len(raw) / 2

		store.SaveChunk("gz", 0, bytes.NewReader(raw[:half]))
		store.SaveChunk("gz", 1, bytes.NewReader(raw[half:]))

		info, err := store.CompleteChunkedUpload("gz", "plain.txt", 2, "gzip", 0)
		if err != nil {
			t.Fatalf("Failed to complete upload: %v", err)
		}
		data, _ := os.ReadFile(filepath.Join(store.uploadDir, info.ID))
		if string(data) != "compressed payload" {
			t.Errorf("Expected decompressed content, got %q", string(data))
		}
	})

	t.Run("rejects gzip output over the size limit", func(t *testing.T) {
		store := createTestStore(t)

		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write(bytes.Repeat([]byte("a"), 64*1024))
		zw.Close()
		store.SaveChunk("bomb", 0, bytes.NewReader(buf.Bytes()))

		_, err := store.CompleteChunkedUpload("bomb", "bomb.txt", 1, "gzip", 1024)
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("Expected ErrTooLarge, got %v", err)
		}
		files, _ := store.List(0)
		if len(files) != 0 {
			t.Errorf("Expected nothing stored, got %d files", len(files))
		}
		entries, _ := os.ReadDir(store.uploadDir)
		for _, e := range entries {
			if !e.IsDir() {
				t.Errorf("Unexpected leftover file %s", e.Name())
			}
		}
	})

	t.Run("accepts output exactly at the size limit", func(t *testing.T) {
		store := createTestStore(t)
		store.SaveChunk("exact", 0, strings.NewReader("12345678"))

		info, err := store.CompleteChunkedUpload("exact", "exact.txt", 1, "", 8)
		if err != nil {
			t.Fatalf("Failed to complete upload: %v", err)
		}
		if info.Size != 8 {
			t.Errorf("Expected size 8, got %d", info.Size)
		}
	})

	t.Run("returns error for missing chunks", func(t *testing.T) {
		store := createTestStore(t)

		if err := store.SaveChunk("upload-incomplete", 0, strings.NewReader("chunk0")); err != nil {
			t.Fatalf("Failed to save chunk: %v", err)
		}
		if _, err := store.CompleteChunkedUpload("upload-incomplete", "incomplete.txt", 3, "", 0); err == nil {
			t.Error("Expected error when chunks are missing")
		}
	})

	t.Run("abort removes chunks", func(t *testing.T) {
		store := createTestStore(t)
		store.SaveChunk("aborted", 0, strings.NewReader("x"))

		if err := store.AbortChunkedUpload("aborted"); err != nil {
			t.Fatalf("Failed to abort: %v", err)
		}
		if _, err := os.Stat(filepath.Join(store.uploadDir, "chunks", "aborted")); !os.IsNotExist(err) {
			t.Error("Chunk directory should be removed")
		}
	})
}

func TestLocalStore_ConcurrentAccess(t *testing.T) {
	store := createTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			content := "Content " + string(rune('0'+n))
			if _, err := store.Save("file.txt", "", nil, strings.NewReader(content)); err != nil {
				t.Errorf("Failed to save file: %v", err)
			}
		}(i)
	}
	wg.Wait()

	files, err := store.List(20)
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if len(files) != 10 {
		t.Errorf("Expected 10 files, got %d", len(files))
	}
}

// failingReader fails on the first read.
type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
