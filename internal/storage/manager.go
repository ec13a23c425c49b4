package storage

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uploadhub/backend/internal/models"
)

// ErrNotFound is returned for unknown file ids.
var ErrNotFound = errors.New("file not found")

// ErrTooLarge is returned when an assembled upload exceeds its size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// StatusReceived marks a file that was stored completely.
const StatusReceived = "received"

// Store defines the interface for received-file storage.
type Store interface {
	Save(name, contentType string, fields map[string]string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	Rename(id string, newName string) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID string, name string, totalChunks int, encoding string, maxSize int64) (*models.FileInfo, error)
	AbortChunkedUpload(uploadID string) error
}

// LocalStore implements Store using the local filesystem. Metadata is kept
// in memory and, when a Catalog is attached, written through to it.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
	catalog   Catalog
	logger    *slog.Logger
}

// StoreOption configures a LocalStore.
type StoreOption func(*LocalStore)

// WithCatalog persists metadata to c and restores it on startup.
func WithCatalog(c Catalog) StoreOption {
	return func(s *LocalStore) { s.catalog = c }
}

// WithStoreLogger sets the logger used for catalog write failures.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *LocalStore) { s.logger = l }
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string, opts ...StoreOption) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.catalog != nil {
		if err := s.restore(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// restore loads catalog entries whose content is still on disk.
func (s *LocalStore) restore() error {
	infos, err := s.catalog.All()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	for _, info := range infos {
		if _, err := os.Stat(filepath.Join(s.uploadDir, info.ID)); err != nil {
			s.logger.Warn("catalog entry without content, dropping", "file_id", info.ID, "name", info.Name)
			if err := s.catalog.Delete(info.ID); err != nil {
				s.logger.Warn("catalog delete failed", "file_id", info.ID, "error", err)
			}
			continue
		}
		s.files[info.ID] = info
	}
	s.logger.Info("catalog restored", "files", len(s.files))
	return nil
}

// Save saves a file to the local filesystem.
func (s *LocalStore) Save(name, contentType string, fields map[string]string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:          id,
		Name:        name,
		Size:        size,
		ContentType: contentType,
		Fields:      fields,
		UploadedAt:  time.Now(),
		Status:      StatusReceived,
	}
	s.register(info)
	return info, nil
}

// SaveBytes saves an in-memory file.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	return s.Save(name, "", nil, bytes.NewReader(data))
}

func (s *LocalStore) register(info *models.FileInfo) {
	s.mu.Lock()
	s.files[info.ID] = info
	s.mu.Unlock()

	if s.catalog != nil {
		if err := s.catalog.Put(info); err != nil {
			s.logger.Warn("catalog write failed", "file_id", info.ID, "error", err)
		}
	}
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *info
	return &copied, nil
}

// List returns the most recent files. A non-positive limit returns all.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		copied := *info
		list = append(list, &copied)
	}
	s.mu.RUnlock()

	// Sort by UploadedAt desc
	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.files[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.mu.Unlock()
		return fmt.Errorf("deleting file: %w", err)
	}
	delete(s.files, id)
	s.mu.Unlock()

	if s.catalog != nil {
		if err := s.catalog.Delete(id); err != nil {
			s.logger.Warn("catalog delete failed", "file_id", id, "error", err)
		}
	}
	return nil
}

// Rename updates the display name of a file.
func (s *LocalStore) Rename(id string, newName string) (*models.FileInfo, error) {
	s.mu.Lock()
	info, ok := s.files[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info.Name = newName
	copied := *info
	s.mu.Unlock()

	if s.catalog != nil {
		if err := s.catalog.Put(&copied); err != nil {
			s.logger.Warn("catalog write failed", "file_id", id, "error", err)
		}
	}
	return &copied, nil
}

// GetFilePath returns the absolute path to a file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return filepath.Join(s.uploadDir, id), nil
}

func (s *LocalStore) chunkDir(uploadID string) string {
	return filepath.Join(s.uploadDir, "chunks", filepath.Base(uploadID))
}

// SaveChunk saves a single chunk to a temporary location.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	chunkDir := s.chunkDir(uploadID)
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	path := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", chunkIndex))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// CompleteChunkedUpload assembles all chunks into a final file. With
// encoding "gzip" the assembled stream is decompressed while it is written.
// When maxSize is positive, output beyond it fails with ErrTooLarge and
// nothing is stored.
func (s *LocalStore) CompleteChunkedUpload(uploadID string, name string, totalChunks int, encoding string, maxSize int64) (*models.FileInfo, error) {
	chunkDir := s.chunkDir(uploadID)
	defer os.RemoveAll(chunkDir)

	readers := make([]io.Reader, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		in, err := os.Open(filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			return nil, fmt.Errorf("opening chunk %d: %w", i, err)
		}
		defer in.Close()
		readers = append(readers, in)
	}

	var src io.Reader = io.MultiReader(readers...)
	if encoding == "gzip" {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	if maxSize > 0 {
		src = &capReader{r: io.LimitReader(src, maxSize+1), left: maxSize}
	}

	return s.Save(name, "", nil, src)
}

// capReader fails with ErrTooLarge once more than left bytes were read.
type capReader struct {
	r    io.Reader
	left int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

// AbortChunkedUpload discards any chunks stored for uploadID.
func (s *LocalStore) AbortChunkedUpload(uploadID string) error {
	if err := os.RemoveAll(s.chunkDir(uploadID)); err != nil {
		return fmt.Errorf("removing chunks: %w", err)
	}
	return nil
}
