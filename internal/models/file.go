package models

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is a payload selected for upload. Content can be opened any number
// of times; each call returns a fresh reader positioned at the start.
type File struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`

	open func() (io.ReadCloser, error)
}

// NewFile creates a File backed by an arbitrary opener.
func NewFile(name string, size int64, open func() (io.ReadCloser, error)) *File {
	return &File{Name: name, Size: size, open: open}
}

// FileFromBytes creates an in-memory File.
func FileFromBytes(name string, data []byte) *File {
	return &File{
		Name: name,
		Size: int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return &bytesContent{Reader: bytes.NewReader(data)}, nil
		},
	}
}

// FileFromPath creates a File backed by a file on disk. The size is
// captured now; the file is opened lazily.
func FileFromPath(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &File{
		Name: filepath.Base(path),
		Size: info.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// Open returns a new reader over the file content.
func (f *File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %q has no content", f.Name)
	}
	return f.open()
}

// HasContent reports whether the file can be opened. Seeded records
// rendered from a previous session carry no content.
func (f *File) HasContent() bool {
	return f != nil && f.open != nil
}

// bytesContent gives an in-memory reader Seek and Close so channels that
// need a seekable body can use it directly.
type bytesContent struct {
	*bytes.Reader
}

func (b *bytesContent) Close() error { return nil }
