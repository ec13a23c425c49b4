package filter

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/upload"
)

// sniffLen is how many leading bytes are read for content detection.
const sniffLen = 3072

// Accept admits files matching an accept list such as ".png,.jpg,image/*,
// application/pdf". Extensions match the file name; MIME types and
// wildcards match the type detected from the file content. An empty list
// accepts everything.
func Accept(list string) upload.Filter {
	var exts, types []string
	for _, item := range strings.Split(list, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		switch {
		case item == "":
		case strings.HasPrefix(item, "."):
			exts = append(exts, item)
		default:
			types = append(types, item)
		}
	}

	return upload.FilterFunc(func(ctx context.Context, file *models.File) (upload.Decision, error) {
		if len(exts) == 0 && len(types) == 0 {
			return upload.Approve(), nil
		}

		ext := strings.ToLower(filepath.Ext(file.Name))
		for _, e := range exts {
			if ext == e {
				return upload.Approve(), nil
			}
		}
		if len(types) == 0 {
			return upload.Reject(), nil
		}

		mt, err := detect(file)
		if err != nil {
			return upload.Decision{}, err
		}
		if mt != nil {
			for _, t := range types {
				if matchType(mt, t) {
					return upload.Approve(), nil
				}
			}
		}
		return upload.Reject(), nil
	})
}

func detect(file *models.File) (*mimetype.MIME, error) {
	if !file.HasContent() {
		return nil, nil
	}
	r, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s for type detection: %w", file.Name, err)
	}
	defer r.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading %s for type detection: %w", file.Name, err)
	}
	return mimetype.Detect(buf[:n]), nil
}

// matchType matches pattern ("image/png", "image/*") against mt and its
// parents, so "text/plain" also admits text/csv and friends.
func matchType(mt *mimetype.MIME, pattern string) bool {
	for m := mt; m != nil; m = m.Parent() {
		name := strings.ToLower(m.String())
		if i := strings.Index(name, ";"); i >= 0 {
			name = name[:i]
		}
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.HasPrefix(name, prefix+"/") {
				return true
			}
			continue
		}
		if name == pattern {
			return true
		}
	}
	return false
}
