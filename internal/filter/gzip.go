package filter

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/upload"
)

// Gzip replaces each file with a gzip-compressed copy named "<name>.gz".
// Compression runs while the file's task waits at its filter step; other
// files proceed meanwhile. Files already ending in .gz are approved as is.
func Gzip(level int) upload.Filter {
	return upload.FilterFunc(func(ctx context.Context, file *models.File) (upload.Decision, error) {
		if strings.HasSuffix(file.Name, ".gz") {
			return upload.Approve(), nil
		}
		src, err := file.Open()
		if err != nil {
			return upload.Decision{}, fmt.Errorf("opening %s: %w", file.Name, err)
		}
		defer src.Close()

		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return upload.Decision{}, err
		}
		zw.Name = file.Name
		if _, err := io.Copy(zw, &ctxReader{ctx: ctx, r: src}); err != nil {
			return upload.Decision{}, fmt.Errorf("compressing %s: %w", file.Name, err)
		}
		if err := zw.Close(); err != nil {
			return upload.Decision{}, fmt.Errorf("compressing %s: %w", file.Name, err)
		}

		compressed := models.FileFromBytes(file.Name+".gz", buf.Bytes())
		compressed.ContentType = "application/gzip"
		return upload.ReplaceWith(compressed), nil
	})
}

// ctxReader stops a long copy when ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
