// Package filter provides ready-made pre-transfer filters.
package filter

import (
	"context"

	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/upload"
)

// Chain runs filters in order. The first rejection or error ends the chain;
// a replacement becomes the input of the next filter. The chain approves
// the original file when no filter replaced it.
func Chain(filters ...upload.Filter) upload.Filter {
	return upload.FilterFunc(func(ctx context.Context, file *models.File) (upload.Decision, error) {
		current := file
		for _, f := range filters {
			if f == nil {
				continue
			}
			d, err := f.Check(ctx, current)
			if err != nil {
				return upload.Decision{}, err
			}
			switch d.Verdict {
			case upload.VerdictReject:
				return upload.Reject(), nil
			case upload.VerdictReplace:
				current = d.File
			}
		}
		if current != file {
			return upload.ReplaceWith(current), nil
		}
		return upload.Approve(), nil
	})
}

// MaxSize rejects files larger than limit bytes. A limit of zero or less
// accepts everything.
func MaxSize(limit int64) upload.Filter {
	return upload.FilterFunc(func(ctx context.Context, file *models.File) (upload.Decision, error) {
		if limit > 0 && file.Size > limit {
			return upload.Reject(), nil
		}
		return upload.Approve(), nil
	})
}

// Rename substitutes a file with the same content under the name returned
// by fn.
func Rename(fn func(name string) string) upload.Filter {
	return upload.FilterFunc(func(ctx context.Context, file *models.File) (upload.Decision, error) {
		name := fn(file.Name)
		if name == file.Name {
			return upload.Approve(), nil
		}
		renamed := models.NewFile(name, file.Size, file.Open)
		renamed.ContentType = file.ContentType
		return upload.ReplaceWith(renamed), nil
	})
}
