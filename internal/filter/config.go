package filter

import (
	"compress/gzip"

	"github.com/uploadhub/backend/internal/config"
	"github.com/uploadhub/backend/internal/upload"
)

// FromConfig assembles the filters enabled in cfg, in the order size
// limit, accept list, compression. It returns nil when none is enabled.
func FromConfig(cfg *config.AppConfig) upload.Filter {
	var filters []upload.Filter
	if limit := cfg.MaxFileSizeBytes(); limit > 0 {
		filters = append(filters, MaxSize(limit))
	}
	if cfg.Upload.Accept != "" {
		filters = append(filters, Accept(cfg.Upload.Accept))
	}
	if cfg.Upload.Compress {
		filters = append(filters, Gzip(gzip.DefaultCompression))
	}

	switch len(filters) {
	case 0:
		return nil
	case 1:
		return filters[0]
	default:
		return Chain(filters...)
	}
}
