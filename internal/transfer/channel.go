// Package transfer provides the channels that move one file's bytes to a
// destination and report progress along the way.
package transfer

import (
	"context"
	"fmt"

	"github.com/uploadhub/backend/internal/models"
)

// ProgressFunc receives byte counts as a transfer advances. total is zero
// or negative when the size is unknown.
type ProgressFunc func(loaded, total int64)

// Channel performs a single file transfer. Transfer blocks until the
// transfer reaches a terminal state; the returned response or error is that
// terminal event, and no progress call happens after Transfer returns.
type Channel interface {
	Transfer(ctx context.Context, file *models.File, progress ProgressFunc) (*models.Response, error)
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, file *models.File, progress ProgressFunc) (*models.Response, error)

// Transfer implements Channel.
func (f ChannelFunc) Transfer(ctx context.Context, file *models.File, progress ProgressFunc) (*models.Response, error) {
	return f(ctx, file, progress)
}

// StatusError is returned when the destination answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload rejected: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upload rejected: HTTP %d: %s", e.StatusCode, e.Body)
}

func report(progress ProgressFunc, loaded, total int64) {
	if progress != nil {
		progress(loaded, total)
	}
}
