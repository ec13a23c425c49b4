package upload

import (
	"context"
	"errors"

	"github.com/uploadhub/backend/internal/models"
)

// ErrFilter wraps any error returned by a Filter.
var ErrFilter = errors.New("pre-transfer filter failed")

// Verdict is the outcome kind of a filter decision.
type Verdict int

const (
	VerdictApprove Verdict = iota
	VerdictReject
	VerdictReplace
)

func (v Verdict) String() string {
	switch v {
	case VerdictApprove:
		return "approve"
	case VerdictReject:
		return "reject"
	case VerdictReplace:
		return "replace"
	}
	return "unknown"
}

// Decision is what a filter decided for one file.
type Decision struct {
	Verdict Verdict
	File    *models.File // set for VerdictReplace
}

// Approve transfers the original file.
func Approve() Decision { return Decision{Verdict: VerdictApprove} }

// Reject drops the file silently.
func Reject() Decision { return Decision{Verdict: VerdictReject} }

// ReplaceWith transfers f instead of the original file.
func ReplaceWith(f *models.File) Decision { return Decision{Verdict: VerdictReplace, File: f} }

// Filter is consulted exactly once per file before its transfer starts.
// Check may block, for instance while it produces a substitute file; the
// file's task waits for it without holding up any other file.
type Filter interface {
	Check(ctx context.Context, file *models.File) (Decision, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, file *models.File) (Decision, error)

// Check implements Filter.
func (f FilterFunc) Check(ctx context.Context, file *models.File) (Decision, error) {
	return f(ctx, file)
}

// resolve runs the filter and returns the file to transfer, or nil when the
// file was rejected.
func resolve(ctx context.Context, filter Filter, file *models.File) (*models.File, error) {
	if filter == nil {
		return file, nil
	}
	d, err := filter.Check(ctx, file)
	if err != nil {
		return nil, err
	}
	switch d.Verdict {
	case VerdictReject:
		return nil, nil
	case VerdictReplace:
		if d.File == nil {
			return nil, errors.New("replacement decision without a file")
		}
		return d.File, nil
	default:
		return file, nil
	}
}
