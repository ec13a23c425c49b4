package models

import "time"

// UploadStatus is the lifecycle state of a tracked file.
type UploadStatus string

const (
	UploadStatusReady     UploadStatus = "ready"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusSuccess   UploadStatus = "success"
	UploadStatusError     UploadStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusSuccess || s == UploadStatusError
}

// Valid reports whether s is one of the known statuses.
func (s UploadStatus) Valid() bool {
	switch s {
	case UploadStatusReady, UploadStatusUploading, UploadStatusSuccess, UploadStatusError:
		return true
	}
	return false
}

// TrackedFile is one file's upload lifecycle and presentation state.
type TrackedFile struct {
	ID          string       `json:"id" msgpack:"id" yaml:"id"`
	Name        string       `json:"name" msgpack:"name" yaml:"name"`
	Size        int64        `json:"size" msgpack:"size" yaml:"size"`
	Status      UploadStatus `json:"status" msgpack:"status" yaml:"status"`
	Percent     int          `json:"percent" msgpack:"percent" yaml:"percent"`
	Response    *Response    `json:"response,omitempty" msgpack:"response,omitempty" yaml:"response,omitempty"`
	Error       string       `json:"error,omitempty" msgpack:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt" msgpack:"createdAt" yaml:"createdAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty" msgpack:"completedAt,omitempty" yaml:"completedAt,omitempty"`

	// Payload is owned by the entry until the transfer ends.
	Payload *File `json:"-" msgpack:"-" yaml:"-"`
}
