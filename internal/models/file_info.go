package models

import "time"

// FileInfo represents metadata about a file received by this server.
type FileInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"` // extra form fields sent alongside the file
	UploadedAt  time.Time         `json:"uploadedAt"`
	Status      string            `json:"status"` // "received", "error"
}
