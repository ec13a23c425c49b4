package transfer

import (
	"encoding/json"

	"github.com/uploadhub/backend/internal/models"
)

// Message types of the chunked websocket upload protocol.
const (
	// Client -> Server
	MsgTypeUploadInit     = "upload:init"
	MsgTypeUploadChunk    = "upload:chunk"
	MsgTypeUploadComplete = "upload:complete"
	MsgTypePing           = "ping"

	// Server -> Client
	MsgTypeConnected  = "connected"
	MsgTypeAck        = "ack"
	MsgTypeProgress   = "progress"
	MsgTypeProcessing = "processing"
	MsgTypeComplete   = "complete"
	MsgTypeError      = "error"
	MsgTypePong       = "pong"
)

// WSMessage is the envelope for every websocket frame.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// UploadInitPayload opens an upload session.
type UploadInitPayload struct {
	FileName    string `json:"fileName"`
	TotalChunks int    `json:"totalChunks"`
	TotalSize   int64  `json:"totalSize"`
	Encoding    string `json:"encoding,omitempty"` // "gzip", "none"
}

// UploadChunkPayload carries one base64 chunk.
type UploadChunkPayload struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"`
	IsLast     bool   `json:"isLast,omitempty"`
}

// UploadCompletePayload asks the server to assemble the session.
type UploadCompletePayload struct {
	UploadID    string `json:"uploadId"`
	FileName    string `json:"fileName"`
	TotalChunks int    `json:"totalChunks"`
	TotalSize   int64  `json:"totalSize"`
	Encoding    string `json:"encoding,omitempty"`
}

// WSProgressResponse reports chunk receipt or server-side processing.
type WSProgressResponse struct {
	Type     string  `json:"type"`
	UploadID string  `json:"uploadId,omitempty"`
	Progress float64 `json:"progress"`
	Received int64   `json:"received,omitempty"` // bytes received so far
	Stage    string  `json:"stage,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// WSCompleteResponse carries the stored file's metadata.
type WSCompleteResponse struct {
	Type     string           `json:"type"`
	UploadID string           `json:"uploadId,omitempty"`
	FileInfo *models.FileInfo `json:"fileInfo,omitempty"`
}

// WSErrorResponse reports a protocol or storage failure.
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// MustJSON marshals v, falling back to an empty object.
func MustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
