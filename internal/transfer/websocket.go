package transfer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/uploadhub/backend/internal/models"
)

// DefaultChunkSize is the websocket chunk size when none is configured.
const DefaultChunkSize = 256 * 1024

// WebSocketConfig configures a WebSocket channel.
type WebSocketConfig struct {
	URL       string // ws:// or wss:// endpoint
	ChunkSize int
	Headers   map[string]string
	Dialer    *websocket.Dialer
}

// WebSocket uploads files over the chunked websocket protocol, one
// connection per file.
type WebSocket struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocket creates a WebSocket channel.
func NewWebSocket(cfg WebSocketConfig) (*WebSocket, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket channel: URL is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		}
	}
	return &WebSocket{cfg: cfg, dialer: dialer}, nil
}

// Transfer implements Channel.
func (w *WebSocket) Transfer(ctx context.Context, file *models.File, progress ProgressFunc) (*models.Response, error) {
	if !file.HasContent() {
		return nil, errNoContent
	}
	content, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", file.Name, err)
	}
	defer content.Close()

	header := http.Header{}
	for k, v := range w.cfg.Headers {
		header.Set(k, v)
	}
	conn, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("dialing %s: %w", w.cfg.URL, err)
	}
	defer conn.Close()

	// Unblock reads if the caller goes away.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s := &wsSession{conn: conn}
	totalChunks := int((file.Size + int64(w.cfg.ChunkSize) - 1) / int64(w.cfg.ChunkSize))
	if totalChunks == 0 {
		totalChunks = 1
	}

	if err := s.send(MsgTypeUploadInit, "", UploadInitPayload{
		FileName:    file.Name,
		TotalChunks: totalChunks,
		TotalSize:   file.Size,
		Encoding:    "none",
	}); err != nil {
		return nil, err
	}
	ack, err := s.await(MsgTypeAck)
	if err != nil {
		return nil, err
	}
	uploadID := ack.ID

	buf := make([]byte, w.cfg.ChunkSize)
	var sent int64
	for i := 0; i < totalChunks; i++ {
		n, readErr := io.ReadFull(content, buf)
		if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("reading %s: %w", file.Name, readErr)
		}
		if err := s.send(MsgTypeUploadChunk, uploadID, UploadChunkPayload{
			UploadID:   uploadID,
			ChunkIndex: i,
			Data:       base64.StdEncoding.EncodeToString(buf[:n]),
			IsLast:     i == totalChunks-1,
		}); err != nil {
			return nil, err
		}
		if _, err := s.await(MsgTypeProgress); err != nil {
			return nil, err
		}
		sent += int64(n)
		report(progress, sent, file.Size)
	}

	if err := s.send(MsgTypeUploadComplete, uploadID, UploadCompletePayload{
		UploadID:    uploadID,
		FileName:    file.Name,
		TotalChunks: totalChunks,
		TotalSize:   file.Size,
	}); err != nil {
		return nil, err
	}
	done, err := s.await(MsgTypeComplete)
	if err != nil {
		return nil, err
	}

	result := &models.Response{Body: done.Payload}
	var complete WSCompleteResponse
	if err := json.Unmarshal(done.Payload, &complete); err == nil && complete.FileInfo != nil {
		result.Location = complete.FileInfo.ID
	}
	return result, nil
}

type wsSession struct {
	conn *websocket.Conn
}

func (s *wsSession) send(msgType, id string, payload interface{}) error {
	err := s.conn.WriteJSON(WSMessage{
		Type:      msgType,
		ID:        id,
		Payload:   MustJSON(payload),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("sending %s: %w", msgType, err)
	}
	return nil
}

// await reads until a message of the wanted type arrives. Informational
// frames are skipped; an error frame ends the transfer.
func (s *wsSession) await(want string) (*WSMessage, error) {
	for {
		var msg WSMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", want, err)
		}
		switch msg.Type {
		case want:
			return &msg, nil
		case MsgTypeError:
			var e WSErrorResponse
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				return nil, fmt.Errorf("server error (unreadable payload)")
			}
			return nil, fmt.Errorf("server error %s: %s", e.Code, e.Message)
		case MsgTypeConnected, MsgTypeProcessing, MsgTypePong:
			continue
		default:
			return nil, fmt.Errorf("unexpected %q while waiting for %s", msg.Type, want)
		}
	}
}
