package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/uploadhub/backend/internal/storage"
	"github.com/uploadhub/backend/internal/transfer"
)

// UploadSession tracks an in-progress upload over WebSocket
type UploadSession struct {
	ID             string
	FileName       string
	TotalChunks    int
	TotalSize      int64
	ReceivedChunks map[int]int64 // chunk index -> decoded bytes
	ReceivedBytes  int64
	Encoding       string
	CreatedAt      time.Time
}

// WebSocketHandler receives files over the chunked websocket protocol.
// Chunks are written to the store as they arrive and assembled on
// upload:complete.
type WebSocketHandler struct {
	store      storage.Store
	maxSize    int64
	upgrader   websocket.Upgrader
	sessions   map[string]*UploadSession
	sessionsMu sync.Mutex
	logger     *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket upload handler
func NewWebSocketHandler(store storage.Store, maxSize int64, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		store:   store,
		maxSize: maxSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		sessions: make(map[string]*UploadSession),
		logger:   logger,
	}
}

// HandleWebSocket upgrades HTTP connection to WebSocket and handles upload protocol
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	wsh.logger.Debug("websocket client connected", "remote", c.RealIP())

	// Sessions opened on this connection are dropped when it closes.
	owned := make(map[string]bool)
	defer func() {
		for id := range owned {
			wsh.abort(id)
		}
	}()

	wsh.sendMessage(ws, transfer.WSMessage{
		Type:      transfer.MsgTypeConnected,
		Timestamp: time.Now().UnixMilli(),
	})

	for {
		var msg transfer.WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.Warn("websocket connection error", "error", err)
			}
			break
		}

		switch msg.Type {
		case transfer.MsgTypePing:
			wsh.sendMessage(ws, transfer.WSMessage{Type: transfer.MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case transfer.MsgTypeUploadInit:
			if id := wsh.handleUploadInit(ws, msg); id != "" {
				owned[id] = true
			}
		case transfer.MsgTypeUploadChunk:
			wsh.handleUploadChunk(ws, msg)
		case transfer.MsgTypeUploadComplete:
			if id := wsh.handleUploadComplete(ws, msg); id != "" {
				delete(owned, id)
			}
		default:
			wsh.sendError(ws, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	wsh.logger.Debug("websocket client disconnected", "remote", c.RealIP())
	return nil
}

// handleUploadInit opens a session and returns its id, or "" on failure.
func (wsh *WebSocketHandler) handleUploadInit(ws *websocket.Conn, msg transfer.WSMessage) string {
	var payload transfer.UploadInitPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, "Invalid init payload: "+err.Error(), "INVALID_PAYLOAD")
		return ""
	}
	if payload.FileName == "" || payload.TotalChunks <= 0 || payload.TotalSize < 0 {
		wsh.sendError(ws, "fileName, a positive totalChunks and a non-negative totalSize are required", "INVALID_PAYLOAD")
		return ""
	}
	if wsh.maxSize > 0 && payload.TotalSize > wsh.maxSize {
		wsh.sendError(ws, fmt.Sprintf("%s exceeds the %d byte limit", payload.FileName, wsh.maxSize), "PAYLOAD_TOO_LARGE")
		return ""
	}

	session := &UploadSession{
		ID:             uuid.New().String(),
		FileName:       payload.FileName,
		TotalChunks:    payload.TotalChunks,
		TotalSize:      payload.TotalSize,
		ReceivedChunks: make(map[int]int64),
		Encoding:       payload.Encoding,
		CreatedAt:      time.Now(),
	}

	wsh.sessionsMu.Lock()
	wsh.sessions[session.ID] = session
	wsh.sessionsMu.Unlock()

	wsh.sendMessage(ws, transfer.WSMessage{
		Type:      transfer.MsgTypeAck,
		ID:        session.ID,
		Timestamp: time.Now().UnixMilli(),
	})

	wsh.logger.Info("websocket upload initialized", "upload_id", session.ID[:8],
		"file", payload.FileName, "chunks", payload.TotalChunks, "size", payload.TotalSize)
	return session.ID
}

// handleUploadChunk receives and stores a chunk
func (wsh *WebSocketHandler) handleUploadChunk(ws *websocket.Conn, msg transfer.WSMessage) {
	var payload transfer.UploadChunkPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, "Invalid chunk payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	session, ok := wsh.session(payload.UploadID)
	if !ok {
		wsh.sendError(ws, "Upload session not found: "+payload.UploadID, "SESSION_NOT_FOUND")
		return
	}
	if payload.ChunkIndex < 0 || payload.ChunkIndex >= session.TotalChunks {
		wsh.sendError(ws, fmt.Sprintf("Chunk index %d out of range", payload.ChunkIndex), "INVALID_CHUNK")
		return
	}

	chunkData, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		wsh.sendError(ws, "Invalid base64 data: "+err.Error(), "INVALID_DATA")
		return
	}
	size := int64(len(chunkData))

	// Resent chunks replace what was counted for their index.
	wsh.sessionsMu.Lock()
	prev, seen := session.ReceivedChunks[payload.ChunkIndex]
	total := session.ReceivedBytes - prev + size
	var limitErr string
	switch {
	case wsh.maxSize > 0 && total > wsh.maxSize:
		limitErr = fmt.Sprintf("%s exceeds the %d byte limit", session.FileName, wsh.maxSize)
	case total > session.TotalSize:
		limitErr = fmt.Sprintf("%s exceeds its declared size of %d bytes", session.FileName, session.TotalSize)
	default:
		session.ReceivedChunks[payload.ChunkIndex] = size
		session.ReceivedBytes = total
	}
	wsh.sessionsMu.Unlock()
	if limitErr != "" {
		wsh.sendError(ws, limitErr, "PAYLOAD_TOO_LARGE")
		wsh.abort(session.ID)
		return
	}

	if err := wsh.store.SaveChunk(session.ID, payload.ChunkIndex, bytes.NewReader(chunkData)); err != nil {
		wsh.sessionsMu.Lock()
		if seen {
			session.ReceivedChunks[payload.ChunkIndex] = prev
		} else {
			delete(session.ReceivedChunks, payload.ChunkIndex)
		}
		session.ReceivedBytes -= size - prev
		wsh.sessionsMu.Unlock()
		wsh.sendError(ws, "Failed to save chunk: "+err.Error(), "SAVE_ERROR")
		return
	}

	wsh.sessionsMu.Lock()
	received := len(session.ReceivedChunks)
	receivedBytes := session.ReceivedBytes
	wsh.sessionsMu.Unlock()

	progress := float64(received) / float64(session.TotalChunks) * 100
	wsh.sendMessage(ws, transfer.WSMessage{
		Type:      transfer.MsgTypeProgress,
		ID:        session.ID,
		Timestamp: time.Now().UnixMilli(),
		Payload: transfer.MustJSON(transfer.WSProgressResponse{
			Type:     transfer.MsgTypeProgress,
			UploadID: session.ID,
			Progress: progress,
			Received: receivedBytes,
			Stage:    "uploading",
			Message:  fmt.Sprintf("Received chunk %d/%d", received, session.TotalChunks),
		}),
	})
}

// handleUploadComplete assembles the chunks and returns the finished
// session id, or "" when the session stays open.
func (wsh *WebSocketHandler) handleUploadComplete(ws *websocket.Conn, msg transfer.WSMessage) string {
	var payload transfer.UploadCompletePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, "Invalid complete payload: "+err.Error(), "INVALID_PAYLOAD")
		return ""
	}

	session, ok := wsh.session(payload.UploadID)
	if !ok {
		wsh.sendError(ws, "Upload session not found: "+payload.UploadID, "SESSION_NOT_FOUND")
		return ""
	}

	wsh.sessionsMu.Lock()
	received := len(session.ReceivedChunks)
	wsh.sessionsMu.Unlock()
	if received != session.TotalChunks {
		wsh.sendError(ws, fmt.Sprintf("Missing chunks: got %d, expected %d",
			received, session.TotalChunks), "INCOMPLETE_UPLOAD")
		return ""
	}

	wsh.sendMessage(ws, transfer.WSMessage{
		Type:      transfer.MsgTypeProcessing,
		ID:        session.ID,
		Timestamp: time.Now().UnixMilli(),
		Payload: transfer.MustJSON(transfer.WSProgressResponse{
			Type:     transfer.MsgTypeProcessing,
			UploadID: session.ID,
			Progress: 100,
			Stage:    "assembling",
			Message:  "Assembling file chunks...",
		}),
	})

	encoding := session.Encoding
	if payload.Encoding != "" {
		encoding = payload.Encoding
	}
	name := session.FileName
	if payload.FileName != "" {
		name = payload.FileName
	}

	wsh.sessionsMu.Lock()
	delete(wsh.sessions, session.ID)
	wsh.sessionsMu.Unlock()

	info, err := wsh.store.CompleteChunkedUpload(session.ID, name, session.TotalChunks, encoding, wsh.maxSize)
	if errors.Is(err, storage.ErrTooLarge) {
		wsh.sendError(ws, fmt.Sprintf("%s exceeds the %d byte limit", name, wsh.maxSize), "PAYLOAD_TOO_LARGE")
		return session.ID
	}
	if err != nil {
		wsh.sendError(ws, "Failed to save file: "+err.Error(), "SAVE_ERROR")
		return session.ID
	}

	wsh.sendMessage(ws, transfer.WSMessage{
		Type:      transfer.MsgTypeComplete,
		ID:        session.ID,
		Timestamp: time.Now().UnixMilli(),
		Payload: transfer.MustJSON(transfer.WSCompleteResponse{
			Type:     transfer.MsgTypeComplete,
			UploadID: session.ID,
			FileInfo: info,
		}),
	})

	wsh.logger.Info("websocket upload complete", "upload_id", session.ID[:8], "file_id", info.ID, "size", info.Size)
	return session.ID
}

func (wsh *WebSocketHandler) session(id string) (*UploadSession, bool) {
	wsh.sessionsMu.Lock()
	defer wsh.sessionsMu.Unlock()
	s, ok := wsh.sessions[id]
	return s, ok
}

func (wsh *WebSocketHandler) abort(id string) {
	wsh.sessionsMu.Lock()
	_, open := wsh.sessions[id]
	delete(wsh.sessions, id)
	wsh.sessionsMu.Unlock()
	if !open {
		return
	}
	if err := wsh.store.AbortChunkedUpload(id); err != nil {
		wsh.logger.Warn("discarding chunks failed", "upload_id", id[:8], "error", err)
	}
	wsh.logger.Info("websocket upload abandoned", "upload_id", id[:8])
}

// Helper methods

func (wsh *WebSocketHandler) sendMessage(ws *websocket.Conn, msg transfer.WSMessage) {
	if err := ws.WriteJSON(msg); err != nil {
		wsh.logger.Warn("websocket send failed", "type", msg.Type, "error", err)
	}
}

func (wsh *WebSocketHandler) sendError(ws *websocket.Conn, message, code string) {
	wsh.sendMessage(ws, transfer.WSMessage{
		Type:      transfer.MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload: transfer.MustJSON(transfer.WSErrorResponse{
			Type:    transfer.MsgTypeError,
			Message: message,
			Code:    code,
		}),
	})
}
