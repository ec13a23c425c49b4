// handlers_uploads.go - Control API for the outgoing upload manager
package api

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/upload"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEApplicationMsgpack selects the binary listing format.
const MIMEApplicationMsgpack = "application/msgpack"

// selectionField is the multipart field carrying files to upload.
const selectionField = "files"

// eventsWriteWait bounds a single write to a feed subscriber.
const eventsWriteWait = 10 * time.Second

// UploadsHandlerImpl implements the UploadsHandler interface
type UploadsHandlerImpl struct {
	manager  *upload.Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewUploadsHandler creates a new handler for the upload manager
func NewUploadsHandler(manager *upload.Manager, logger *slog.Logger) UploadsHandler {
	return &UploadsHandlerImpl{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger,
	}
}

// uploadList is the listing payload.
type uploadList struct {
	Files []models.TrackedFile `json:"files" msgpack:"files"`
	Total int                  `json:"total" msgpack:"total"`
}

// HandleListUploads returns the tracked files, newest first. Clients that
// accept application/msgpack get the binary encoding.
func (h *UploadsHandlerImpl) HandleListUploads(c echo.Context) error {
	files := h.manager.Files()
	list := uploadList{Files: files, Total: len(files)}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEApplicationMsgpack) {
		data, err := msgpack.Marshal(list)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
	}
	return c.JSON(http.StatusOK, list)
}

// HandleGetUpload returns one tracked file
func (h *UploadsHandlerImpl) HandleGetUpload(c echo.Context) error {
	id := c.Param("id")
	f, ok := h.manager.Registry().Get(id)
	if !ok {
		return NewNotFoundError("upload", id)
	}
	return c.JSON(http.StatusOK, f)
}

// HandleStartUploads takes a multipart selection of files and hands them to
// the manager. It returns before any transfer completes.
func (h *UploadsHandlerImpl) HandleStartUploads(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}
	headers := form.File[selectionField]
	if len(headers) == 0 {
		return NewValidationError(selectionField)
	}

	// Multipart temp files are gone once the request ends, so the content
	// is copied before the transfers start.
	files := make([]*models.File, 0, len(headers))
	names := make([]string, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			return NewInternalError("failed to open "+fh.Filename, err)
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return NewInternalError("failed to read "+fh.Filename, err)
		}
		f := models.FileFromBytes(fh.Filename, data)
		f.ContentType = fh.Header.Get(echo.HeaderContentType)
		files = append(files, f)
		names = append(names, fh.Filename)
	}

	h.manager.Upload(c.Request().Context(), files)
	h.logger.Info("upload batch started", "files", len(files))

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"accepted": names,
		"count":    len(names),
	})
}

// HandleRemoveUpload removes a tracked file from the list
func (h *UploadsHandlerImpl) HandleRemoveUpload(c echo.Context) error {
	id := c.Param("id")
	if !h.manager.Remove(id) {
		return NewNotFoundError("upload", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// feedMessage is one frame of the events feed.
type feedMessage struct {
	Type  string               `json:"type"`
	File  *models.TrackedFile  `json:"file,omitempty"`
	Files []models.TrackedFile `json:"files,omitempty"`
}

// HandleUploadEvents streams registry changes over a websocket. The first
// frame is a snapshot; every later frame is one added, updated or removed
// entry. The subscription is taken before the snapshot, so a change made
// between the two is both in the snapshot and sent again as its own frame:
// clients apply frames by id (an added id already listed replaces the old
// row) and end up at the registry's state. A client that falls too far
// behind is disconnected with CloseTryAgainLater and should reconnect for
// a fresh snapshot.
func (h *UploadsHandlerImpl) HandleUploadEvents(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// Subscribe before the snapshot so no change falls between the two.
	events, cancel := h.manager.Registry().Subscribe()
	defer cancel()

	if err := writeFeed(ws, feedMessage{Type: "snapshot", Files: h.manager.Files()}); err != nil {
		return nil
	}

	// The feed is one-way; reading only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.logger.Debug("events feed evicted a slow client", "remote", c.RealIP())
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "feed fell behind"),
					time.Now().Add(eventsWriteWait))
				return nil
			}
			file := ev.File
			if err := writeFeed(ws, feedMessage{Type: string(ev.Type), File: &file}); err != nil {
				h.logger.Debug("events feed closed", "error", err)
				return nil
			}
		case <-gone:
			return nil
		}
	}
}

func writeFeed(ws *websocket.Conn, msg feedMessage) error {
	ws.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	return ws.WriteJSON(msg)
}
