// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
)

// FileHandler serves the receiving side: files posted to this server.
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDownloadFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
}

// UploadsHandler controls the outgoing upload manager.
type UploadsHandler interface {
	HandleListUploads(c echo.Context) error
	HandleGetUpload(c echo.Context) error
	HandleStartUploads(c echo.Context) error
	HandleRemoveUpload(c echo.Context) error
	HandleUploadEvents(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// ChunkReceiver accepts the chunked websocket upload protocol.
type ChunkReceiver interface {
	HandleWebSocket(c echo.Context) error
}
