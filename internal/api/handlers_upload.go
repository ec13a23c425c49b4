// handlers_upload.go - Handlers for files received by this server
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/uploadhub/backend/internal/storage"
	"github.com/uploadhub/backend/internal/transfer"
)

// defaultRecentLimit is how many files /api/files/recent returns by default.
const defaultRecentLimit = 20

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store       storage.Store
	fieldName   string
	maxSize     int64
	allowDelete bool
	logger      *slog.Logger
}

// FileHandlerConfig configures the receiving endpoint.
type FileHandlerConfig struct {
	FieldName   string // multipart field carrying the file, "file" when empty
	MaxSize     int64  // zero disables the limit
	AllowDelete bool
}

// NewFileHandler creates a new file handler instance
func NewFileHandler(store storage.Store, cfg FileHandlerConfig, logger *slog.Logger) FileHandler {
	if cfg.FieldName == "" {
		cfg.FieldName = transfer.DefaultFieldName
	}
	return &FileHandlerImpl{
		store:       store,
		fieldName:   cfg.FieldName,
		maxSize:     cfg.MaxSize,
		allowDelete: cfg.AllowDelete,
		logger:      logger,
	}
}

// HandleUploadFile accepts a multipart/form-data upload. Every other form
// value is stored alongside the file.
func (h *FileHandlerImpl) HandleUploadFile(c echo.Context) error {
	file, err := c.FormFile(h.fieldName)
	if err != nil {
		return NewBadRequestError("no file provided in field "+h.fieldName, err)
	}
	if h.maxSize > 0 && file.Size > h.maxSize {
		return NewPayloadTooLargeError(file.Filename, h.maxSize)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}
	var fields map[string]string
	for name, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		if fields == nil {
			fields = make(map[string]string, len(form.Value))
		}
		fields[name] = values[0]
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, file.Header.Get(echo.HeaderContentType), fields, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	h.logger.Info("file received", "file_id", info.ID, "name", info.Name, "size", info.Size)
	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns the most recently received files
func (h *FileHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := defaultRecentLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return storeError(err, id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDownloadFile streams the stored content back under its display name
func (h *FileHandlerImpl) HandleDownloadFile(c echo.Context) error {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		return storeError(err, id)
	}
	path, err := h.store.GetFilePath(id)
	if err != nil {
		return storeError(err, id)
	}
	return c.Attachment(path, info.Name)
}

// HandleDeleteFile deletes a stored file
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	if !h.allowDelete {
		return NewForbiddenError("file deletion is disabled")
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return storeError(err, id)
	}
	h.logger.Info("file deleted", "file_id", id)
	return c.NoContent(http.StatusNoContent)
}

// HandleRenameFile updates the name of a file
func (h *FileHandlerImpl) HandleRenameFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var req renameFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Name == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(id, req.Name)
	if err != nil {
		return storeError(err, id)
	}
	return c.JSON(http.StatusOK, info)
}

type renameFileRequest struct {
	Name string `json:"name"`
}

// storeError maps storage failures to API errors.
func storeError(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError("file", id)
	}
	return NewInternalError("storage failure", err)
}
