// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/upload"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version   string
	transport string
	manager   *upload.Manager
}

// NewHealthHandler creates a new health handler. manager may be nil.
func NewHealthHandler(version, transport string, manager *upload.Manager) HealthHandler {
	return &HealthHandlerImpl{
		version:   version,
		transport: transport,
		manager:   manager,
	}
}

// HandleHealth returns server health status with upload counts per status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.manager != nil {
		counts := map[models.UploadStatus]int{
			models.UploadStatusReady:     0,
			models.UploadStatusUploading: 0,
			models.UploadStatusSuccess:   0,
			models.UploadStatusError:     0,
		}
		for _, f := range h.manager.Files() {
			counts[f.Status]++
		}
		resp["transport"] = h.transport
		resp["uploads"] = counts
	}
	return c.JSON(http.StatusOK, resp)
}
