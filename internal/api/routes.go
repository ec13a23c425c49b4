// routes.go - Route registration helpers
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/uploadhub/backend/internal/config"
	"github.com/uploadhub/backend/internal/storage"
	"github.com/uploadhub/backend/internal/upload"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store     storage.Store
	UploadMgr *upload.Manager // nil disables the /api/uploads routes
	Config    *config.AppConfig
	Logger    *slog.Logger
	Version   string
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Files    FileHandler
	Receiver ChunkReceiver
	Uploads  UploadsHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	cfg := deps.Config
	h := &Handlers{
		Health: NewHealthHandler(deps.Version, cfg.Upload.Transport, deps.UploadMgr),
		Files: NewFileHandler(deps.Store, FileHandlerConfig{
			FieldName:   cfg.Upload.FieldName,
			MaxSize:     cfg.MaxFileSizeBytes(),
			AllowDelete: cfg.Storage.AllowFileDeletion,
		}, deps.Logger),
		Receiver: NewWebSocketHandler(deps.Store, cfg.MaxFileSizeBytes(), deps.Logger),
	}
	if deps.UploadMgr != nil {
		h.Uploads = NewUploadsHandler(deps.UploadMgr, deps.Logger)
	}
	return h
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Receiving side
	apiGroup.GET("/ws/uploads", handlers.Receiver.HandleWebSocket)
	filesGroup := apiGroup.Group("/files")
	filesGroup.POST("/upload", handlers.Files.HandleUploadFile)
	filesGroup.GET("/recent", handlers.Files.HandleGetRecentFiles)
	filesGroup.GET("/:id", handlers.Files.HandleGetFile)
	filesGroup.GET("/:id/content", handlers.Files.HandleDownloadFile)
	filesGroup.DELETE("/:id", handlers.Files.HandleDeleteFile)
	filesGroup.PUT("/:id", handlers.Files.HandleRenameFile)

	// Upload manager control
	if handlers.Uploads != nil {
		uploadsGroup := apiGroup.Group("/uploads")
		uploadsGroup.GET("", handlers.Uploads.HandleListUploads)
		uploadsGroup.POST("", handlers.Uploads.HandleStartUploads)
		uploadsGroup.GET("/events", handlers.Uploads.HandleUploadEvents)
		uploadsGroup.GET("/:id", handlers.Uploads.HandleGetUpload)
		uploadsGroup.DELETE("/:id", handlers.Uploads.HandleRemoveUpload)
	}
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || strings.HasSuffix(path, "/events")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
}
