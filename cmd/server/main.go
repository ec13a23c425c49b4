package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uploadhub/backend/internal/api"
	"github.com/uploadhub/backend/internal/config"
	"github.com/uploadhub/backend/internal/filter"
	"github.com/uploadhub/backend/internal/logging"
	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/storage"
	"github.com/uploadhub/backend/internal/transfer"
	"github.com/uploadhub/backend/internal/upload"
	"github.com/uploadhub/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "uploadhub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Config defaults to the executable's directory
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	configPath := flag.String("config", filepath.Join(filepath.Dir(exePath), "uploadhub.config"), "path to the XML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger := logging.New("uploadhub", cfg.Advanced.LogLevel)
	api.ShowErrorDetails = logging.ParseLevel(cfg.Advanced.LogLevel) == slog.LevelDebug

	// Received-file storage with its DuckDB catalog
	storeOpts := []storage.StoreOption{storage.WithStoreLogger(logger)}
	if cfg.Storage.CatalogPath != "" {
		catalog, err := storage.OpenDuckCatalog(cfg.Storage.CatalogPath, storage.CatalogOptions{
			Threads:     cfg.Advanced.DuckDBThreads,
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		defer catalog.Close()
		storeOpts = append(storeOpts, storage.WithCatalog(catalog))
	}
	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir(), storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Outgoing upload manager
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	channel, err := transfer.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create %s transfer channel: %w", cfg.Upload.Transport, err)
	}
	uploadMgr, err := newUploadManager(cfg, channel, logger)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e, cfg)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:     fileStore,
		UploadMgr: uploadMgr,
		Config:    cfg,
		Logger:    logger,
		Version:   Version,
	}))
	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("failed to register static routes", "error", err)
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           UploadHub Server                                ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Transport:  %-45s║\n", cfg.Upload.Transport)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", *configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newUploadManager builds the manager with the configured filters and seed
// list. Outcomes are logged by the manager itself.
func newUploadManager(cfg *config.AppConfig, channel transfer.Channel, logger *slog.Logger) (*upload.Manager, error) {
	var seed []models.TrackedFile
	if cfg.Upload.SeedFile != "" {
		var err error
		seed, err = upload.LoadSeedFile(cfg.Upload.SeedFile)
		if err != nil {
			return nil, err
		}
	}
	mgr, err := upload.NewManager(channel,
		upload.WithFilter(filter.FromConfig(cfg)),
		upload.WithLogger(logger),
		upload.WithDefaultFiles(seed),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload manager: %w", err)
	}
	return mgr, nil
}
